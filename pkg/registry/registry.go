package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hq-ai/hq/pkg/events"
)

// ReasonReplaced is the close reason sent to a connection displaced by a
// newer one under the same key.
const ReasonReplaced = "New connection established"

// DefaultHeartbeatInterval is the ping cadence for liveness checks.
const DefaultHeartbeatInterval = 30 * time.Second

// pingTimeout bounds a single heartbeat ping round-trip.
const pingTimeout = 10 * time.Second

// maxPingMisses is how many consecutive unanswered pings a connection may
// accumulate before it is closed and removed.
const maxPingMisses = 2

// Registry is the process-wide mapping from connection key to live socket.
// Mutations hold a single lock with brief critical sections; no I/O happens
// under the lock.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Connection

	queueSize    int
	writeTimeout time.Duration
	logger       *slog.Logger
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		conns:        make(map[string]*Connection),
		queueSize:    DefaultSendQueueSize,
		writeTimeout: 10 * time.Second,
		logger:       slog.Default().With("component", "registry"),
	}
}

// Register wraps the socket in a Connection, atomically replacing any prior
// connection under the same key. The displaced connection is closed with
// code 1000 and reason "New connection established". Concurrent registers
// for one key resolve so the last caller's connection survives.
func (r *Registry) Register(ctx context.Context, key string, sock Socket) *Connection {
	conn := NewConnection(ctx, key, sock, r.queueSize, r.writeTimeout)

	r.mu.Lock()
	prev := r.conns[key]
	r.conns[key] = conn
	r.mu.Unlock()

	if prev != nil {
		prev.close(websocket.StatusNormalClosure, ReasonReplaced)
		r.logger.Info("Replaced existing connection", "key", key)
	}

	go conn.writeLoop(func(c *Connection) { r.Remove(key, c) })
	return conn
}

// Remove deletes the connection, but only if it is still the registered one
// for its key. A stale close must not remove a newer socket.
func (r *Registry) Remove(key string, conn *Connection) {
	r.mu.Lock()
	current, ok := r.conns[key]
	if ok && current == conn {
		delete(r.conns, key)
	}
	r.mu.Unlock()

	if ok && current == conn {
		conn.close(websocket.StatusNormalClosure, "")
	}
}

// Get returns the live connection for a key, if any.
func (r *Registry) Get(key string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[key]
	return c, ok
}

// GetAll returns a snapshot of all live connections.
func (r *Registry) GetAll() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Size returns the count of live connections.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// SendEnvelope enqueues an envelope on a single connection. A send failure
// surfaces later in the connection's write loop; enqueue itself never blocks.
func (r *Registry) SendEnvelope(conn *Connection, env events.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		r.logger.Warn("Failed to marshal envelope", "type", env.Type, "error", err)
		return
	}
	conn.Enqueue(data)
}

// BroadcastToSession delivers an envelope to every browser connection
// subscribed to the session. Per-connection ordering is preserved by each
// connection's own output queue; a failing connection is removed by its
// write loop without affecting the rest of the broadcast.
func (r *Registry) BroadcastToSession(sessionID string, env events.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		r.logger.Warn("Failed to marshal envelope", "type", env.Type, "error", err)
		return
	}

	// Snapshot under the lock, send outside it.
	r.mu.Lock()
	targets := make([]*Connection, 0, len(r.conns))
	for key, c := range r.conns {
		if IsWorkerKey(key) {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		if c.SubscribedTo(sessionID) {
			c.Enqueue(data)
		}
	}
}

// BroadcastAll delivers an envelope to every browser connection regardless
// of subscriptions. Fleet-catalogue events use this path.
func (r *Registry) BroadcastAll(env events.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		r.logger.Warn("Failed to marshal envelope", "type", env.Type, "error", err)
		return
	}

	r.mu.Lock()
	targets := make([]*Connection, 0, len(r.conns))
	for key, c := range r.conns {
		if IsWorkerKey(key) {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		c.Enqueue(data)
	}
}

// HasWorker reports whether a worker socket is attached for the session.
func (r *Registry) HasWorker(sessionID string) bool {
	_, ok := r.Get(WorkerKey(sessionID))
	return ok
}

// SubscriberCount returns the number of browser connections subscribed to
// the session.
func (r *Registry) SubscriberCount(sessionID string) int {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for key, c := range r.conns {
		if !IsWorkerKey(key) {
			conns = append(conns, c)
		}
	}
	r.mu.Unlock()

	count := 0
	for _, c := range conns {
		if c.SubscribedTo(sessionID) {
			count++
		}
	}
	return count
}

// CloseWorker closes and removes the session's worker socket with a normal
// closure and the given reason.
func (r *Registry) CloseWorker(sessionID, reason string) {
	key := WorkerKey(sessionID)
	conn, ok := r.Get(key)
	if !ok {
		return
	}
	conn.close(websocket.StatusNormalClosure, reason)
	r.Remove(key, conn)
}

// RunHeartbeat pings every connection on the interval until ctx is
// cancelled. A connection that misses two consecutive pings is closed and
// removed; a pong resets the miss count and refreshes lastPing.
func (r *Registry) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pingAll(ctx)
		}
	}
}

func (r *Registry) pingAll(ctx context.Context) {
	r.mu.Lock()
	type entry struct {
		key  string
		conn *Connection
	}
	snapshot := make([]entry, 0, len(r.conns))
	for k, c := range r.conns {
		snapshot = append(snapshot, entry{k, c})
	}
	r.mu.Unlock()

	for _, e := range snapshot {
		go func(key string, conn *Connection) {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			if err := conn.sock.Ping(pingCtx); err != nil {
				misses := conn.pingMiss.Add(1)
				conn.isAlive.Store(false)
				if misses >= maxPingMisses {
					r.logger.Info("Closing unresponsive connection",
						"key", key, "misses", misses)
					r.Remove(key, conn)
				}
				return
			}
			conn.pingMiss.Store(0)
			conn.isAlive.Store(true)
			conn.lastPing.Store(time.Now().UnixNano())
		}(e.key, e.conn)
	}
}
