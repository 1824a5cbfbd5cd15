// Package registry tracks live WebSocket connections process-wide.
//
// Each Go process has one Registry. Keys are deviceId for browser
// connections and "relay:<sessionId>" for worker connections; no two live
// connections share a key.
package registry

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// DefaultSendQueueSize bounds the per-connection outbound queue. Overflow
// drops the oldest queued frame and increments the dropped counter. A slow
// browser never backpressures the worker pump.
const DefaultSendQueueSize = 1024

// WorkerKeyPrefix namespaces worker connection keys.
const WorkerKeyPrefix = "relay:"

// WorkerKey returns the registry key for a session's worker connection.
func WorkerKey(sessionID string) string {
	return WorkerKeyPrefix + sessionID
}

// IsWorkerKey reports whether the key belongs to a worker connection.
func IsWorkerKey(key string) bool {
	return strings.HasPrefix(key, WorkerKeyPrefix)
}

// Socket is the transport surface the registry needs from a connection.
// *websocket.Conn satisfies it; tests substitute in-memory fakes.
type Socket interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Connection is one registered socket with its outbound queue and
// subscription set. Browser connections subscribe to sessions; worker
// connections have an empty subscription set.
type Connection struct {
	Key  string
	sock Socket

	ctx    context.Context
	cancel context.CancelFunc

	send      chan []byte
	dropped   atomic.Int64
	closeOnce sync.Once

	// Liveness, maintained by the heartbeat loop.
	isAlive   atomic.Bool
	lastPing  atomic.Int64 // unix nanos of last pong
	pingMiss  atomic.Int32
	writeTime time.Duration

	subMu         sync.RWMutex
	subscriptions map[string]bool
}

// NewConnection wraps a socket for registration. The parent context bounds
// the connection's lifetime; cancelling it stops the writer.
func NewConnection(parent context.Context, key string, sock Socket, queueSize int, writeTimeout time.Duration) *Connection {
	if queueSize <= 0 {
		queueSize = DefaultSendQueueSize
	}
	ctx, cancel := context.WithCancel(parent)
	c := &Connection{
		Key:           key,
		sock:          sock,
		ctx:           ctx,
		cancel:        cancel,
		send:          make(chan []byte, queueSize),
		writeTime:     writeTimeout,
		subscriptions: make(map[string]bool),
	}
	c.isAlive.Store(true)
	c.lastPing.Store(time.Now().UnixNano())
	return c
}

// Enqueue queues a frame for delivery. When the queue is full the oldest
// frame is discarded to make room and the dropped counter incremented.
// Returns false once the connection is closed.
func (c *Connection) Enqueue(data []byte) bool {
	for {
		select {
		case <-c.ctx.Done():
			return false
		case c.send <- data:
			return true
		default:
		}
		// Queue full: drop the oldest and retry.
		select {
		case <-c.send:
			c.dropped.Add(1)
		default:
		}
	}
}

// Dropped returns the count of frames discarded due to queue overflow.
func (c *Connection) Dropped() int64 {
	return c.dropped.Load()
}

// Subscribe adds a session to the connection's subscription set.
func (c *Connection) Subscribe(sessionID string) {
	c.subMu.Lock()
	c.subscriptions[sessionID] = true
	c.subMu.Unlock()
}

// Unsubscribe removes a session from the subscription set.
func (c *Connection) Unsubscribe(sessionID string) {
	c.subMu.Lock()
	delete(c.subscriptions, sessionID)
	c.subMu.Unlock()
}

// SubscribedTo reports whether the connection is subscribed to a session.
func (c *Connection) SubscribedTo(sessionID string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[sessionID]
}

// Subscriptions returns a snapshot of the subscribed session ids.
func (c *Connection) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		out = append(out, id)
	}
	return out
}

// LastPing returns the time of the last observed pong.
func (c *Connection) LastPing() time.Time {
	return time.Unix(0, c.lastPing.Load())
}

// IsAlive reports heartbeat liveness.
func (c *Connection) IsAlive() bool {
	return c.isAlive.Load()
}

// close cancels the writer and closes the socket with the given status.
func (c *Connection) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.sock.Close(code, reason)
	})
}

// writeLoop drains the send queue onto the socket. A failed write tears the
// connection down; the registry's removal callback runs afterwards.
func (c *Connection) writeLoop(onError func(*Connection)) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, c.writeTime)
			err := c.sock.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.close(websocket.StatusAbnormalClosure, "write failed")
				if onError != nil {
					onError(c)
				}
				return
			}
		}
	}
}
