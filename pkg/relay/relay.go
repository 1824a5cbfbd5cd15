// Package relay is the bidirectional bridge between worker sockets and
// browser subscribers. The worker side speaks newline-delimited JSON; the
// browser side speaks typed envelopes. Session status is owned by the
// session store, never derived here.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hq-ai/hq/pkg/auth"
	"github.com/hq-ai/hq/pkg/events"
	"github.com/hq-ai/hq/pkg/models"
	"github.com/hq-ai/hq/pkg/registry"
	"github.com/hq-ai/hq/pkg/services"
)

// DefaultKeepalive is how long a worker may go without emitting a single
// frame before it is considered dead and its session errored. Transport
// pings do not count; a worker process can answer those while wedged.
const DefaultKeepalive = 10 * time.Minute

// Relay wires the socket registry to the domain services.
type Relay struct {
	registry  *registry.Registry
	sessions  *services.SessionService
	messages  *services.MessageService
	workers   *services.WorkerService
	questions *services.QuestionService
	tokens    *auth.TokenStore

	keepalive time.Duration
	logger    *slog.Logger
}

// New creates a relay and subscribes it to question answers, so a blocked
// worker resumes no matter where its answer came from (browser, HTTP API,
// or a provider callback).
func New(reg *registry.Registry, sessions *services.SessionService, messages *services.MessageService,
	workers *services.WorkerService, questions *services.QuestionService, tokens *auth.TokenStore) *Relay {
	r := &Relay{
		registry:  reg,
		sessions:  sessions,
		messages:  messages,
		workers:   workers,
		questions: questions,
		tokens:    tokens,
		keepalive: DefaultKeepalive,
		logger:    slog.Default().With("component", "relay"),
	}
	questions.OnQuestionAnswered(r.resumeWorker)
	return r
}

// SetKeepalive overrides the worker frame deadline.
func (r *Relay) SetKeepalive(d time.Duration) { r.keepalive = d }

// AttachWorker authenticates and registers a worker socket for its session.
// The single-use access token is consumed here. The session's initial
// prompt is enqueued before this returns, so it is the first frame the
// worker receives regardless of what the worker has already sent.
func (r *Relay) AttachWorker(ctx context.Context, sessionID, token string, sock registry.Socket) (*registry.Connection, error) {
	sess, err := r.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, fmt.Errorf("%w: session is %s", services.ErrConflict, sess.Status)
	}
	if err := r.tokens.Consume(sessionID, token); err != nil {
		return nil, err
	}

	if _, err := r.workers.Register(sess.WorkerID, "", models.WorkerRunning); err != nil {
		return nil, err
	}
	r.workers.AttachSession(sess.WorkerID, sessionID)

	conn := r.registry.Register(ctx, registry.WorkerKey(sessionID), sock)

	prompt, err := events.WorkerUserFrame(sess.InitialPrompt)
	if err != nil {
		return nil, fmt.Errorf("encode initial prompt: %w", err)
	}
	conn.Enqueue(prompt)

	msg := r.messages.Append(sessionID, models.MessageUser, sess.InitialPrompt, nil)
	r.broadcastMessage(sessionID, msg, nil)

	if err := r.sessions.AdvancePhase(sessionID, models.PhaseInitializing); err != nil {
		r.logger.Warn("Failed to advance startup phase", "session_id", sessionID, "error", err)
	}

	r.logger.Info("Worker attached", "session_id", sessionID, "worker_id", sess.WorkerID)
	return conn, nil
}

// PumpWorker reads worker messages until the read function fails, then runs
// the disconnect handling. read is typically a closure over the websocket.
// Each read carries the keepalive deadline: a worker that stays byte-silent
// past it is treated as dead and its session errors.
func (r *Relay) PumpWorker(ctx context.Context, sessionID string, conn *registry.Connection,
	read func(context.Context) ([]byte, error)) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, r.keepalive)
		data, err := read(readCtx)
		cancel()
		if err != nil {
			if readCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				r.logger.Warn("Worker keepalive expired", "session_id", sessionID)
				if failErr := r.sessions.Fail(sessionID, "Worker keepalive timeout"); failErr != nil {
					r.logger.Warn("Failed to error session on keepalive",
						"session_id", sessionID, "error", failErr)
				}
			}
			break
		}
		for _, line := range events.SplitWorkerFrames(data) {
			r.HandleWorkerLine(sessionID, line)
		}
	}
	r.WorkerClosed(sessionID, conn)
}

// HandleWorkerLine processes one newline-delimited worker frame. Malformed
// or unrecognized frames are logged and dropped; the worker channel is
// never failed for them.
func (r *Relay) HandleWorkerLine(sessionID string, line []byte) {
	frame, err := events.DecodeWorkerFrame(line)
	if err != nil {
		r.logger.Warn("Dropping malformed worker frame", "session_id", sessionID, "error", err)
		return
	}
	if !events.KnownWorkerFrameType(frame.Type) {
		r.logger.Warn("Dropping unknown worker frame type",
			"session_id", sessionID, "type", frame.Type)
		return
	}

	r.sessions.Touch(sessionID)

	switch frame.Type {
	case events.WorkerFrameSystem:
		r.handleSystem(sessionID, frame)
	case events.WorkerFrameUser, events.WorkerFrameAssistant,
		events.WorkerFrameToolUse, events.WorkerFrameToolResult:
		r.handleMessage(sessionID, frame)
	case events.WorkerFrameQuestion:
		r.handleQuestion(sessionID, frame)
	case events.WorkerFrameResult:
		r.handleResult(sessionID, frame)
	case events.WorkerFrameStream:
		r.broadcast(sessionID, events.TypeSessionStream, events.SessionStreamPayload{
			SessionID: sessionID, Event: frame.Event})
	case events.WorkerFramePermissionRequest:
		r.broadcast(sessionID, events.TypeSessionPermissionRequest, events.SessionPermissionRequestPayload{
			SessionID: sessionID, RequestID: frame.RequestID,
			ToolName: frame.ToolName, Input: frame.Input})
	case events.WorkerFrameToolProgress:
		r.broadcast(sessionID, events.TypeSessionToolProgress, events.SessionToolProgressPayload{
			SessionID: sessionID, ToolUseID: frame.ToolUseID, Progress: frame.Progress})
	}
}

// handleSystem reacts to system frames. The init subtype is the readiness
// signal: it flips the session active and records the worker's declared
// capabilities. Other system frames are persisted as system messages.
func (r *Relay) handleSystem(sessionID string, frame *events.WorkerFrame) {
	if frame.Subtype == events.SubtypeInit {
		if err := r.sessions.MarkActive(sessionID, frame.Capabilities); err != nil {
			r.logger.Warn("Init frame for unknown session", "session_id", sessionID, "error", err)
		}
		return
	}
	msg := r.messages.Append(sessionID, models.MessageSystem, frame.Content, frame.Metadata)
	r.broadcastMessage(sessionID, msg, frame.Raw)
}

func (r *Relay) handleMessage(sessionID string, frame *events.WorkerFrame) {
	msg := r.messages.Append(sessionID, models.MessageKind(frame.Type), frame.Content, frame.Metadata)
	r.broadcastMessage(sessionID, msg, frame.Raw)
}

// handleQuestion hands the frame to the blocker. The waiting state reaches
// browsers through the session_status broadcast the blocker triggers.
func (r *Relay) handleQuestion(sessionID string, frame *events.WorkerFrame) {
	workerID := r.workerID(sessionID)
	if workerID == "" {
		return
	}
	options := make([]models.QuestionOption, 0, len(frame.Options))
	for _, opt := range frame.Options {
		options = append(options, models.QuestionOption{ID: opt.ID, Text: opt.Text})
	}
	if _, err := r.questions.Ask(workerID, frame.Text, options); err != nil {
		r.logger.Warn("Rejected worker question",
			"session_id", sessionID, "worker_id", workerID, "error", err)
	}
}

// handleResult persists the terminal result, broadcasts it, and stops the
// session. The result broadcast precedes the terminal status broadcast.
func (r *Relay) handleResult(sessionID string, frame *events.WorkerFrame) {
	msg := r.messages.Append(sessionID, models.MessageResult, frame.Content, frame.Metadata)
	r.broadcastMessage(sessionID, msg, frame.Raw)
	r.broadcast(sessionID, events.TypeSessionResult, events.SessionResultPayload{
		SessionID: sessionID, Result: frame.Result})

	workerID := r.workerID(sessionID)
	if workerID != "" {
		_ = r.workers.SetStatus(workerID, models.WorkerStopped)
	}
	if err := r.sessions.Stop(sessionID, "Completed"); err != nil {
		r.logger.Warn("Failed to stop session on result", "session_id", sessionID, "error", err)
	}
}

// WorkerClosed runs when a worker socket goes away: the registry entry is
// released, any blocked question is cancelled, and an active session stops.
func (r *Relay) WorkerClosed(sessionID string, conn *registry.Connection) {
	r.registry.Remove(registry.WorkerKey(sessionID), conn)
	if workerID := r.workerID(sessionID); workerID != "" {
		r.questions.CancelForWorker(workerID)
		_ = r.workers.SetStatus(workerID, models.WorkerStopped)
	}
	r.sessions.HandleWorkerDisconnect(sessionID)
	r.logger.Info("Worker detached", "session_id", sessionID)
}

// resumeWorker forwards an answer to the blocked worker as a user frame.
func (r *Relay) resumeWorker(q *models.PendingQuestion) {
	sessionID := r.workers.SessionID(q.WorkerID)
	if sessionID == "" {
		return
	}
	conn, ok := r.registry.Get(registry.WorkerKey(sessionID))
	if !ok {
		r.logger.Warn("Answer arrived for detached worker",
			"worker_id", q.WorkerID, "question_id", q.QuestionID)
		return
	}
	frame, err := events.WorkerUserFrame(q.Answer)
	if err != nil {
		r.logger.Error("Failed to encode answer frame", "question_id", q.QuestionID, "error", err)
		return
	}
	conn.Enqueue(frame)
}

// SendToWorker enqueues raw NDJSON bytes on the session's worker socket.
func (r *Relay) SendToWorker(sessionID string, frame []byte) error {
	conn, ok := r.registry.Get(registry.WorkerKey(sessionID))
	if !ok {
		return fmt.Errorf("%w: no worker attached", services.ErrNotFound)
	}
	conn.Enqueue(frame)
	return nil
}

func (r *Relay) workerID(sessionID string) string {
	sess, err := r.sessions.Get(sessionID)
	if err != nil {
		return ""
	}
	return sess.WorkerID
}

func (r *Relay) broadcast(sessionID, eventType string, payload any) {
	env, err := events.NewEnvelope(eventType, payload)
	if err != nil {
		r.logger.Warn("Failed to build envelope", "type", eventType, "error", err)
		return
	}
	r.registry.BroadcastToSession(sessionID, env)
}

func (r *Relay) broadcastMessage(sessionID string, msg *models.SessionMessage, raw []byte) {
	r.broadcast(sessionID, events.TypeSessionMessage, events.SessionMessagePayload{
		SessionID:   sessionID,
		MessageType: string(msg.Kind),
		Content:     msg.Content,
		Raw:         raw,
	})
}

// now is split out for the pong payload; envelopes stamp themselves.
func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
