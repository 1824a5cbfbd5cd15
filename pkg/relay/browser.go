package relay

import (
	"errors"
	"time"

	"github.com/hq-ai/hq/pkg/events"
	"github.com/hq-ai/hq/pkg/models"
	"github.com/hq-ai/hq/pkg/registry"
	"github.com/hq-ai/hq/pkg/services"
)

// HandleClientData decodes and dispatches one browser frame. A returned
// *events.ProtocolError means the contract was violated and the caller must
// fail the connection; recoverable conditions are answered with an error
// envelope instead.
func (r *Relay) HandleClientData(conn *registry.Connection, data []byte) error {
	msg, err := events.DecodeClientMessage(data)
	if err != nil {
		return err
	}
	return r.handleClient(conn, msg)
}

func (r *Relay) handleClient(conn *registry.Connection, msg *events.ClientMessage) error {
	switch msg.Type {
	case events.TypePing:
		r.send(conn, events.TypePong, events.PongPayload{Timestamp: now()})

	case events.TypeSessionSubscribe:
		if _, err := r.sessions.Get(msg.SessionID); err != nil {
			r.sendError(conn, events.CodeSessionNotFound, "unknown session "+msg.SessionID)
			return nil
		}
		conn.Subscribe(msg.SessionID)
		// Catch the new subscriber up with the current status.
		if sess, err := r.sessions.Get(msg.SessionID); err == nil {
			r.send(conn, events.TypeSessionStatus, statusPayload(sess))
		}

	case events.TypeSessionUnsubscribe:
		conn.Unsubscribe(msg.SessionID)

	case events.TypeSessionUserMessage:
		r.handleUserMessage(conn, msg)

	case events.TypeSessionPermissionResponse:
		r.handlePermissionResponse(conn, msg)
	}
	return nil
}

// handleUserMessage routes browser input. When the session's worker is
// blocked on a question, the content is interpreted as its answer;
// otherwise it is forwarded as a plain user frame.
func (r *Relay) handleUserMessage(conn *registry.Connection, msg *events.ClientMessage) {
	sess, err := r.sessions.Get(msg.SessionID)
	if err != nil {
		r.sendError(conn, events.CodeSessionNotFound, "unknown session "+msg.SessionID)
		return
	}
	if sess.Status.Terminal() {
		r.sendError(conn, events.CodeWorkerUnavailable, "session is "+string(sess.Status))
		return
	}

	if pending, ok := r.questions.PendingForWorker(sess.WorkerID); ok {
		if _, err := r.questions.Answer(pending.QuestionID, msg.Content); err != nil {
			var verr *services.ValidationError
			if errors.As(err, &verr) {
				r.sendError(conn, events.CodeProtocolError, verr.Message)
				return
			}
			r.logger.Warn("Failed to answer question from browser",
				"session_id", msg.SessionID, "question_id", pending.QuestionID, "error", err)
			return
		}
		// The answered subscriber forwards the frame to the worker.
		return
	}

	frame, err := events.WorkerUserFrame(msg.Content)
	if err != nil {
		r.logger.Error("Failed to encode user frame", "session_id", msg.SessionID, "error", err)
		return
	}
	if err := r.SendToWorker(msg.SessionID, frame); err != nil {
		r.sendError(conn, events.CodeWorkerUnavailable, "no worker attached")
		return
	}

	stored := r.messages.Append(msg.SessionID, models.MessageUser, msg.Content, nil)
	r.broadcastMessage(msg.SessionID, stored, nil)
}

// handlePermissionResponse forwards the decision to the worker and confirms
// the resolution to every subscriber, so parallel browsers converge.
func (r *Relay) handlePermissionResponse(conn *registry.Connection, msg *events.ClientMessage) {
	frame, err := events.WorkerPermissionFrame(msg.RequestID, msg.Behavior)
	if err != nil {
		r.logger.Error("Failed to encode permission frame",
			"session_id", msg.SessionID, "request_id", msg.RequestID, "error", err)
		return
	}
	if err := r.SendToWorker(msg.SessionID, frame); err != nil {
		r.sendError(conn, events.CodeWorkerUnavailable, "no worker attached")
		return
	}
	r.broadcast(msg.SessionID, events.TypeSessionPermissionResolved, events.SessionPermissionResolvedPayload{
		SessionID: msg.SessionID,
		RequestID: msg.RequestID,
		Behavior:  msg.Behavior,
	})
}

func (r *Relay) send(conn *registry.Connection, eventType string, payload any) {
	env, err := events.NewEnvelope(eventType, payload)
	if err != nil {
		r.logger.Warn("Failed to build envelope", "type", eventType, "error", err)
		return
	}
	r.registry.SendEnvelope(conn, env)
}

func (r *Relay) sendError(conn *registry.Connection, code, message string) {
	r.send(conn, events.TypeError, events.ErrorPayload{Code: code, Message: message})
}

func statusPayload(sess *models.Session) events.SessionStatusPayload {
	payload := events.SessionStatusPayload{
		SessionID:      sess.SessionID,
		Status:         string(sess.Status),
		LastActivityAt: sess.LastActivityAt.Format(time.RFC3339Nano),
	}
	if sess.StartupPhase != models.PhaseNone {
		payload.StartupPhase = string(sess.StartupPhase)
		payload.StartupTimestamp = sess.CreatedAt.Format(time.RFC3339Nano)
	}
	if sess.Error != "" {
		payload.Error = sess.Error
	}
	return payload
}
