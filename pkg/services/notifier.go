package services

import (
	"context"
	"log/slog"
)

// Notifier is the pluggable messaging abstraction used to surface pending
// questions and terminal sessions on external channels (chat, ticketing).
// Provider implementations live outside the core; the control plane only
// depends on this interface.
type Notifier interface {
	// QuestionAsked is called when a worker blocks on a question.
	QuestionAsked(ctx context.Context, workerID, questionID, text string)

	// SessionTerminated is called on every terminal session transition.
	SessionTerminated(ctx context.Context, sessionID, status, reason string)
}

// LogNotifier is the built-in provider: it writes notifications to the
// structured log. Nil-safe like the rest of the notifier plumbing.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates the logging provider.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: slog.Default().With("component", "notifier")}
}

// QuestionAsked logs the pending question.
func (n *LogNotifier) QuestionAsked(_ context.Context, workerID, questionID, text string) {
	if n == nil {
		return
	}
	n.logger.Info("Worker is waiting for input",
		"worker_id", workerID, "question_id", questionID, "text", text)
}

// SessionTerminated logs the terminal transition.
func (n *LogNotifier) SessionTerminated(_ context.Context, sessionID, status, reason string) {
	if n == nil {
		return
	}
	n.logger.Info("Session reached terminal state",
		"session_id", sessionID, "status", status, "reason", reason)
}
