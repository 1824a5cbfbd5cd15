package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hq-ai/hq/pkg/models"
)

// DefaultAnswerTimeout bounds how long a blocked Await waits for a human
// answer before giving up. The question itself stays pending for later
// inspection.
const DefaultAnswerTimeout = 5 * time.Minute

// AnsweredSubscriber receives every answered question, synchronously and
// in-process.
type AnsweredSubscriber func(*models.PendingQuestion)

// QuestionService is the blocker that suspends a worker pending human
// input. At most one question may be pending per worker; answers arrive
// from the browser relay, the HTTP API, or a transport-provider callback.
type QuestionService struct {
	mu        sync.Mutex
	questions map[string]*models.PendingQuestion // question id → record
	byWorker  map[string]string                  // worker id → pending question id
	waiters   map[string]chan string             // question id → completion source

	workers     *WorkerService
	sessions    *SessionService
	subscribers []AnsweredSubscriber
	notifier    Notifier

	answerTimeout time.Duration
	logger        *slog.Logger
}

// NewQuestionService creates the blocker. sessions may be nil (no status
// surfacing, used by narrow tests).
func NewQuestionService(workers *WorkerService, sessions *SessionService) *QuestionService {
	return &QuestionService{
		questions:     make(map[string]*models.PendingQuestion),
		byWorker:      make(map[string]string),
		waiters:       make(map[string]chan string),
		workers:       workers,
		sessions:      sessions,
		answerTimeout: DefaultAnswerTimeout,
		logger:        slog.Default().With("component", "question-blocker"),
	}
}

// SetAnswerTimeout overrides the default Await deadline.
func (s *QuestionService) SetAnswerTimeout(d time.Duration) { s.answerTimeout = d }

// SetNotifier wires the external notification provider.
func (s *QuestionService) SetNotifier(n Notifier) { s.notifier = n }

// OnQuestionAnswered registers a subscriber invoked for every answer.
func (s *QuestionService) OnQuestionAnswered(fn AnsweredSubscriber) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// Ask records a pending question for the worker, flips it to
// waiting_input, and surfaces the waiting state on the owning session.
func (s *QuestionService) Ask(workerID, text string, options []models.QuestionOption) (*models.PendingQuestion, error) {
	if text == "" {
		return nil, NewValidationError("text", "question text is required")
	}
	seen := make(map[string]bool, len(options))
	for _, opt := range options {
		if opt.ID == "" {
			return nil, NewValidationError("options", "option id is required")
		}
		if seen[opt.ID] {
			return nil, NewValidationError("options", fmt.Sprintf("Duplicate option ID: %s", opt.ID))
		}
		seen[opt.ID] = true
	}
	if _, err := s.workers.Get(workerID); err != nil {
		return nil, err
	}

	q := &models.PendingQuestion{
		QuestionID: uuid.New().String(),
		WorkerID:   workerID,
		Text:       text,
		Options:    options,
		AskedAt:    time.Now().UTC(),
		Status:     models.QuestionPending,
	}

	s.mu.Lock()
	if _, busy := s.byWorker[workerID]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: worker already has a pending question", ErrConflict)
	}
	s.questions[q.QuestionID] = q
	s.byWorker[workerID] = q.QuestionID
	s.waiters[q.QuestionID] = make(chan string, 1)
	s.mu.Unlock()

	_ = s.workers.SetStatus(workerID, models.WorkerWaitingInput)
	if s.sessions != nil {
		if sessionID := s.workers.SessionID(workerID); sessionID != "" {
			s.sessions.NoteQuestion(sessionID, text)
		}
	}

	if s.notifier != nil {
		s.notifier.QuestionAsked(context.Background(), workerID, q.QuestionID, text)
	}

	s.logger.Info("Question asked", "worker_id", workerID, "question_id", q.QuestionID)
	return q.Clone(), nil
}

// Answer resolves a pending question. Rejections: unknown id (not found),
// already answered (conflict), empty answer or answer outside the declared
// option ids (validation).
func (s *QuestionService) Answer(questionID, answer string) (*models.PendingQuestion, error) {
	if answer == "" {
		return nil, NewValidationError("answer", "answer text is required")
	}

	s.mu.Lock()
	q, ok := s.questions[questionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if q.Status == models.QuestionAnswered {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: question already answered", ErrConflict)
	}
	if len(q.Options) > 0 && !hasOption(q.Options, answer) {
		s.mu.Unlock()
		return nil, NewValidationError("answer", "must be one of the option IDs")
	}

	now := time.Now().UTC()
	q.Answer = answer
	q.AnsweredAt = &now
	q.Status = models.QuestionAnswered
	delete(s.byWorker, q.WorkerID)

	waiter := s.waiters[questionID]
	delete(s.waiters, questionID)
	subscribers := append([]AnsweredSubscriber(nil), s.subscribers...)
	record := q.Clone()
	s.mu.Unlock()

	if waiter != nil {
		waiter <- answer
	}

	_ = s.workers.SetStatus(q.WorkerID, models.WorkerResuming)
	if s.sessions != nil {
		if sessionID := s.workers.SessionID(q.WorkerID); sessionID != "" {
			s.sessions.ClearQuestion(sessionID)
		}
	}

	for _, fn := range subscribers {
		fn(record.Clone())
	}

	_ = s.workers.SetStatus(q.WorkerID, models.WorkerRunning)
	s.logger.Info("Question answered", "worker_id", q.WorkerID, "question_id", questionID)
	return record, nil
}

// Await blocks until the question is answered, the timeout elapses, or ctx
// is cancelled. Timeout leaves the question pending and returns
// ErrAnswerTimeout; cancellation returns ErrCancelled.
func (s *QuestionService) Await(ctx context.Context, questionID string) (string, error) {
	s.mu.Lock()
	q, ok := s.questions[questionID]
	if !ok {
		s.mu.Unlock()
		return "", ErrNotFound
	}
	if q.Status == models.QuestionAnswered {
		answer := q.Answer
		s.mu.Unlock()
		return answer, nil
	}
	waiter := s.waiters[questionID]
	s.mu.Unlock()

	timer := time.NewTimer(s.answerTimeout)
	defer timer.Stop()

	select {
	case answer, ok := <-waiter:
		if !ok {
			// Waiter closed by session termination.
			return "", ErrCancelled
		}
		return answer, nil
	case <-timer.C:
		return "", ErrAnswerTimeout
	case <-ctx.Done():
		return "", ErrCancelled
	}
}

// Get returns a question snapshot.
func (s *QuestionService) Get(questionID string) (*models.PendingQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[questionID]
	if !ok {
		return nil, ErrNotFound
	}
	return q.Clone(), nil
}

// PendingForWorker returns the worker's pending question, if any.
func (s *QuestionService) PendingForWorker(workerID string) (*models.PendingQuestion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byWorker[workerID]
	if !ok {
		return nil, false
	}
	return s.questions[id].Clone(), true
}

// List returns the worker's questions, optionally filtered by status.
func (s *QuestionService) List(workerID string, status models.QuestionStatus) []*models.PendingQuestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.PendingQuestion, 0)
	for _, q := range s.questions {
		if q.WorkerID != workerID {
			continue
		}
		if status != "" && q.Status != status {
			continue
		}
		out = append(out, q.Clone())
	}
	return out
}

// CancelForWorker releases any blocked Await when the owning session
// terminates. The question record itself stays pending.
func (s *QuestionService) CancelForWorker(workerID string) {
	s.mu.Lock()
	id, ok := s.byWorker[workerID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.byWorker, workerID)
	waiter := s.waiters[id]
	delete(s.waiters, id)
	s.mu.Unlock()

	if waiter != nil {
		close(waiter)
	}
}

func hasOption(options []models.QuestionOption, id string) bool {
	for _, opt := range options {
		if opt.ID == id {
			return true
		}
	}
	return false
}
