// Package services holds the domain services of the control plane. Every
// service is an explicitly constructed dependency; tests build a fresh set
// per test instead of resetting process-global state.
package services

import (
	"context"
	"log/slog"
	"time"

	"sync"

	"github.com/google/uuid"

	"github.com/hq-ai/hq/pkg/events"
	"github.com/hq-ai/hq/pkg/models"
)

// Broadcaster fans an envelope out to every browser subscribed to a
// session. Implemented by registry.Registry.
type Broadcaster interface {
	BroadcastToSession(sessionID string, env events.Envelope)
}

// Presence answers whether sockets for a session are still attached.
// Implemented by registry.Registry.
type Presence interface {
	HasWorker(sessionID string) bool
	SubscriberCount(sessionID string) int
}

// WorkerCloser closes a session's worker socket with a reason.
// Implemented by registry.Registry.
type WorkerCloser interface {
	CloseWorker(sessionID, reason string)
}

// TaskStopper cancels a spawned compute task. Implemented by the spawner.
type TaskStopper interface {
	Stop(ctx context.Context, trackingID string) error
}

// TokenRevoker invalidates outstanding access tokens for a session.
// Implemented by auth.TokenStore.
type TokenRevoker interface {
	Revoke(sessionID string)
}

// SessionConfig holds the lifecycle timer settings.
type SessionConfig struct {
	// StartupTimeout bounds the time from creation to the worker's init
	// frame. On expiry the session errors with "Worker failed to start".
	StartupTimeout time.Duration

	// IdleTimeout stops a session that has seen no worker activity.
	IdleTimeout time.Duration

	// GraceTTL is how long a terminal session record lingers before the
	// sweeper may garbage-collect it (both sockets must also be gone).
	GraceTTL time.Duration

	// SweepInterval is the cadence of the idle/GC sweeper.
	SweepInterval time.Duration
}

// DefaultSessionConfig returns the built-in lifecycle defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		StartupTimeout: 5 * time.Minute,
		IdleTimeout:    30 * time.Minute,
		GraceTTL:       5 * time.Minute,
		SweepInterval:  30 * time.Second,
	}
}

// sessionEntry pairs a session record with its actor. All mutations and
// the broadcasts they produce run on the actor goroutine, which is what
// guarantees per-session ordering of session_status events.
type sessionEntry struct {
	sess *models.Session

	jobs    chan func()
	closed  chan struct{}
	stopJob sync.Once

	startupTimer *time.Timer
}

func newSessionEntry(sess *models.Session) *sessionEntry {
	e := &sessionEntry{
		sess:   sess,
		jobs:   make(chan func(), 64),
		closed: make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *sessionEntry) loop() {
	for {
		select {
		case <-e.closed:
			return
		case job := <-e.jobs:
			job()
		}
	}
}

// run executes f on the actor and waits for it. After stop() the call is a
// no-op; callers observe the session's terminal state instead.
func (e *sessionEntry) run(f func()) {
	done := make(chan struct{})
	select {
	case e.jobs <- func() { f(); close(done) }:
	case <-e.closed:
		return
	}
	select {
	case <-done:
	case <-e.closed:
	}
}

func (e *sessionEntry) stop() {
	e.stopJob.Do(func() {
		if e.startupTimer != nil {
			e.startupTimer.Stop()
		}
		close(e.closed)
	})
}

// SessionService is the single source of truth for session status. The
// relay consults it before forwarding anything.
type SessionService struct {
	cfg SessionConfig

	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	broadcaster Broadcaster
	presence    Presence
	closer      WorkerCloser
	stopper     TaskStopper
	revoker     TokenRevoker
	notifier    Notifier

	logger *slog.Logger
}

// NewSessionService creates a session store with the given collaborators.
// stopper and revoker may be nil (spawning disabled / tests).
func NewSessionService(cfg SessionConfig, broadcaster Broadcaster, presence Presence, closer WorkerCloser) *SessionService {
	return &SessionService{
		cfg:         cfg,
		sessions:    make(map[string]*sessionEntry),
		broadcaster: broadcaster,
		presence:    presence,
		closer:      closer,
		logger:      slog.Default().With("component", "session-service"),
	}
}

// SetTaskStopper wires the spawner hook used by the startup timeout.
func (s *SessionService) SetTaskStopper(stopper TaskStopper) { s.stopper = stopper }

// SetTokenRevoker wires access-token invalidation on terminal transitions.
func (s *SessionService) SetTokenRevoker(revoker TokenRevoker) { s.revoker = revoker }

// SetNotifier wires the external notification provider.
func (s *SessionService) SetNotifier(n Notifier) { s.notifier = n }

// Create mints a new session in status starting / phase provisioning and
// arms its startup timer.
func (s *SessionService) Create(_ context.Context, userID, prompt string, workerContext map[string]any) (*models.Session, error) {
	if prompt == "" {
		return nil, NewValidationError("prompt", "required")
	}

	now := time.Now().UTC()
	sess := &models.Session{
		SessionID:      uuid.New().String(),
		UserID:         userID,
		WorkerID:       "w-" + uuid.New().String(),
		Status:         models.SessionStarting,
		StartupPhase:   models.PhaseProvisioning,
		InitialPrompt:  prompt,
		WorkerContext:  workerContext,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	entry := newSessionEntry(sess)
	entry.startupTimer = time.AfterFunc(s.cfg.StartupTimeout, func() {
		s.handleStartupTimeout(sess.SessionID)
	})

	s.mu.Lock()
	s.sessions[sess.SessionID] = entry
	s.mu.Unlock()

	s.logger.Info("Session created",
		"session_id", sess.SessionID, "worker_id", sess.WorkerID, "user_id", userID)
	return sess.Clone(), nil
}

// Get returns a snapshot of the session.
func (s *SessionService) Get(sessionID string) (*models.Session, error) {
	entry, err := s.entry(sessionID)
	if err != nil {
		return nil, err
	}
	var out *models.Session
	entry.run(func() { out = entry.sess.Clone() })
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

// List returns snapshots of all sessions.
func (s *SessionService) List() []*models.Session {
	s.mu.RLock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*models.Session, 0, len(entries))
	for _, e := range entries {
		e.run(func() { out = append(out, e.sess.Clone()) })
	}
	return out
}

// SetSpawnTracking records the compute task id returned by the spawner.
func (s *SessionService) SetSpawnTracking(sessionID, trackingID string) error {
	return s.mutate(sessionID, func(sess *models.Session) bool {
		sess.SpawnTrackingID = trackingID
		return false
	})
}

// AdvancePhase moves the startup phase forward and broadcasts the change.
func (s *SessionService) AdvancePhase(sessionID string, phase models.StartupPhase) error {
	return s.mutate(sessionID, func(sess *models.Session) bool {
		if sess.Status.Terminal() {
			return false
		}
		sess.StartupPhase = phase
		return true
	})
}

// MarkActive handles the worker's system/init frame: phase ready, status
// active, capabilities persisted. Disarms the startup timer.
func (s *SessionService) MarkActive(sessionID string, capabilities map[string]any) error {
	entry, err := s.entry(sessionID)
	if err != nil {
		return err
	}
	if entry.startupTimer != nil {
		entry.startupTimer.Stop()
	}
	return s.mutateEntry(entry, func(sess *models.Session) bool {
		if sess.Status != models.SessionStarting {
			return false
		}
		sess.Status = models.SessionActive
		sess.StartupPhase = models.PhaseReady
		sess.Capabilities = capabilities
		s.touchLocked(sess)
		return true
	})
}

// Touch advances lastActivityAt. The clock resets on worker activity only.
func (s *SessionService) Touch(sessionID string) {
	_ = s.mutate(sessionID, func(sess *models.Session) bool {
		s.touchLocked(sess)
		return false
	})
}

// touchLocked keeps lastActivityAt monotonically non-decreasing.
func (s *SessionService) touchLocked(sess *models.Session) {
	if now := time.Now().UTC(); now.After(sess.LastActivityAt) {
		sess.LastActivityAt = now
	}
}

// BumpMessageCount increments the persisted-message counter.
func (s *SessionService) BumpMessageCount(sessionID string) {
	_ = s.mutate(sessionID, func(sess *models.Session) bool {
		sess.MessageCount++
		return false
	})
}

// NoteQuestion records a pending question's text against the session and
// broadcasts the status so subscribers can render the waiting state.
func (s *SessionService) NoteQuestion(sessionID, text string) {
	_ = s.mutate(sessionID, func(sess *models.Session) bool {
		if sess.WorkerContext == nil {
			sess.WorkerContext = make(map[string]any)
		}
		sess.WorkerContext["pendingQuestion"] = text
		return true
	})
}

// ClearQuestion removes the pending-question note after an answer.
func (s *SessionService) ClearQuestion(sessionID string) {
	_ = s.mutate(sessionID, func(sess *models.Session) bool {
		delete(sess.WorkerContext, "pendingQuestion")
		return true
	})
}

// Stop transitions the session to stopped. Idempotent for terminal states.
func (s *SessionService) Stop(sessionID, reason string) error {
	err := s.mutate(sessionID, func(sess *models.Session) bool {
		if sess.Status.Terminal() {
			return false
		}
		now := time.Now().UTC()
		sess.Status = models.SessionStopped
		sess.StoppedAt = &now
		return true
	})
	if err != nil {
		return err
	}
	s.afterTerminal(sessionID, reason)
	return nil
}

// Fail transitions the session to errored with a reason.
func (s *SessionService) Fail(sessionID, errMsg string) error {
	err := s.mutate(sessionID, func(sess *models.Session) bool {
		if sess.Status.Terminal() {
			return false
		}
		now := time.Now().UTC()
		sess.Status = models.SessionErrored
		sess.Error = errMsg
		sess.StoppedAt = &now
		return true
	})
	if err != nil {
		return err
	}
	s.afterTerminal(sessionID, errMsg)
	return nil
}

// HandleSpawnFailed is the spawner's failure hook.
func (s *SessionService) HandleSpawnFailed(sessionID string, spawnErr error) {
	s.logger.Error("Worker spawn failed", "session_id", sessionID, "error", spawnErr)
	_ = s.Fail(sessionID, "Worker failed to start")
}

// HandleWorkerDisconnect stops an active session whose worker socket went
// away. Sessions still starting keep their startup timer running; the
// worker may reconnect.
func (s *SessionService) HandleWorkerDisconnect(sessionID string) {
	entry, err := s.entry(sessionID)
	if err != nil {
		return
	}
	var active bool
	entry.run(func() { active = entry.sess.Status == models.SessionActive })
	if active {
		_ = s.Stop(sessionID, "Worker disconnected")
	}
}

// afterTerminal releases per-session resources once a terminal transition
// has been broadcast.
func (s *SessionService) afterTerminal(sessionID, reason string) {
	entry, err := s.entry(sessionID)
	if err != nil {
		return
	}
	if entry.startupTimer != nil {
		entry.startupTimer.Stop()
	}
	if s.revoker != nil {
		s.revoker.Revoke(sessionID)
	}
	if s.closer != nil {
		s.closer.CloseWorker(sessionID, reason)
	}
	if s.notifier != nil {
		var status string
		entry.run(func() { status = string(entry.sess.Status) })
		s.notifier.SessionTerminated(context.Background(), sessionID, status, reason)
	}
}

func (s *SessionService) handleStartupTimeout(sessionID string) {
	entry, err := s.entry(sessionID)
	if err != nil {
		return
	}
	var starting bool
	var trackingID string
	entry.run(func() {
		starting = entry.sess.Status == models.SessionStarting
		trackingID = entry.sess.SpawnTrackingID
	})
	if !starting {
		return
	}

	s.logger.Warn("Session startup timed out", "session_id", sessionID)
	_ = s.Fail(sessionID, "Worker failed to start")

	if s.stopper != nil && trackingID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.stopper.Stop(ctx, trackingID); err != nil {
			s.logger.Error("Failed to cancel compute task",
				"session_id", sessionID, "tracking_id", trackingID, "error", err)
		}
	}
}

// RunSweeper enforces the idle timeout and the post-terminal grace TTL
// until ctx is cancelled.
func (s *SessionService) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *SessionService) sweep() {
	now := time.Now().UTC()
	for _, sess := range s.List() {
		switch {
		case sess.Status == models.SessionActive &&
			now.Sub(sess.LastActivityAt) > s.cfg.IdleTimeout:
			s.logger.Info("Stopping idle session", "session_id", sess.SessionID)
			_ = s.Stop(sess.SessionID, "Idle timeout")

		case sess.Status.Terminal() && sess.StoppedAt != nil &&
			now.Sub(*sess.StoppedAt) > s.cfg.GraceTTL:
			if s.presence != nil &&
				(s.presence.HasWorker(sess.SessionID) || s.presence.SubscriberCount(sess.SessionID) > 0) {
				continue
			}
			s.collect(sess.SessionID)
		}
	}
}

func (s *SessionService) collect(sessionID string) {
	s.mu.Lock()
	entry, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if ok {
		entry.stop()
		s.logger.Info("Session record garbage-collected", "session_id", sessionID)
	}
}

// entry resolves a session id to its live entry.
func (s *SessionService) entry(sessionID string) (*sessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

// mutate runs the mutation on the session's actor; when it reports a
// visible change, a session_status envelope is broadcast before the actor
// moves to the next job.
func (s *SessionService) mutate(sessionID string, f func(*models.Session) bool) error {
	entry, err := s.entry(sessionID)
	if err != nil {
		return err
	}
	return s.mutateEntry(entry, f)
}

func (s *SessionService) mutateEntry(entry *sessionEntry, f func(*models.Session) bool) error {
	entry.run(func() {
		if f(entry.sess) {
			s.broadcastStatus(entry.sess)
		}
	})
	return nil
}

// broadcastStatus runs on the actor goroutine.
func (s *SessionService) broadcastStatus(sess *models.Session) {
	if s.broadcaster == nil {
		return
	}
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
	env, err := events.NewEnvelope(events.TypeSessionStatus, payload)
	if err != nil {
		s.logger.Warn("Failed to build session_status envelope",
			"session_id", sess.SessionID, "error", err)
		return
	}
	s.broadcaster.BroadcastToSession(sess.SessionID, env)
}
