package services

import (
	"sync"
	"time"

	"github.com/hq-ai/hq/pkg/events"
	"github.com/hq-ai/hq/pkg/models"
)

// CatalogueBroadcaster fans fleet-catalogue changes out to every connected
// browser. Implemented by the registry.
type CatalogueBroadcaster interface {
	BroadcastAll(env events.Envelope)
}

// WorkerService is the fleet catalogue of worker records. Every mutation is
// announced as an agent:created, agent:updated, or agent:deleted event when
// a broadcaster is attached.
type WorkerService struct {
	mu      sync.RWMutex
	workers map[string]*models.Worker

	catalogue CatalogueBroadcaster
}

// NewWorkerService creates an empty worker catalogue.
func NewWorkerService() *WorkerService {
	return &WorkerService{workers: make(map[string]*models.Worker)}
}

// SetCatalogue attaches the catalogue event broadcaster.
func (s *WorkerService) SetCatalogue(b CatalogueBroadcaster) { s.catalogue = b }

// Register creates or updates a worker record.
func (s *WorkerService) Register(id, name string, status models.WorkerStatus) (*models.Worker, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}
	if status == "" {
		status = models.WorkerIdle
	}

	s.mu.Lock()
	now := time.Now().UTC()
	eventType := events.TypeAgentCreated
	var out models.Worker
	if existing, ok := s.workers[id]; ok {
		if name != "" {
			existing.Name = name
		}
		existing.Status = status
		existing.UpdatedAt = now
		out = *existing
		eventType = events.TypeAgentUpdated
	} else {
		w := &models.Worker{
			ID:        id,
			Name:      name,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.workers[id] = w
		out = *w
	}
	s.mu.Unlock()

	s.emitCatalogue(eventType, &out)
	return &out, nil
}

// AttachSession binds a worker record to the session it serves.
func (s *WorkerService) AttachSession(workerID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[workerID]; ok {
		w.SessionID = sessionID
		w.UpdatedAt = time.Now().UTC()
	}
}

// Get returns a worker snapshot.
func (s *WorkerService) Get(id string) (*models.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *w
	return &out, nil
}

// List returns snapshots of all workers.
func (s *WorkerService) List() []*models.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		cp := *w
		out = append(out, &cp)
	}
	return out
}

// SetStatus updates a worker's reported status.
func (s *WorkerService) SetStatus(id string, status models.WorkerStatus) error {
	s.mu.Lock()
	w, ok := s.workers[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	w.Status = status
	w.UpdatedAt = time.Now().UTC()
	out := *w
	s.mu.Unlock()

	s.emitCatalogue(events.TypeAgentUpdated, &out)
	return nil
}

// Remove deletes a worker from the catalogue.
func (s *WorkerService) Remove(id string) error {
	s.mu.Lock()
	w, ok := s.workers[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	out := *w
	delete(s.workers, id)
	s.mu.Unlock()

	s.emitCatalogue(events.TypeAgentDeleted, &out)
	return nil
}

// SessionID returns the session a worker is bound to, if any.
func (s *WorkerService) SessionID(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.workers[id]; ok {
		return w.SessionID
	}
	return ""
}

// emitCatalogue broadcasts one catalogue event outside the service lock.
func (s *WorkerService) emitCatalogue(eventType string, w *models.Worker) {
	if s.catalogue == nil {
		return
	}
	env, err := events.NewEnvelope(eventType, events.AgentCataloguePayload{
		ID:     w.ID,
		Name:   w.Name,
		Status: string(w.Status),
	})
	if err != nil {
		return
	}
	s.catalogue.BroadcastAll(env)
}
