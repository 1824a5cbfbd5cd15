package services

import (
	"sync"
	"time"

	"github.com/hq-ai/hq/pkg/models"
)

// MessageService stores session messages with dense per-session sequence
// numbers starting at 1.
type MessageService struct {
	mu       sync.RWMutex
	messages map[string][]*models.SessionMessage

	sessions *SessionService
}

// NewMessageService creates an empty message store. sessions may be nil;
// when set, each append bumps the session's message counter.
func NewMessageService(sessions *SessionService) *MessageService {
	return &MessageService{
		messages: make(map[string][]*models.SessionMessage),
		sessions: sessions,
	}
}

// Append persists a message and assigns the next sequence number.
func (s *MessageService) Append(sessionID string, kind models.MessageKind, content string, metadata map[string]any) *models.SessionMessage {
	s.mu.Lock()
	seq := len(s.messages[sessionID]) + 1
	msg := &models.SessionMessage{
		SessionID: sessionID,
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Content:   content,
		Metadata:  metadata,
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	s.mu.Unlock()

	if s.sessions != nil {
		s.sessions.BumpMessageCount(sessionID)
	}
	return msg
}

// List returns messages with sequence greater than after, in order.
func (s *MessageService) List(sessionID string, after int) []*models.SessionMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	if after < 0 {
		after = 0
	}
	if after >= len(msgs) {
		return nil
	}
	out := make([]*models.SessionMessage, len(msgs)-after)
	copy(out, msgs[after:])
	return out
}

// Count returns the number of messages persisted for a session.
func (s *MessageService) Count(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[sessionID])
}
