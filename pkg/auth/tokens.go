package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/hq-ai/hq/pkg/services"
)

// TokenStore holds session access tokens. A token is minted at session
// creation and may be consumed exactly once, by the worker dialing the
// relay endpoint for that session.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]string // token → session id
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]string)}
}

// Mint issues a fresh access token bound to the session.
func (s *TokenStore) Mint(sessionID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint access token: %w", err)
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	s.tokens[token] = sessionID
	s.mu.Unlock()
	return token, nil
}

// Consume validates the token against the session and invalidates it.
// ErrUnauthorized for an empty token, ErrForbidden for an unknown,
// already-consumed, or wrong-session token.
func (s *TokenStore) Consume(sessionID, token string) error {
	if token == "" {
		return services.ErrUnauthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.tokens[token]
	if !ok || owner != sessionID {
		return services.ErrForbidden
	}
	delete(s.tokens, token)
	return nil
}

// Revoke invalidates any outstanding token for the session, e.g. when the
// session errors before its worker ever attached.
func (s *TokenStore) Revoke(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, owner := range s.tokens {
		if owner == sessionID {
			delete(s.tokens, token)
		}
	}
}
