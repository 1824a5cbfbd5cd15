// Package auth implements the two authentication modes of the control
// plane: long-lived API keys with per-key rate limits, and single-use
// session access tokens presented by workers when they dial the relay.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hq-ai/hq/pkg/models"
	"github.com/hq-ai/hq/pkg/services"
)

// keyPrefixLen is the public lookup portion of a key.
const keyPrefixLen = 8

// DefaultRateLimit is the per-key request budget per minute when none is
// configured at generation time.
const DefaultRateLimit = 60

// GeneratedKey is returned once at generation time; the secret is never
// recoverable afterwards.
type GeneratedKey struct {
	Key       string    `json:"key"`
	Prefix    string    `json:"prefix"`
	Name      string    `json:"name"`
	RateLimit int       `json:"rateLimit"`
	CreatedAt time.Time `json:"createdAt"`
}

// KeyService stores API keys and enforces per-key token buckets. Buckets
// refill at rateLimit tokens per minute with a burst of the same size.
type KeyService struct {
	mu       sync.RWMutex
	keys     map[string]*models.ApiKey // prefix → key
	limiters map[string]*rate.Limiter  // prefix → bucket
}

// NewKeyService creates an empty key store.
func NewKeyService() *KeyService {
	return &KeyService{
		keys:     make(map[string]*models.ApiKey),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Generate mints a new API key "hq_<prefix>_<secret>". Only the hash of the
// full key is retained.
func (s *KeyService) Generate(name string, rateLimit int) (*GeneratedKey, error) {
	if name == "" {
		return nil, services.NewValidationError("name", "required")
	}
	if rateLimit <= 0 {
		rateLimit = DefaultRateLimit
	}

	prefix, err := randomHex(keyPrefixLen)
	if err != nil {
		return nil, fmt.Errorf("generate key prefix: %w", err)
	}
	secret, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("generate key secret: %w", err)
	}
	key := fmt.Sprintf("hq_%s_%s", prefix, secret)

	record := &models.ApiKey{
		Prefix:    prefix,
		HashValue: hashKey(key),
		Name:      name,
		RateLimit: rateLimit,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.keys[prefix] = record
	s.limiters[prefix] = rate.NewLimiter(rate.Limit(float64(rateLimit)/60.0), rateLimit)
	s.mu.Unlock()

	return &GeneratedKey{
		Key:       key,
		Prefix:    prefix,
		Name:      name,
		RateLimit: rateLimit,
		CreatedAt: record.CreatedAt,
	}, nil
}

// Verify authenticates a presented key and charges its token bucket.
// Returns ErrUnauthorized for unknown or mismatched keys and
// *RateLimitError when the bucket is empty.
func (s *KeyService) Verify(_ context.Context, presented string) (*models.ApiKey, error) {
	prefix, ok := parsePrefix(presented)
	if !ok {
		return nil, services.ErrUnauthorized
	}

	s.mu.RLock()
	record := s.keys[prefix]
	limiter := s.limiters[prefix]
	s.mu.RUnlock()

	if record == nil {
		return nil, services.ErrUnauthorized
	}

	// Constant-time comparison of the full-key hash.
	if subtle.ConstantTimeCompare([]byte(hashKey(presented)), []byte(record.HashValue)) != 1 {
		return nil, services.ErrUnauthorized
	}

	if limiter != nil {
		reservation := limiter.Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			return nil, &services.RateLimitError{RetryAfter: delay}
		}
	}

	return record, nil
}

// Count returns the number of stored keys.
func (s *KeyService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func parsePrefix(key string) (string, bool) {
	parts := strings.SplitN(key, "_", 3)
	if len(parts) != 3 || parts[0] != "hq" || len(parts[1]) != keyPrefixLen {
		return "", false
	}
	return parts[1], true
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:n], nil
}
