package services

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the service layer. The API layer maps them
// to HTTP responses in a single place.
var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when an operation conflicts with current
	// state, e.g. answering an already-answered question.
	ErrConflict = errors.New("conflict with current state")

	// ErrUnauthorized is returned when credentials are absent or invalid.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when credentials are valid but do not grant
	// access, e.g. a consumed or wrong-session access token.
	ErrForbidden = errors.New("forbidden")

	// ErrCancelled is returned by cooperatively-cancelled operations.
	// Never logged as an error.
	ErrCancelled = errors.New("cancelled")

	// ErrAnswerTimeout is returned when a question wait expires before an
	// answer arrives. The question stays pending for later inspection.
	ErrAnswerTimeout = errors.New("answer timeout")
)

// ValidationError wraps field-specific validation errors (HTTP 400).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RateLimitError is returned when a per-key token bucket is exhausted
// (HTTP 429 with a retry hint).
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}
