package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/hq-ai/hq/pkg/services"
)

// errorBody is the JSON shape of every non-2xx API response.
type errorBody struct {
	Error            string            `json:"error"`
	Message          string            `json:"message"`
	ValidationErrors map[string]string `json:"validationErrors,omitempty"`
	RetryAfterMs     int64             `json:"retryAfterMs,omitempty"`
}

// writeServiceError maps service-layer errors to HTTP responses in one
// place. Handlers return its result directly.
func writeServiceError(c *echo.Context, err error) error {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return c.JSON(http.StatusBadRequest, errorBody{
			Error:            "Bad Request",
			Message:          validErr.Message,
			ValidationErrors: map[string]string{validErr.Field: validErr.Message},
		})
	}
	var rateErr *services.RateLimitError
	if errors.As(err, &rateErr) {
		return c.JSON(http.StatusTooManyRequests, errorBody{
			Error:        "Too Many Requests",
			Message:      "rate limit exceeded",
			RetryAfterMs: rateErr.RetryAfter.Milliseconds(),
		})
	}
	if errors.Is(err, services.ErrUnauthorized) {
		return c.JSON(http.StatusUnauthorized, errorBody{
			Error: "Unauthorized", Message: "missing or invalid credentials"})
	}
	if errors.Is(err, services.ErrForbidden) {
		return c.JSON(http.StatusForbidden, errorBody{
			Error: "Forbidden", Message: "credentials do not grant access"})
	}
	if errors.Is(err, services.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody{
			Error: "Not Found", Message: "resource not found"})
	}
	if errors.Is(err, services.ErrConflict) {
		return c.JSON(http.StatusConflict, errorBody{
			Error: "Conflict", Message: err.Error()})
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return c.JSON(http.StatusInternalServerError, errorBody{
		Error: "Internal Server Error", Message: "internal server error"})
}

// badRequest writes a plain 400 with a message.
func badRequest(c *echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: "Bad Request", Message: message})
}
