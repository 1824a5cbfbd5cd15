package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/hq-ai/hq/pkg/services"
)

// generateKeyHandler handles POST /api/auth/keys/generate. The endpoint is
// open only until the first key exists; afterwards it requires a valid key
// like any other API route.
func (s *Server) generateKeyHandler(c *echo.Context) error {
	if !s.skipAuth && s.keys.Count() > 0 {
		if _, err := s.keys.Verify(c.Request().Context(), extractAPIKey(c)); err != nil {
			return writeServiceError(c, err)
		}
	}

	var req GenerateKeyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Name == "" {
		return writeServiceError(c, services.NewValidationError("name", "required"))
	}

	generated, err := s.keys.Generate(req.Name, req.RateLimit)
	if err != nil {
		return writeServiceError(c, err)
	}

	s.logger.Info("API key generated", "prefix", generated.Prefix, "name", generated.Name)
	return c.JSON(http.StatusCreated, GeneratedKeyResponse{
		GeneratedKey: *generated,
		Message:      "Store this key now. It cannot be retrieved again.",
	})
}

// setupStatusHandler handles GET /api/auth/setup-status.
func (s *Server) setupStatusHandler(c *echo.Context) error {
	resp := SetupStatusResponse{SetupComplete: s.keys.Count() > 0}
	if s.syncPrefix != "" {
		prefix := s.syncPrefix
		resp.S3Prefix = &prefix
	}
	if s.sync != nil {
		resp.FileCount = s.sync.FileCount()
	}
	return c.JSON(http.StatusOK, resp)
}
