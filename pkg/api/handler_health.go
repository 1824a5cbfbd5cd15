package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/hq-ai/hq/pkg/version"
)

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     version.Full(),
		"connections": s.registry.Size(),
	})
}
