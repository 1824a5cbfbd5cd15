package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/hq-ai/hq/pkg/models"
)

// createShareHandler handles POST /api/shares.
func (s *Server) createShareHandler(c *echo.Context) error {
	var req CreateShareRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return badRequest(c, "expiresAt must be RFC3339")
		}
		expiresAt = &t
	}

	share, err := s.shares.Create(req.OwnerID, req.RecipientID, req.Paths, expiresAt)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, share)
}

// listSharesHandler handles GET /api/shares?ownerId=&recipientId=&status=.
func (s *Server) listSharesHandler(c *echo.Context) error {
	status := models.ShareStatus(c.QueryParam("status"))
	switch status {
	case "", models.ShareActive, models.ShareRevoked, models.ShareExpired:
	default:
		return badRequest(c, "status must be active, revoked, or expired")
	}
	shares := s.shares.List(c.QueryParam("ownerId"), c.QueryParam("recipientId"), status)
	return c.JSON(http.StatusOK, shares)
}

// getShareHandler handles GET /api/shares/:id.
func (s *Server) getShareHandler(c *echo.Context) error {
	share, err := s.shares.Get(c.Param("id"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, share)
}

// updateShareHandler handles PATCH /api/shares/:id, replacing the path set.
func (s *Server) updateShareHandler(c *echo.Context) error {
	var req UpdateShareRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	share, err := s.shares.UpdatePaths(c.Param("id"), req.Paths)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, share)
}

// revokeShareHandler handles POST /api/shares/:id/revoke. Idempotent.
func (s *Server) revokeShareHandler(c *echo.Context) error {
	share, err := s.shares.Revoke(c.Param("id"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, share)
}

// deleteShareHandler handles DELETE /api/shares/:id.
func (s *Server) deleteShareHandler(c *echo.Context) error {
	if err := s.shares.Delete(c.Param("id")); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// checkAccessHandler handles GET /api/shares/access/check?recipientId=&ownerId=&path=.
func (s *Server) checkAccessHandler(c *echo.Context) error {
	recipient := c.QueryParam("recipientId")
	owner := c.QueryParam("ownerId")
	path := c.QueryParam("path")
	if recipient == "" || owner == "" || path == "" {
		return badRequest(c, "recipientId, ownerId and path are required")
	}
	allowed := s.shares.CheckAccess(recipient, owner, path)
	return c.JSON(http.StatusOK, CheckAccessResponse{Allowed: allowed})
}

// accessiblePathsHandler handles GET /api/shares/accessible/:userId.
func (s *Server) accessiblePathsHandler(c *echo.Context) error {
	recipient := c.Param("userId")
	if recipient == "" {
		return badRequest(c, "user id is required")
	}
	return c.JSON(http.StatusOK, s.shares.AccessiblePaths(recipient))
}

// sharePolicyHandler handles GET /api/shares/:id/policy.
func (s *Server) sharePolicyHandler(c *echo.Context) error {
	if s.syncBucket == "" {
		return badRequest(c, "object storage is not configured")
	}
	doc, err := s.shares.Policy(c.Param("id"), s.syncBucket)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}
