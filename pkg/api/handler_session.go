package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/hq-ai/hq/pkg/models"
	"github.com/hq-ai/hq/pkg/spawner"
)

// spawnTimeout bounds the background RunTask call for one session.
const spawnTimeout = 60 * time.Second

// createSessionHandler handles POST /api/sessions. The session is returned
// in status starting; the worker task launches in the background and
// reports through the session's status broadcasts.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Prompt == "" {
		return badRequest(c, "prompt is required")
	}
	userID := req.UserID
	if userID == "" {
		userID = "default"
	}

	sess, err := s.sessions.Create(c.Request().Context(), userID, req.Prompt, req.WorkerContext)
	if err != nil {
		return writeServiceError(c, err)
	}

	token, err := s.tokens.Mint(sess.SessionID)
	if err != nil {
		return writeServiceError(c, err)
	}

	if _, err := s.workers.Register(sess.WorkerID, "", ""); err != nil {
		return writeServiceError(c, err)
	}
	s.workers.AttachSession(sess.WorkerID, sess.SessionID)

	if s.spawner != nil {
		go s.spawnWorker(sess.SessionID, spawner.Request{
			SessionID:   sess.SessionID,
			WorkerID:    sess.WorkerID,
			AccessToken: token,
			Skill:       req.Skill,
			Parameters:  req.Parameters,
		})
	}

	return c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID:   sess.SessionID,
		AccessToken: token,
		Status:      sess.Status,
	})
}

// spawnWorker runs in the background; spawn failures fail the session
// through the store so subscribers see the errored status.
func (s *Server) spawnWorker(sessionID string, req spawner.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), spawnTimeout)
	defer cancel()

	trackingID, err := s.spawner.Spawn(ctx, req)
	if err != nil {
		s.sessions.HandleSpawnFailed(sessionID, err)
		return
	}
	if err := s.sessions.SetSpawnTracking(sessionID, trackingID); err != nil {
		s.logger.Warn("Failed to record spawn tracking id",
			"session_id", sessionID, "tracking_id", trackingID, "error", err)
	}
}

// listSessionsHandler handles GET /api/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.sessions.List())
}

// getSessionHandler handles GET /api/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return badRequest(c, "session id is required")
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// stopSessionHandler handles POST /api/sessions/:id/stop.
func (s *Server) stopSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return badRequest(c, "session id is required")
	}
	var req StopSessionRequest
	_ = c.Bind(&req)
	reason := req.Reason
	if reason == "" {
		reason = "Stopped by user"
	}

	if err := s.sessions.Stop(sessionID, reason); err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, StopSessionResponse{
		SessionID: sessionID,
		Status:    "stopped",
	})
}

// listMessagesHandler handles GET /api/sessions/:id/messages?after=N.
func (s *Server) listMessagesHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return badRequest(c, "session id is required")
	}
	if _, err := s.sessions.Get(sessionID); err != nil {
		return writeServiceError(c, err)
	}

	after := 0
	if v := c.QueryParam("after"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return badRequest(c, "after must be a non-negative integer")
		}
		after = n
	}

	msgs := s.messages.List(sessionID, after)
	if msgs == nil {
		msgs = []*models.SessionMessage{}
	}
	return c.JSON(http.StatusOK, msgs)
}
