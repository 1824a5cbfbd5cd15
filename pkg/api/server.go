// Package api is the HTTP and WebSocket surface of the control plane.
// Handlers are thin: they validate input, call one service, and map the
// result through a single error mapper.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/hq-ai/hq/pkg/auth"
	"github.com/hq-ai/hq/pkg/registry"
	"github.com/hq-ai/hq/pkg/relay"
	"github.com/hq-ai/hq/pkg/services"
	"github.com/hq-ai/hq/pkg/spawner"
)

// Server holds the handler dependencies.
type Server struct {
	sessions  *services.SessionService
	messages  *services.MessageService
	workers   *services.WorkerService
	questions *services.QuestionService
	shares    *services.ShareService

	registry *registry.Registry
	relay    *relay.Relay
	keys     *auth.KeyService
	tokens   *auth.TokenStore

	// spawner is nil when worker spawning is not configured; sessions are
	// then attached by externally started workers.
	spawner *spawner.Spawner

	skipAuth   bool
	syncBucket string
	syncPrefix string
	sync       FileCounter

	httpServer *http.Server
	logger     *slog.Logger
}

// FileCounter reports how many files the sync mirror tracks. The poller
// implements it.
type FileCounter interface {
	FileCount() int
}

// Deps bundles the server's collaborators.
type Deps struct {
	Sessions  *services.SessionService
	Messages  *services.MessageService
	Workers   *services.WorkerService
	Questions *services.QuestionService
	Shares    *services.ShareService
	Registry  *registry.Registry
	Relay     *relay.Relay
	Keys      *auth.KeyService
	Tokens    *auth.TokenStore
	Spawner   *spawner.Spawner

	SkipAuth   bool
	SyncBucket string
	SyncPrefix string

	// Sync is nil when file sync is not configured.
	Sync FileCounter
}

// NewServer creates the API server.
func NewServer(deps Deps) *Server {
	return &Server{
		sessions:   deps.Sessions,
		messages:   deps.Messages,
		workers:    deps.Workers,
		questions:  deps.Questions,
		shares:     deps.Shares,
		registry:   deps.Registry,
		relay:      deps.Relay,
		keys:       deps.Keys,
		tokens:     deps.Tokens,
		spawner:    deps.Spawner,
		skipAuth:   deps.SkipAuth,
		syncBucket: deps.SyncBucket,
		syncPrefix: deps.SyncPrefix,
		sync:       deps.Sync,
		logger:     slog.Default().With("component", "api"),
	}
}

// RegisterRoutes attaches every route to the echo instance. The health
// endpoint, key bootstrap, and the WebSocket endpoints sit outside the
// API-key gate; everything under /api is authenticated.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.POST("/api/auth/keys/generate", s.generateKeyHandler)

	api := e.Group("/api", s.apiKeyAuth(s.skipAuth))

	api.GET("/auth/setup-status", s.setupStatusHandler)

	api.POST("/sessions", s.createSessionHandler)
	api.GET("/sessions", s.listSessionsHandler)
	api.GET("/sessions/:id", s.getSessionHandler)
	api.POST("/sessions/:id/stop", s.stopSessionHandler)
	api.GET("/sessions/:id/messages", s.listMessagesHandler)

	api.POST("/workers", s.registerWorkerHandler)
	api.GET("/workers", s.listWorkersHandler)
	api.GET("/workers/:id", s.getWorkerHandler)
	api.DELETE("/workers/:id", s.removeWorkerHandler)
	api.POST("/workers/:id/questions", s.askQuestionHandler)
	api.GET("/workers/:id/questions", s.listQuestionsHandler)
	api.POST("/workers/:id/questions/:qid/answer", s.answerQuestionHandler)
	api.GET("/questions/:id", s.getQuestionHandler)

	api.POST("/shares", s.createShareHandler)
	api.GET("/shares", s.listSharesHandler)
	api.GET("/shares/accessible/:userId", s.accessiblePathsHandler)
	api.GET("/shares/access/check", s.checkAccessHandler)
	api.GET("/shares/:id", s.getShareHandler)
	api.PATCH("/shares/:id", s.updateShareHandler)
	api.POST("/shares/:id/revoke", s.revokeShareHandler)
	api.DELETE("/shares/:id", s.deleteShareHandler)
	api.GET("/shares/:id/policy", s.sharePolicyHandler)

	e.GET("/ws", s.browserWSHandler)
	e.GET("/ws/relay/:sessionId", s.relayWSHandler)
}

// Start builds the echo instance and serves it on addr. Blocks until the
// listener fails or Shutdown runs.
func (s *Server) Start(addr string) error {
	e := echo.New()
	s.RegisterRoutes(e)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
