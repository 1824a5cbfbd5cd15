package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hq-ai/hq/pkg/auth"
	"github.com/hq-ai/hq/pkg/models"
	"github.com/hq-ai/hq/pkg/registry"
	"github.com/hq-ai/hq/pkg/relay"
	"github.com/hq-ai/hq/pkg/services"
)

// apiFixture routes requests through the real router so path parameters and
// middleware behave as in production. No spawner is wired; sessions stay in
// starting until a worker attaches.
type apiFixture struct {
	e        *echo.Echo
	server   *Server
	sessions *services.SessionService
	workers  *services.WorkerService
	keys     *auth.KeyService
}

func newAPIFixture(t *testing.T, skipAuth bool) *apiFixture {
	t.Helper()
	reg := registry.New()
	sessions := services.NewSessionService(services.DefaultSessionConfig(), reg, reg, reg)
	workers := services.NewWorkerService()
	messages := services.NewMessageService(sessions)
	questions := services.NewQuestionService(workers, sessions)
	keys := auth.NewKeyService()
	tokens := auth.NewTokenStore()
	rel := relay.New(reg, sessions, messages, workers, questions, tokens)

	server := NewServer(Deps{
		Sessions:   sessions,
		Messages:   messages,
		Workers:    workers,
		Questions:  questions,
		Shares:     services.NewShareService(),
		Registry:   reg,
		Relay:      rel,
		Keys:       keys,
		Tokens:     tokens,
		SkipAuth:   skipAuth,
		SyncBucket: "hq-user-files",
	})
	e := echo.New()
	server.RegisterRoutes(e)

	return &apiFixture{e: e, server: server, sessions: sessions, workers: workers, keys: keys}
}

func (f *apiFixture) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthHandler(t *testing.T) {
	f := newAPIFixture(t, true)

	rec := f.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
	assert.Equal(t, float64(0), body["connections"])
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestCreateSessionHandler(t *testing.T) {
	f := newAPIFixture(t, true)

	t.Run("creates session with one-shot token", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/sessions",
			CreateSessionRequest{Prompt: "refactor the parser"}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		resp := decodeBody[CreateSessionResponse](t, rec)
		assert.NotEmpty(t, resp.SessionID)
		assert.NotEmpty(t, resp.AccessToken)
		assert.Equal(t, models.SessionStarting, resp.Status)

		sess, err := f.sessions.Get(resp.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "default", sess.UserID)

		// The paired worker record exists.
		_, err = f.workers.Get(sess.WorkerID)
		assert.NoError(t, err)
	})

	t.Run("missing prompt", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/sessions", CreateSessionRequest{}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetSessionHandler(t *testing.T) {
	f := newAPIFixture(t, true)
	created := decodeBody[CreateSessionResponse](t,
		f.do(http.MethodPost, "/api/sessions", CreateSessionRequest{Prompt: "p"}, nil))

	rec := f.do(http.MethodGet, "/api/sessions/"+created.SessionID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[models.Session](t, rec)
	assert.Equal(t, created.SessionID, got.SessionID)

	rec = f.do(http.MethodGet, "/api/sessions/s-missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopSessionHandler(t *testing.T) {
	f := newAPIFixture(t, true)
	created := decodeBody[CreateSessionResponse](t,
		f.do(http.MethodPost, "/api/sessions", CreateSessionRequest{Prompt: "p"}, nil))

	rec := f.do(http.MethodPost, "/api/sessions/"+created.SessionID+"/stop",
		StopSessionRequest{Reason: "done testing"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[StopSessionResponse](t, rec)
	assert.Equal(t, "stopped", resp.Status)

	sess, err := f.sessions.Get(created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStopped, sess.Status)

	// Stopping again is idempotent.
	rec = f.do(http.MethodPost, "/api/sessions/"+created.SessionID+"/stop", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/sessions/s-missing/stop", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMessagesHandler(t *testing.T) {
	f := newAPIFixture(t, true)
	created := decodeBody[CreateSessionResponse](t,
		f.do(http.MethodPost, "/api/sessions", CreateSessionRequest{Prompt: "p"}, nil))
	sessionID := created.SessionID

	t.Run("empty history is an array", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/sessions/"+sessionID+"/messages", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("bad after parameter", func(t *testing.T) {
		for _, after := range []string{"abc", "-1"} {
			rec := f.do(http.MethodGet, "/api/sessions/"+sessionID+"/messages?after="+after, nil, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/sessions/s-missing/messages", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestWorkerAndQuestionHandlers(t *testing.T) {
	f := newAPIFixture(t, true)

	rec := f.do(http.MethodPost, "/api/workers",
		RegisterWorkerRequest{ID: "w-1", Name: "builder"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	worker := decodeBody[models.Worker](t, rec)
	assert.Equal(t, models.WorkerIdle, worker.Status)

	rec = f.do(http.MethodPost, "/api/workers", RegisterWorkerRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "id is required")

	rec = f.do(http.MethodPost, "/api/workers/w-1/questions",
		AskQuestionRequest{Text: "Deploy to staging?", Options: []models.QuestionOption{
			{ID: "yes", Text: "Yes"}, {ID: "no", Text: "No"}}}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	q := decodeBody[models.PendingQuestion](t, rec)
	assert.Equal(t, models.QuestionPending, q.Status)

	// A second pending question for the same worker conflicts.
	rec = f.do(http.MethodPost, "/api/workers/w-1/questions",
		AskQuestionRequest{Text: "Another?"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodGet, "/api/workers/w-1/questions?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/workers/w-1/questions/"+q.QuestionID+"/answer",
		AnswerQuestionRequest{Answer: "yes"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	answered := decodeBody[models.PendingQuestion](t, rec)
	assert.Equal(t, "yes", answered.Answer)

	rec = f.do(http.MethodGet, "/api/workers/w-1/questions?status=answered", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[QuestionListResponse](t, rec)
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Questions, 1)
	assert.Equal(t, q.QuestionID, list.Questions[0].QuestionID)

	rec = f.do(http.MethodGet, "/api/questions/"+q.QuestionID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/workers/w-1/questions/q-missing/answer",
		AnswerQuestionRequest{Answer: "x"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodDelete, "/api/workers/w-1", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodDelete, "/api/workers/w-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShareHandlers(t *testing.T) {
	f := newAPIFixture(t, true)

	rec := f.do(http.MethodPost, "/api/shares", CreateShareRequest{
		OwnerID: "alice", RecipientID: "bob", Paths: []string{"projects/app/"}}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	share := decodeBody[models.Share](t, rec)
	assert.Equal(t, models.ShareActive, share.Status)

	t.Run("bad expiry format", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/shares", CreateShareRequest{
			OwnerID: "alice", RecipientID: "bob", Paths: []string{"a/"},
			ExpiresAt: "tomorrow"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("access check", func(t *testing.T) {
		rec := f.do(http.MethodGet,
			"/api/shares/access/check?recipientId=bob&ownerId=alice&path=projects/app/main.go", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decodeBody[CheckAccessResponse](t, rec).Allowed)

		rec = f.do(http.MethodGet, "/api/shares/access/check?recipientId=bob", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(http.MethodGet, "/api/shares/accessible/bob", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		accessible := decodeBody[map[string][]string](t, rec)
		assert.Contains(t, accessible["alice"], "projects/app/")
	})

	t.Run("policy document", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/shares/"+share.ShareID+"/policy", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody[map[string]any](t, rec)
		assert.Equal(t, "2012-10-17", body["Version"])
	})

	t.Run("revoke then delete", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/shares/"+share.ShareID+"/revoke", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(http.MethodDelete, "/api/shares/"+share.ShareID, nil, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.do(http.MethodGet, "/api/shares/"+share.ShareID, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAuthHandlers_Bootstrap(t *testing.T) {
	f := newAPIFixture(t, false)

	// Setup status is gated like every other API route.
	rec := f.do(http.MethodGet, "/api/auth/setup-status", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// The first key can be generated without credentials.
	rec = f.do(http.MethodPost, "/api/auth/keys/generate",
		GenerateKeyRequest{Name: "bootstrap"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeBody[GeneratedKeyResponse](t, rec)
	assert.NotEmpty(t, first.Key)
	assert.NotEmpty(t, first.Message)

	rec = f.do(http.MethodGet, "/api/auth/setup-status", nil,
		map[string]string{"Authorization": "Bearer " + first.Key})
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[SetupStatusResponse](t, rec)
	assert.True(t, status.SetupComplete)
	assert.Nil(t, status.S3Prefix)

	// After that the endpoint is gated like everything else.
	rec = f.do(http.MethodPost, "/api/auth/keys/generate",
		GenerateKeyRequest{Name: "second"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/keys/generate",
		GenerateKeyRequest{Name: "second"},
		map[string]string{"Authorization": "Bearer " + first.Key})
	assert.Equal(t, http.StatusCreated, rec.Code)

	t.Run("name required", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/auth/keys/generate",
			GenerateKeyRequest{},
			map[string]string{"Authorization": "Bearer " + first.Key})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAPIKeyGate(t *testing.T) {
	f := newAPIFixture(t, false)

	generated, err := f.keys.Generate("ci", 0)
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/api/sessions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/sessions", nil,
		map[string]string{"X-API-Key": generated.Key})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/sessions", nil,
		map[string]string{"Authorization": "Bearer hq_bogus_key"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
