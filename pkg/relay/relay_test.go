package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hq-ai/hq/pkg/auth"
	"github.com/hq-ai/hq/pkg/events"
	"github.com/hq-ai/hq/pkg/models"
	"github.com/hq-ai/hq/pkg/registry"
	"github.com/hq-ai/hq/pkg/services"
)

// wsFake records frames written to one side of the relay.
type wsFake struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (f *wsFake) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return nil
}

func (f *wsFake) Ping(context.Context) error { return nil }

func (f *wsFake) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *wsFake) snapshot() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

// workerFrames decodes everything written to a worker socket so far.
func (f *wsFake) workerFrames(t *testing.T) []*events.WorkerFrame {
	t.Helper()
	var out []*events.WorkerFrame
	for _, w := range f.snapshot() {
		for _, line := range events.SplitWorkerFrames(w) {
			frame, err := events.DecodeWorkerFrame(line)
			require.NoError(t, err)
			out = append(out, frame)
		}
	}
	return out
}

// waitEnvelope blocks until the browser socket has received an envelope of
// the given type.
func waitEnvelope(t *testing.T, sock *wsFake, eventType string) events.Envelope {
	t.Helper()
	var found events.Envelope
	require.Eventually(t, func() bool {
		for _, w := range sock.snapshot() {
			var env events.Envelope
			if json.Unmarshal(w, &env) == nil && env.Type == eventType {
				found = env
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond, "no %s envelope arrived", eventType)
	return found
}

type fixture struct {
	reg       *registry.Registry
	sessions  *services.SessionService
	messages  *services.MessageService
	workers   *services.WorkerService
	questions *services.QuestionService
	tokens    *auth.TokenStore
	relay     *Relay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	sessions := services.NewSessionService(services.DefaultSessionConfig(), reg, reg, reg)
	workers := services.NewWorkerService()
	f := &fixture{
		reg:       reg,
		sessions:  sessions,
		messages:  services.NewMessageService(sessions),
		workers:   workers,
		questions: services.NewQuestionService(workers, sessions),
		tokens:    auth.NewTokenStore(),
	}
	f.sessions.SetTokenRevoker(f.tokens)
	f.relay = New(reg, sessions, f.messages, workers, f.questions, f.tokens)
	return f
}

// newSession creates a session with a minted access token.
func (f *fixture) newSession(t *testing.T, prompt string) (*models.Session, string) {
	t.Helper()
	sess, err := f.sessions.Create(context.Background(), "u-1", prompt, nil)
	require.NoError(t, err)
	token, err := f.tokens.Mint(sess.SessionID)
	require.NoError(t, err)
	return sess, token
}

func (f *fixture) attach(t *testing.T, sessionID, token string) (*registry.Connection, *wsFake) {
	t.Helper()
	sock := &wsFake{}
	conn, err := f.relay.AttachWorker(context.Background(), sessionID, token, sock)
	require.NoError(t, err)
	return conn, sock
}

// subscribe registers a browser connection and subscribes it to the session.
func (f *fixture) subscribe(t *testing.T, deviceID, sessionID string) (*registry.Connection, *wsFake) {
	t.Helper()
	sock := &wsFake{}
	conn := f.reg.Register(context.Background(), deviceID, sock)
	sub, _ := json.Marshal(map[string]string{
		"type": events.TypeSessionSubscribe, "sessionId": sessionID})
	require.NoError(t, f.relay.HandleClientData(conn, sub))
	return conn, sock
}

func TestAttachWorker_InitialPromptIsFirstFrame(t *testing.T) {
	f := newFixture(t)
	sess, token := f.newSession(t, "fix the login bug")

	_, sock := f.attach(t, sess.SessionID, token)

	require.Eventually(t, func() bool {
		return len(sock.snapshot()) >= 1
	}, time.Second, 10*time.Millisecond)

	frames := sock.workerFrames(t)
	require.NotEmpty(t, frames)
	assert.Equal(t, events.WorkerFrameUser, frames[0].Type)
	assert.Equal(t, "fix the login bug", frames[0].Content)

	// The attach advances the startup phase and records the prompt as the
	// first session message.
	got, err := f.sessions.Get(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseInitializing, got.StartupPhase)
	assert.Equal(t, 1, f.messages.Count(sess.SessionID))
}

func TestAttachWorker_TokenIsSingleUse(t *testing.T) {
	f := newFixture(t)
	sess, token := f.newSession(t, "p")

	f.attach(t, sess.SessionID, token)

	_, err := f.relay.AttachWorker(context.Background(), sess.SessionID, token, &wsFake{})
	assert.ErrorIs(t, err, services.ErrForbidden)
}

func TestAttachWorker_Rejections(t *testing.T) {
	f := newFixture(t)

	t.Run("unknown session", func(t *testing.T) {
		_, err := f.relay.AttachWorker(context.Background(), "s-missing", "tok", &wsFake{})
		assert.ErrorIs(t, err, services.ErrNotFound)
	})

	t.Run("terminal session", func(t *testing.T) {
		sess, token := f.newSession(t, "p")
		require.NoError(t, f.sessions.Stop(sess.SessionID, "Stopped by user"))
		_, err := f.relay.AttachWorker(context.Background(), sess.SessionID, token, &wsFake{})
		assert.ErrorIs(t, err, services.ErrConflict)
	})

	t.Run("empty token", func(t *testing.T) {
		sess, _ := f.newSession(t, "p")
		_, err := f.relay.AttachWorker(context.Background(), sess.SessionID, "", &wsFake{})
		assert.ErrorIs(t, err, services.ErrUnauthorized)
	})
}

func TestHandleWorkerLine_InitActivatesSession(t *testing.T) {
	f := newFixture(t)
	sess, token := f.newSession(t, "p")
	f.attach(t, sess.SessionID, token)

	f.relay.HandleWorkerLine(sess.SessionID,
		[]byte(`{"type":"system","subtype":"init","capabilities":{"model":"large"}}`))

	got, err := f.sessions.Get(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, got.Status)
	assert.Equal(t, "large", got.Capabilities["model"])
}

func TestHandleWorkerLine_PersistsAndBroadcastsMessages(t *testing.T) {
	f := newFixture(t)
	sess, token := f.newSession(t, "p")
	f.attach(t, sess.SessionID, token)
	_, browser := f.subscribe(t, "device-1", sess.SessionID)

	f.relay.HandleWorkerLine(sess.SessionID,
		[]byte(`{"type":"assistant","content":"on it"}`))

	env := waitEnvelope(t, browser, events.TypeSessionMessage)
	var payload events.SessionMessagePayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "assistant", payload.MessageType)
	assert.Equal(t, "on it", payload.Content)

	// Prompt plus the assistant reply.
	assert.Equal(t, 2, f.messages.Count(sess.SessionID))
}

func TestHandleWorkerLine_DropsMalformedAndUnknown(t *testing.T) {
	f := newFixture(t)
	sess, token := f.newSession(t, "p")
	f.attach(t, sess.SessionID, token)

	f.relay.HandleWorkerLine(sess.SessionID, []byte(`not json at all`))
	f.relay.HandleWorkerLine(sess.SessionID, []byte(`{"content":"no type"}`))
	f.relay.HandleWorkerLine(sess.SessionID, []byte(`{"type":"debug","content":"x"}`))

	// Only the initial prompt is on record.
	assert.Equal(t, 1, f.messages.Count(sess.SessionID))
}

func TestHandleWorkerLine_QuestionBlocksWorker(t *testing.T) {
	f := newFixture(t)
	sess, token := f.newSession(t, "p")
	f.attach(t, sess.SessionID, token)

	f.relay.HandleWorkerLine(sess.SessionID,
		[]byte(`{"type":"question","text":"Which env?","options":[{"id":"prod","text":"Production"},{"id":"stage","text":"Staging"}]}`))

	pending, ok := f.questions.PendingForWorker(sess.WorkerID)
	require.True(t, ok)
	assert.Equal(t, "Which env?", pending.Text)
	require.Len(t, pending.Options, 2)
	assert.Equal(t, "prod", pending.Options[0].ID)

	w, err := f.workers.Get(sess.WorkerID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerWaitingInput, w.Status)
}

func TestAnswer_ResumesWorker(t *testing.T) {
	f := newFixture(t)
	sess, token := f.newSession(t, "p")
	_, workerSock := f.attach(t, sess.SessionID, token)

	f.relay.HandleWorkerLine(sess.SessionID,
		[]byte(`{"type":"question","text":"Proceed?","options":[{"id":"yes","text":"Yes"},{"id":"no","text":"No"}]}`))
	pending, ok := f.questions.PendingForWorker(sess.WorkerID)
	require.True(t, ok)

	// Answering through the service (as the HTTP API does) must reach the
	// worker socket as a user frame.
	_, err := f.questions.Answer(pending.QuestionID, "yes")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		frames := workerSock.workerFrames(t)
		return len(frames) >= 2 && frames[len(frames)-1].Content == "yes"
	}, time.Second, 10*time.Millisecond)
}

func TestHandleWorkerLine_ResultStopsSession(t *testing.T) {
	f := newFixture(t)
	sess, token := f.newSession(t, "p")
	f.attach(t, sess.SessionID, token)
	_, browser := f.subscribe(t, "device-1", sess.SessionID)

	f.relay.HandleWorkerLine(sess.SessionID,
		[]byte(`{"type":"system","subtype":"init"}`))
	f.relay.HandleWorkerLine(sess.SessionID,
		[]byte(`{"type":"result","content":"all done","result":{"exitCode":0}}`))

	env := waitEnvelope(t, browser, events.TypeSessionResult)
	var payload events.SessionResultPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.JSONEq(t, `{"exitCode":0}`, string(payload.Result))

	got, err := f.sessions.Get(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStopped, got.Status)

	w, err := f.workers.Get(sess.WorkerID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStopped, w.Status)
}

func TestWorkerClosed_CancelsQuestionAndStopsActiveSession(t *testing.T) {
	f := newFixture(t)
	sess, token := f.newSession(t, "p")
	conn, _ := f.attach(t, sess.SessionID, token)

	f.relay.HandleWorkerLine(sess.SessionID,
		[]byte(`{"type":"system","subtype":"init"}`))
	f.relay.HandleWorkerLine(sess.SessionID,
		[]byte(`{"type":"question","text":"Still there?"}`))

	f.relay.WorkerClosed(sess.SessionID, conn)

	_, ok := f.questions.PendingForWorker(sess.WorkerID)
	assert.False(t, ok)
	assert.False(t, f.reg.HasWorker(sess.SessionID))

	got, err := f.sessions.Get(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStopped, got.Status)
}

func TestPumpWorker_KeepaliveExpiryErrorsSession(t *testing.T) {
	f := newFixture(t)
	sess, token := f.newSession(t, "p")
	conn, _ := f.attach(t, sess.SessionID, token)
	f.relay.SetKeepalive(20 * time.Millisecond)

	// A connected worker that never emits a single frame.
	read := func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.relay.PumpWorker(context.Background(), sess.SessionID, conn, read)

	got, err := f.sessions.Get(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionErrored, got.Status)
	assert.Equal(t, "Worker keepalive timeout", got.Error)
	assert.False(t, f.reg.HasWorker(sess.SessionID))
}

func TestPumpWorker_CancellationIsNotAnError(t *testing.T) {
	f := newFixture(t)
	sess, token := f.newSession(t, "p")
	conn, _ := f.attach(t, sess.SessionID, token)
	f.relay.SetKeepalive(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	read := func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.relay.PumpWorker(ctx, sess.SessionID, conn, read)

	got, err := f.sessions.Get(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStarting, got.Status)
}
