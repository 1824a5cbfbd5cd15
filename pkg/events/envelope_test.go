package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	t.Run("wraps payload with timestamp", func(t *testing.T) {
		env, err := NewEnvelope(TypePong, PongPayload{Timestamp: "2026-01-01T00:00:00Z"})
		require.NoError(t, err)
		assert.Equal(t, TypePong, env.Type)
		assert.NotEmpty(t, env.Timestamp)

		var payload PongPayload
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, "2026-01-01T00:00:00Z", payload.Timestamp)
	})

	t.Run("rejects type outside the outbound set", func(t *testing.T) {
		_, err := NewEnvelope("session_subscribe", nil)
		assert.Error(t, err)

		_, err = NewEnvelope("made_up_event", nil)
		assert.Error(t, err)
	})
}

func TestParseEnvelope_RoundTripFixedPoint(t *testing.T) {
	env, err := NewEnvelope(TypeSessionMessage, SessionMessagePayload{
		SessionID:   "s-1",
		MessageType: "assistant",
		Content:     "hello",
	})
	require.NoError(t, err)

	wire, err := env.Marshal()
	require.NoError(t, err)

	parsed, err := ParseEnvelope(wire)
	require.NoError(t, err)

	rewire, err := parsed.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, string(wire), string(rewire))
	assert.Equal(t, env.Timestamp, parsed.Timestamp)
}

func TestParseEnvelope_Rejections(t *testing.T) {
	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseEnvelope([]byte("{nope"))
		var protoErr *ProtocolError
		require.ErrorAs(t, err, &protoErr)
		assert.Equal(t, CodeProtocolError, protoErr.Code)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := ParseEnvelope([]byte(`{"type":"mystery","timestamp":"t"}`))
		var protoErr *ProtocolError
		require.ErrorAs(t, err, &protoErr)
	})
}

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"ping ok", `{"type":"ping"}`, false},
		{"subscribe ok", `{"type":"session_subscribe","sessionId":"s-1"}`, false},
		{"subscribe missing session", `{"type":"session_subscribe"}`, true},
		{"user message ok", `{"type":"session_user_message","sessionId":"s-1","content":"hi"}`, false},
		{"user message empty content", `{"type":"session_user_message","sessionId":"s-1"}`, true},
		{"permission response ok", `{"type":"session_permission_response","sessionId":"s-1","requestId":"r-1","behavior":"allow"}`, false},
		{"permission bad behavior", `{"type":"session_permission_response","sessionId":"s-1","requestId":"r-1","behavior":"maybe"}`, true},
		{"unknown type", `{"type":"session_destroy"}`, true},
		{"not JSON", `ping`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeClientMessage([]byte(tt.data))
			if tt.wantErr {
				var protoErr *ProtocolError
				require.ErrorAs(t, err, &protoErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, msg.Type)
		})
	}
}

func TestSplitWorkerFrames(t *testing.T) {
	data := []byte("{\"type\":\"assistant\",\"content\":\"a\"}\n\n{\"type\":\"stream\"}\n")
	frames := SplitWorkerFrames(data)
	require.Len(t, frames, 2)

	first, err := DecodeWorkerFrame(frames[0])
	require.NoError(t, err)
	assert.Equal(t, WorkerFrameAssistant, first.Type)
	assert.Equal(t, "a", first.Content)
	assert.JSONEq(t, string(frames[0]), string(first.Raw))
}

func TestWorkerUserFrame(t *testing.T) {
	data, err := WorkerUserFrame("do the thing")
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])

	frame, err := DecodeWorkerFrame(data[:len(data)-1])
	require.NoError(t, err)
	assert.Equal(t, WorkerFrameUser, frame.Type)
	assert.Equal(t, "do the thing", frame.Content)
}

func TestDecodeWorkerFrame_Rejections(t *testing.T) {
	_, err := DecodeWorkerFrame([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeWorkerFrame([]byte(`{"content":"no type"}`))
	assert.Error(t, err)
}
