package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hq-ai/hq/pkg/models"
)

func TestMessageService_DenseSequences(t *testing.T) {
	s := NewMessageService(nil)

	first := s.Append("s-1", models.MessageUser, "hello", nil)
	second := s.Append("s-1", models.MessageAssistant, "hi there", nil)
	other := s.Append("s-2", models.MessageUser, "separate stream", nil)

	assert.Equal(t, 1, first.Sequence)
	assert.Equal(t, 2, second.Sequence)
	assert.Equal(t, 1, other.Sequence, "sequences are per session")
	assert.Equal(t, 2, s.Count("s-1"))
}

func TestMessageService_ListAfter(t *testing.T) {
	s := NewMessageService(nil)
	for i := 0; i < 5; i++ {
		s.Append("s-1", models.MessageAssistant, "m", nil)
	}

	assert.Len(t, s.List("s-1", 0), 5)

	tail := s.List("s-1", 3)
	require.Len(t, tail, 2)
	assert.Equal(t, 4, tail[0].Sequence)
	assert.Equal(t, 5, tail[1].Sequence)

	assert.Nil(t, s.List("s-1", 5))
	assert.Nil(t, s.List("s-1", 99))
	assert.Len(t, s.List("s-1", -1), 5)
}

func TestMessageService_BumpsSessionCounter(t *testing.T) {
	sessions, _, _ := newTestSessionService(DefaultSessionConfig())
	s := NewMessageService(sessions)

	sess, err := sessions.Create(context.Background(), "u-1", "p", nil)
	require.NoError(t, err)

	s.Append(sess.SessionID, models.MessageUser, "hello", nil)
	s.Append(sess.SessionID, models.MessageAssistant, "hi", nil)

	got, err := sessions.Get(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
}
