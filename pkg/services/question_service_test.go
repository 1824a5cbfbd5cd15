package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hq-ai/hq/pkg/models"
)

func newTestQuestionService(t *testing.T) (*QuestionService, *WorkerService) {
	t.Helper()
	workers := NewWorkerService()
	_, err := workers.Register("w-1", "builder", models.WorkerIdle)
	require.NoError(t, err)
	return NewQuestionService(workers, nil), workers
}

func TestQuestionService_AskAnswerRoundTrip(t *testing.T) {
	s, workers := newTestQuestionService(t)

	q, err := s.Ask("w-1", "What branch?", []models.QuestionOption{
		{ID: "main", Text: "main"},
		{ID: "develop", Text: "develop"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.QuestionPending, q.Status)

	w, _ := workers.Get("w-1")
	assert.Equal(t, models.WorkerWaitingInput, w.Status)

	// The blocked caller resolves with the chosen option.
	done := make(chan string, 1)
	go func() {
		answer, err := s.Await(context.Background(), q.QuestionID)
		if err == nil {
			done <- answer
		}
	}()

	time.Sleep(10 * time.Millisecond)
	answered, err := s.Answer(q.QuestionID, "main")
	require.NoError(t, err)
	assert.Equal(t, models.QuestionAnswered, answered.Status)
	assert.Equal(t, "main", answered.Answer)

	select {
	case answer := <-done:
		assert.Equal(t, "main", answer)
	case <-time.After(time.Second):
		t.Fatal("Await did not resolve")
	}

	w, _ = workers.Get("w-1")
	assert.Equal(t, models.WorkerRunning, w.Status)
}

func TestQuestionService_AskRejections(t *testing.T) {
	s, _ := newTestQuestionService(t)

	t.Run("empty text", func(t *testing.T) {
		_, err := s.Ask("w-1", "", nil)
		assert.True(t, IsValidationError(err))
	})

	t.Run("duplicate option id", func(t *testing.T) {
		_, err := s.Ask("w-1", "Pick one", []models.QuestionOption{
			{ID: "a", Text: "first"},
			{ID: "a", Text: "second"},
		})
		require.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "Duplicate option ID: a")
	})

	t.Run("unknown worker", func(t *testing.T) {
		_, err := s.Ask("w-missing", "Anyone there?", nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("second pending question conflicts", func(t *testing.T) {
		_, err := s.Ask("w-1", "First?", nil)
		require.NoError(t, err)
		_, err = s.Ask("w-1", "Second?", nil)
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestQuestionService_AnswerRejections(t *testing.T) {
	s, _ := newTestQuestionService(t)
	q, err := s.Ask("w-1", "Pick", []models.QuestionOption{
		{ID: "a", Text: "A"}, {ID: "b", Text: "B"}})
	require.NoError(t, err)

	t.Run("empty answer", func(t *testing.T) {
		_, err := s.Answer(q.QuestionID, "")
		assert.True(t, IsValidationError(err))
	})

	t.Run("outside option set", func(t *testing.T) {
		_, err := s.Answer(q.QuestionID, "c")
		require.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "must be one of the option IDs")
	})

	t.Run("unknown question", func(t *testing.T) {
		_, err := s.Answer("q-missing", "a")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("already answered", func(t *testing.T) {
		_, err := s.Answer(q.QuestionID, "a")
		require.NoError(t, err)
		_, err = s.Answer(q.QuestionID, "b")
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestQuestionService_FreeTextAnswer(t *testing.T) {
	s, _ := newTestQuestionService(t)
	q, err := s.Ask("w-1", "Describe the bug", nil)
	require.NoError(t, err)

	answered, err := s.Answer(q.QuestionID, "it crashes on empty input")
	require.NoError(t, err)
	assert.Equal(t, "it crashes on empty input", answered.Answer)
}

func TestQuestionService_AwaitTimeout(t *testing.T) {
	s, _ := newTestQuestionService(t)
	s.SetAnswerTimeout(20 * time.Millisecond)

	q, err := s.Ask("w-1", "Anyone?", nil)
	require.NoError(t, err)

	_, err = s.Await(context.Background(), q.QuestionID)
	assert.ErrorIs(t, err, ErrAnswerTimeout)

	// The question survives the timeout for later inspection.
	got, err := s.Get(q.QuestionID)
	require.NoError(t, err)
	assert.Equal(t, models.QuestionPending, got.Status)

	pending, ok := s.PendingForWorker("w-1")
	require.True(t, ok)
	assert.Equal(t, q.QuestionID, pending.QuestionID)
}

func TestQuestionService_AwaitCancellation(t *testing.T) {
	s, _ := newTestQuestionService(t)

	t.Run("context cancel", func(t *testing.T) {
		q, err := s.Ask("w-1", "Q1", nil)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err = s.Await(ctx, q.QuestionID)
		assert.ErrorIs(t, err, ErrCancelled)
		s.CancelForWorker("w-1")
	})

	t.Run("worker cancellation releases waiter", func(t *testing.T) {
		q, err := s.Ask("w-1", "Q2", nil)
		require.NoError(t, err)

		errCh := make(chan error, 1)
		go func() {
			_, err := s.Await(context.Background(), q.QuestionID)
			errCh <- err
		}()
		time.Sleep(10 * time.Millisecond)
		s.CancelForWorker("w-1")

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrCancelled)
		case <-time.After(time.Second):
			t.Fatal("Await did not release")
		}
	})
}

func TestQuestionService_Subscribers(t *testing.T) {
	s, _ := newTestQuestionService(t)

	var seen []*models.PendingQuestion
	s.OnQuestionAnswered(func(q *models.PendingQuestion) { seen = append(seen, q) })

	q, err := s.Ask("w-1", "Ship it?", nil)
	require.NoError(t, err)
	_, err = s.Answer(q.QuestionID, "yes")
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, "yes", seen[0].Answer)
	assert.Equal(t, models.QuestionAnswered, seen[0].Status)
}

func TestQuestionService_List(t *testing.T) {
	s, _ := newTestQuestionService(t)

	q1, err := s.Ask("w-1", "First", nil)
	require.NoError(t, err)
	_, err = s.Answer(q1.QuestionID, "done")
	require.NoError(t, err)
	q2, err := s.Ask("w-1", "Second", nil)
	require.NoError(t, err)

	all := s.List("w-1", "")
	assert.Len(t, all, 2)

	pending := s.List("w-1", models.QuestionPending)
	require.Len(t, pending, 1)
	assert.Equal(t, q2.QuestionID, pending[0].QuestionID)

	answered := s.List("w-1", models.QuestionAnswered)
	require.Len(t, answered, 1)
	assert.Equal(t, q1.QuestionID, answered[0].QuestionID)
}
