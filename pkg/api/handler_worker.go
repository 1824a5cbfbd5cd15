package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/hq-ai/hq/pkg/models"
)

// registerWorkerHandler handles POST /api/workers. Registration is an
// upsert: re-registering an id updates its name and status.
func (s *Server) registerWorkerHandler(c *echo.Context) error {
	var req RegisterWorkerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	worker, err := s.workers.Register(req.ID, req.Name, models.WorkerStatus(req.Status))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, worker)
}

// listWorkersHandler handles GET /api/workers.
func (s *Server) listWorkersHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.workers.List())
}

// getWorkerHandler handles GET /api/workers/:id.
func (s *Server) getWorkerHandler(c *echo.Context) error {
	workerID := c.Param("id")
	if workerID == "" {
		return badRequest(c, "worker id is required")
	}
	worker, err := s.workers.Get(workerID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, worker)
}

// removeWorkerHandler handles DELETE /api/workers/:id. Subscribed browsers
// receive an agent:deleted catalogue event.
func (s *Server) removeWorkerHandler(c *echo.Context) error {
	workerID := c.Param("id")
	if workerID == "" {
		return badRequest(c, "worker id is required")
	}
	if err := s.workers.Remove(workerID); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// askQuestionHandler handles POST /api/workers/:id/questions. At most one
// question may be pending per worker.
func (s *Server) askQuestionHandler(c *echo.Context) error {
	workerID := c.Param("id")
	if workerID == "" {
		return badRequest(c, "worker id is required")
	}
	var req AskQuestionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	q, err := s.questions.Ask(workerID, req.Text, req.Options)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, q)
}

// listQuestionsHandler handles GET /api/workers/:id/questions?status=.
func (s *Server) listQuestionsHandler(c *echo.Context) error {
	workerID := c.Param("id")
	if workerID == "" {
		return badRequest(c, "worker id is required")
	}
	if _, err := s.workers.Get(workerID); err != nil {
		return writeServiceError(c, err)
	}

	status := models.QuestionStatus(c.QueryParam("status"))
	switch status {
	case "", models.QuestionPending, models.QuestionAnswered:
	default:
		return badRequest(c, "status must be pending or answered")
	}

	questions := s.questions.List(workerID, status)
	return c.JSON(http.StatusOK, QuestionListResponse{
		Count:     len(questions),
		Questions: questions,
	})
}

// getQuestionHandler handles GET /api/questions/:id.
func (s *Server) getQuestionHandler(c *echo.Context) error {
	questionID := c.Param("id")
	if questionID == "" {
		return badRequest(c, "question id is required")
	}
	q, err := s.questions.Get(questionID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, q)
}

// answerQuestionHandler handles POST /api/workers/:id/questions/:qid/answer.
// The blocked worker resumes through the relay's answered subscription.
func (s *Server) answerQuestionHandler(c *echo.Context) error {
	questionID := c.Param("qid")
	if questionID == "" {
		return badRequest(c, "question id is required")
	}
	var req AnswerQuestionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	q, err := s.questions.Answer(questionID, req.Answer)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, q)
}
