package api

import "github.com/hq-ai/hq/pkg/models"

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	UserID        string         `json:"userId"`
	Prompt        string         `json:"prompt"`
	Skill         string         `json:"skill,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	WorkerContext map[string]any `json:"workerContext,omitempty"`
}

// StopSessionRequest is the optional body of POST /api/sessions/:id/stop.
type StopSessionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RegisterWorkerRequest is the body of POST /api/workers.
type RegisterWorkerRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

// AskQuestionRequest is the body of POST /api/workers/:id/questions.
type AskQuestionRequest struct {
	Text    string                  `json:"text"`
	Options []models.QuestionOption `json:"options,omitempty"`
}

// AnswerQuestionRequest is the body of POST /api/workers/:id/questions/:qid/answer.
type AnswerQuestionRequest struct {
	Answer string `json:"answer"`
}

// GenerateKeyRequest is the body of POST /api/auth/keys/generate.
type GenerateKeyRequest struct {
	Name      string `json:"name"`
	RateLimit int    `json:"rateLimit,omitempty"`
}

// CreateShareRequest is the body of POST /api/shares.
type CreateShareRequest struct {
	OwnerID     string   `json:"ownerId"`
	RecipientID string   `json:"recipientId"`
	Paths       []string `json:"paths"`
	ExpiresAt   string   `json:"expiresAt,omitempty"` // RFC3339
}

// UpdateShareRequest is the body of PATCH /api/shares/:id.
type UpdateShareRequest struct {
	Paths []string `json:"paths"`
}
