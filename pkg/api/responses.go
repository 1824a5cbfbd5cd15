package api

import (
	"github.com/hq-ai/hq/pkg/auth"
	"github.com/hq-ai/hq/pkg/models"
)

// CreateSessionResponse returns the new session's id together with the
// one-shot worker access token. The token is never recoverable afterwards.
type CreateSessionResponse struct {
	SessionID   string               `json:"sessionId"`
	AccessToken string               `json:"accessToken"`
	Status      models.SessionStatus `json:"status"`
}

// StopSessionResponse confirms a stop request.
type StopSessionResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// GeneratedKeyResponse returns a freshly minted API key. The key itself is
// shown in this response and never again.
type GeneratedKeyResponse struct {
	auth.GeneratedKey
	Message string `json:"message"`
}

// SetupStatusResponse reports whether any API key has been provisioned and
// what the file-sync mirror currently tracks.
type SetupStatusResponse struct {
	SetupComplete bool    `json:"setupComplete"`
	S3Prefix      *string `json:"s3Prefix"`
	FileCount     int     `json:"fileCount"`
}

// QuestionListResponse is the body of GET /api/workers/:id/questions.
type QuestionListResponse struct {
	Count     int                       `json:"count"`
	Questions []*models.PendingQuestion `json:"questions"`
}

// CheckAccessResponse is the result of a share access check.
type CheckAccessResponse struct {
	Allowed bool `json:"allowed"`
}
