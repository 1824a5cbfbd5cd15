package models

import "time"

// QuestionStatus is the answered/pending discriminator for a question.
type QuestionStatus string

// Question states.
const (
	QuestionPending  QuestionStatus = "pending"
	QuestionAnswered QuestionStatus = "answered"
)

// QuestionOption is one selectable answer for a question with a closed
// answer set.
type QuestionOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PendingQuestion is a worker request for human input. At most one may be
// pending per worker; once answered the record is immutable.
type PendingQuestion struct {
	QuestionID string           `json:"questionId"`
	WorkerID   string           `json:"workerId"`
	Text       string           `json:"text"`
	Options    []QuestionOption `json:"options,omitempty"`
	AskedAt    time.Time        `json:"askedAt"`
	AnsweredAt *time.Time       `json:"answeredAt,omitempty"`
	Answer     string           `json:"answer,omitempty"`
	Status     QuestionStatus   `json:"status"`
}

// Clone returns a copy safe to hand out to subscribers and HTTP responses.
func (q *PendingQuestion) Clone() *PendingQuestion {
	out := *q
	if q.Options != nil {
		out.Options = make([]QuestionOption, len(q.Options))
		copy(out.Options, q.Options)
	}
	if q.AnsweredAt != nil {
		t := *q.AnsweredAt
		out.AnsweredAt = &t
	}
	return &out
}
