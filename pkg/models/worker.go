package models

import "time"

// WorkerStatus is the reported execution state of a worker process.
type WorkerStatus string

// Worker states. A worker asking a question moves to waiting_input; once
// the answer is delivered it passes through resuming back to running.
const (
	WorkerIdle         WorkerStatus = "idle"
	WorkerRunning      WorkerStatus = "running"
	WorkerWaitingInput WorkerStatus = "waiting_input"
	WorkerResuming     WorkerStatus = "resuming"
	WorkerStopped      WorkerStatus = "stopped"
)

// Worker is the catalogue record for a remote worker process.
type Worker struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Status    WorkerStatus `json:"status"`
	SessionID string       `json:"sessionId,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
