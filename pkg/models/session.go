package models

import (
	"time"
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

// Session lifecycle states.
const (
	SessionStarting SessionStatus = "starting"
	SessionActive   SessionStatus = "active"
	SessionStopped  SessionStatus = "stopped"
	SessionErrored  SessionStatus = "errored"
)

// Terminal reports whether the status is an end-of-life state.
func (s SessionStatus) Terminal() bool {
	return s == SessionStopped || s == SessionErrored
}

// StartupPhase is a sub-state of "starting" and the first moments of
// "active", used for user-facing progress indication.
type StartupPhase string

// Startup phases in order of occurrence.
const (
	PhaseProvisioning StartupPhase = "provisioning"
	PhaseInitializing StartupPhase = "initializing"
	PhaseReady        StartupPhase = "ready"
	PhaseNone         StartupPhase = "none"
)

// Session is the lifecycle record for a single worker invocation.
type Session struct {
	SessionID      string         `json:"sessionId"`
	UserID         string         `json:"userId"`
	WorkerID       string         `json:"workerId"`
	Status         SessionStatus  `json:"status"`
	StartupPhase   StartupPhase   `json:"startupPhase"`
	InitialPrompt  string         `json:"initialPrompt"`
	WorkerContext  map[string]any `json:"workerContext,omitempty"`
	Capabilities   map[string]any `json:"capabilities,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastActivityAt time.Time      `json:"lastActivityAt"`
	StoppedAt      *time.Time     `json:"stoppedAt,omitempty"`
	Error          string         `json:"error,omitempty"`
	MessageCount   int            `json:"messageCount"`
	// SpawnTrackingID identifies the compute task backing this session,
	// empty until the spawner has accepted the submission.
	SpawnTrackingID string `json:"spawnTrackingId,omitempty"`
}

// Clone returns a copy safe to hand out across goroutine boundaries.
func (s *Session) Clone() *Session {
	out := *s
	if s.WorkerContext != nil {
		out.WorkerContext = make(map[string]any, len(s.WorkerContext))
		for k, v := range s.WorkerContext {
			out.WorkerContext[k] = v
		}
	}
	if s.Capabilities != nil {
		out.Capabilities = make(map[string]any, len(s.Capabilities))
		for k, v := range s.Capabilities {
			out.Capabilities[k] = v
		}
	}
	if s.StoppedAt != nil {
		t := *s.StoppedAt
		out.StoppedAt = &t
	}
	return &out
}
