package events

import "encoding/json"

// ConnectedPayload greets a browser connection with its device id.
type ConnectedPayload struct {
	DeviceID string `json:"deviceId"`
}

// ErrorPayload reports a connection-scoped error to the browser.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongPayload answers a browser ping.
type PongPayload struct {
	Timestamp string `json:"timestamp"`
}

// SessionStatusPayload is broadcast on every session status or startup
// phase transition. Optional fields are omitted when not meaningful for
// the transition.
type SessionStatusPayload struct {
	SessionID          string `json:"sessionId"`
	Status             string `json:"status"`
	PendingPermissions int    `json:"pendingPermissions,omitempty"`
	StartupPhase       string `json:"startupPhase,omitempty"`
	StartupTimestamp   string `json:"startupTimestamp,omitempty"`
	Error              string `json:"error,omitempty"`
	LastActivityAt     string `json:"lastActivityAt,omitempty"`
}

// SessionMessagePayload carries a persisted worker message to subscribers.
type SessionMessagePayload struct {
	SessionID   string          `json:"sessionId"`
	MessageType string          `json:"messageType"`
	Content     string          `json:"content"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// SessionStreamPayload passes a worker streaming event through verbatim.
type SessionStreamPayload struct {
	SessionID string          `json:"sessionId"`
	Event     json.RawMessage `json:"event"`
}

// SessionPermissionRequestPayload surfaces a worker tool-permission ask.
type SessionPermissionRequestPayload struct {
	SessionID string          `json:"sessionId"`
	RequestID string          `json:"requestId"`
	ToolName  string          `json:"toolName"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// SessionPermissionResolvedPayload confirms a permission decision to all
// subscribers after it is forwarded to the worker.
type SessionPermissionResolvedPayload struct {
	SessionID string `json:"sessionId"`
	RequestID string `json:"requestId"`
	Behavior  string `json:"behavior"`
}

// SessionToolProgressPayload relays incremental tool output.
type SessionToolProgressPayload struct {
	SessionID string          `json:"sessionId"`
	ToolUseID string          `json:"toolUseId,omitempty"`
	Progress  json.RawMessage `json:"progress"`
}

// SessionResultPayload carries the worker's terminal result.
type SessionResultPayload struct {
	SessionID string          `json:"sessionId"`
	Result    json.RawMessage `json:"result"`
}

// AgentCataloguePayload announces fleet-catalogue changes
// (agent:created, agent:updated, agent:deleted).
type AgentCataloguePayload struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}
