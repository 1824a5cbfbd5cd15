// Package events defines the wire contract on both sides of the relay.
//
// Browser-facing frames are JSON envelopes {type, payload, timestamp}; the
// variant sets in each direction are closed. Worker-facing frames are
// newline-delimited bare JSON objects tagged by "type".
//
// A frame outside the closed set fails the browser connection with
// PROTOCOL_ERROR. Malformed worker output is logged and dropped instead,
// since workers may interleave stderr noise with their stream.
package events

import "fmt"

// Browser-inbound variant types (client → server).
const (
	TypeSessionSubscribe          = "session_subscribe"
	TypeSessionUnsubscribe        = "session_unsubscribe"
	TypeSessionUserMessage        = "session_user_message"
	TypeSessionPermissionResponse = "session_permission_response"
	TypePing                      = "ping"
)

// Browser-outbound variant types (server → client, always enveloped).
const (
	TypeConnected                 = "connected"
	TypeError                     = "error"
	TypePong                      = "pong"
	TypeSessionStatus             = "session_status"
	TypeSessionMessage            = "session_message"
	TypeSessionStream             = "session_stream"
	TypeSessionPermissionRequest  = "session_permission_request"
	TypeSessionPermissionResolved = "session_permission_resolved"
	TypeSessionToolProgress       = "session_tool_progress"
	TypeSessionResult             = "session_result"
	TypeAgentCreated              = "agent:created"
	TypeAgentUpdated              = "agent:updated"
	TypeAgentDeleted              = "agent:deleted"
)

// Worker frame types (worker → server, newline-delimited JSON).
const (
	WorkerFrameSystem            = "system"
	WorkerFrameUser              = "user"
	WorkerFrameAssistant         = "assistant"
	WorkerFrameToolUse           = "tool_use"
	WorkerFrameToolResult        = "tool_result"
	WorkerFrameResult            = "result"
	WorkerFrameQuestion          = "question"
	WorkerFrameStream            = "stream"
	WorkerFramePermissionRequest = "permission_request"
	WorkerFrameToolProgress      = "tool_progress"
)

// SubtypeInit is the system-frame subtype announcing worker readiness.
const SubtypeInit = "init"

// Error codes carried in error payloads and close reasons.
const (
	CodeProtocolError     = "PROTOCOL_ERROR"
	CodeMissingDeviceID   = "MISSING_DEVICE_ID"
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeWorkerUnavailable = "WORKER_UNAVAILABLE"
)

// ProtocolError indicates a malformed or out-of-contract frame. The
// offending connection is closed; the error never reaches session status.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewProtocolError creates a ProtocolError with code PROTOCOL_ERROR.
func NewProtocolError(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: CodeProtocolError, Message: fmt.Sprintf(format, args...)}
}
