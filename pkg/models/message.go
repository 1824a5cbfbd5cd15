package models

import "time"

// MessageKind discriminates persisted session messages.
type MessageKind string

// Message kinds.
const (
	MessageUser       MessageKind = "user"
	MessageAssistant  MessageKind = "assistant"
	MessageSystem     MessageKind = "system"
	MessageToolUse    MessageKind = "tool_use"
	MessageToolResult MessageKind = "tool_result"
	MessageResult     MessageKind = "result"
)

// SessionMessage is one persisted message against a session. Sequence
// numbers are dense per session, starting at 1.
type SessionMessage struct {
	SessionID string         `json:"sessionId"`
	Sequence  int            `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      MessageKind    `json:"kind"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
