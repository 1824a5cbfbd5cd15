package events

import (
	"encoding/json"
)

// ClientMessage is a decoded browser → server frame. Exactly the fields
// relevant to the frame's type are populated.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Behavior  string `json:"behavior,omitempty"`
}

// Permission response behaviors.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// DecodeClientMessage validates a browser frame against the closed inbound
// set. Any violation is a ProtocolError and fails the connection.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, NewProtocolError("invalid frame JSON: %v", err)
	}

	switch msg.Type {
	case TypePing:
		// No payload fields.
	case TypeSessionSubscribe, TypeSessionUnsubscribe:
		if msg.SessionID == "" {
			return nil, NewProtocolError("%s requires sessionId", msg.Type)
		}
	case TypeSessionUserMessage:
		if msg.SessionID == "" {
			return nil, NewProtocolError("session_user_message requires sessionId")
		}
		if msg.Content == "" {
			return nil, NewProtocolError("session_user_message requires content")
		}
	case TypeSessionPermissionResponse:
		if msg.SessionID == "" || msg.RequestID == "" {
			return nil, NewProtocolError("session_permission_response requires sessionId and requestId")
		}
		if msg.Behavior != BehaviorAllow && msg.Behavior != BehaviorDeny {
			return nil, NewProtocolError("behavior must be allow or deny, got %q", msg.Behavior)
		}
	default:
		return nil, NewProtocolError("unknown frame type %q", msg.Type)
	}

	return &msg, nil
}
