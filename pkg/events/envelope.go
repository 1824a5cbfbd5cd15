package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the {type, payload, timestamp} wrapping used on the
// browser-facing channel. Worker events are re-wrapped into this envelope
// by the relay even when the worker emits a bare payload.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// browserOutbound is the closed set of server → browser variants.
var browserOutbound = map[string]bool{
	TypeConnected:                 true,
	TypeError:                     true,
	TypePong:                      true,
	TypeSessionStatus:             true,
	TypeSessionMessage:            true,
	TypeSessionStream:             true,
	TypeSessionPermissionRequest:  true,
	TypeSessionPermissionResolved: true,
	TypeSessionToolProgress:       true,
	TypeSessionResult:             true,
	TypeAgentCreated:              true,
	TypeAgentUpdated:              true,
	TypeAgentDeleted:              true,
}

// NewEnvelope wraps a typed payload into an outbound envelope stamped with
// the current time in ISO-8601.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	if !browserOutbound[eventType] {
		return Envelope{}, fmt.Errorf("unknown outbound event type %q", eventType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// MustEnvelope is NewEnvelope for payload types known to marshal; it panics
// on failure and is used only with the typed payload structs in this package.
func MustEnvelope(eventType string, payload any) Envelope {
	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Marshal serializes the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes an outbound envelope. Parse-then-serialize is a
// fixed point: the raw payload bytes are preserved verbatim.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, NewProtocolError("invalid envelope JSON: %v", err)
	}
	if !browserOutbound[env.Type] {
		return Envelope{}, NewProtocolError("unknown envelope type %q", env.Type)
	}
	return env, nil
}
