package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// WorkerFrame is one decoded newline-delimited JSON object from the worker
// stream. Raw preserves the original bytes for verbatim pass-through.
type WorkerFrame struct {
	Type         string          `json:"type"`
	Subtype      string          `json:"subtype,omitempty"`
	Content      string          `json:"content,omitempty"`
	QuestionID   string          `json:"questionId,omitempty"`
	Text         string          `json:"text,omitempty"`
	Options      []WorkerOption  `json:"options,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	ToolName     string          `json:"toolName,omitempty"`
	ToolUseID    string          `json:"toolUseId,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Event        json.RawMessage `json:"event,omitempty"`
	Progress     json.RawMessage `json:"progress,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Capabilities map[string]any  `json:"capabilities,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// WorkerOption mirrors QuestionOption on the worker wire.
type WorkerOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// workerFrameTypes is the closed set of recognized worker frame types.
// Frames outside the set are dropped by the relay, not decoded here; the
// decoder only rejects frames that are not JSON objects at all.
var workerFrameTypes = map[string]bool{
	WorkerFrameSystem:            true,
	WorkerFrameUser:              true,
	WorkerFrameAssistant:         true,
	WorkerFrameToolUse:           true,
	WorkerFrameToolResult:        true,
	WorkerFrameResult:            true,
	WorkerFrameQuestion:          true,
	WorkerFrameStream:            true,
	WorkerFramePermissionRequest: true,
	WorkerFrameToolProgress:      true,
}

// KnownWorkerFrameType reports whether the relay recognizes the frame type.
func KnownWorkerFrameType(t string) bool {
	return workerFrameTypes[t]
}

// DecodeWorkerFrame decodes a single worker line.
func DecodeWorkerFrame(line []byte) (*WorkerFrame, error) {
	var frame WorkerFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		return nil, fmt.Errorf("invalid worker frame: %w", err)
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("worker frame missing type")
	}
	frame.Raw = append(json.RawMessage(nil), line...)
	return &frame, nil
}

// SplitWorkerFrames splits a worker message into its newline-delimited
// lines, skipping blanks. Workers may batch several frames per message.
func SplitWorkerFrames(data []byte) [][]byte {
	lines := bytes.Split(data, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, l := range lines {
		l = bytes.TrimSpace(l)
		if len(l) > 0 {
			out = append(out, l)
		}
	}
	return out
}

// WorkerUserFrame builds the NDJSON user frame sent to a worker, trailing
// newline included.
func WorkerUserFrame(content string) ([]byte, error) {
	frame := map[string]string{"type": WorkerFrameUser, "content": content}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// WorkerPermissionFrame builds the NDJSON permission decision frame.
func WorkerPermissionFrame(requestID, behavior string) ([]byte, error) {
	frame := map[string]string{"type": "permission", "requestId": requestID, "behavior": behavior}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
