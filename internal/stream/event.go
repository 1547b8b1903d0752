// Package stream defines generation events and the framed SSE output that
// every responder of a turn writes into.
package stream

import (
	"encoding/json"

	"github.com/Conversly/chat-gateway/internal/types"
)

// EventType is the kind of delta a generation yields.
type EventType string

const (
	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	EventToolCall       EventType = "tool-call"
	EventToolResult     EventType = "tool-result"
)

// Event is one delta from a generation. End of sequence is io.EOF on the
// reader that carries it.
type Event struct {
	Type       EventType
	Delta      string
	ToolCallID string
	ToolName   string
	Input      string
	Output     string
}

// Frame types written to clients.
const (
	FrameStart          = "start"
	FrameAgentStart     = "agent-start"
	FrameStartStep      = "start-step"
	FrameTextDelta      = "text-delta"
	FrameReasoningDelta = "reasoning-delta"
	FrameToolCall       = "tool-call"
	FrameToolResult     = "tool-result"
	FrameError          = "error-message"
	FrameFinishStep     = "finish-step"
	FrameFinish         = "finish"
	FrameAppendMessage  = "append-message"
)

// Frame is one SSE payload.
type Frame struct {
	Type       string         `json:"type"`
	MessageID  string         `json:"messageId,omitempty"`
	Delta      string         `json:"delta,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Input      string         `json:"input,omitempty"`
	Output     string         `json:"output,omitempty"`
	ErrorText  string         `json:"errorText,omitempty"`
	AgentID    string         `json:"agentId,omitempty"`
	AgentName  string         `json:"agentName,omitempty"`
	AgentSlug  string         `json:"agentSlug,omitempty"`
	Message    *types.Message `json:"message,omitempty"`
}

// FrameFromEvent maps a generation event onto its wire frame.
func FrameFromEvent(ev Event) Frame {
	return Frame{
		Type:       string(ev.Type),
		Delta:      ev.Delta,
		ToolCallID: ev.ToolCallID,
		ToolName:   ev.ToolName,
		Input:      ev.Input,
		Output:     ev.Output,
	}
}

// DoneMarker terminates every stream.
var DoneMarker = []byte("data: [DONE]\n\n")

// Encode renders a frame as an SSE data line.
func Encode(f Frame) ([]byte, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	out = append(out, '\n', '\n')
	return out, nil
}
