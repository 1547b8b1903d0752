package core

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/Conversly/chat-gateway/internal/llm"
	"github.com/Conversly/chat-gateway/internal/routing"
	"github.com/Conversly/chat-gateway/internal/stream"
	"github.com/Conversly/chat-gateway/internal/types"
)

// Generator runs one streamed generation on one candidate.
type Generator interface {
	Generate(ctx context.Context, cand routing.Candidate, req llm.Request) (*schema.StreamReader[stream.Event], error)
}

// Sink receives the frames of a turn in order.
type Sink interface {
	Write(f stream.Frame) error
	Close()
}

// Hints are request-derived details folded into every system prompt.
type Hints struct {
	Locale    string
	City      string
	Country   string
	Latitude  string
	Longitude string
}

// Turn is one accepted user turn. It is not modified after Run starts.
type Turn struct {
	ChatID      string
	UserID      string
	UserMessage types.Message
	// History holds prior messages of the chat, oldest first, without
	// UserMessage.
	History    []types.Message
	ModelID    string
	Preference routing.Preference
	// Agents selects expert mode when non-empty, in response order.
	Agents []types.Agent
	Hints  Hints
	Tools  []tool.InvokableTool
	// Excerpts holds text read from UserMessage's file parts, keyed by URL.
	Excerpts map[string]string
}

func (t *Turn) ExpertMode() bool {
	return len(t.Agents) > 0
}

// ResponderOutput is what one responder contributed to the turn.
type ResponderOutput struct {
	MessageID string
	// Agent is set for expert responders from the agent-start tag.
	Agent     *types.Agent
	Parts     []types.Part
	Failed    bool
	CreatedAt time.Time
}

// Text joins the text parts of the output.
func (o *ResponderOutput) Text() string {
	m := types.Message{Parts: o.Parts}
	return m.Text()
}
