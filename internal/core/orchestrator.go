package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/llm"
	"github.com/Conversly/chat-gateway/internal/rag"
	"github.com/Conversly/chat-gateway/internal/routing"
	"github.com/Conversly/chat-gateway/internal/settings"
	"github.com/Conversly/chat-gateway/internal/stream"
	"github.com/Conversly/chat-gateway/internal/tools"
	"github.com/Conversly/chat-gateway/internal/types"
	"github.com/Conversly/chat-gateway/internal/utils"
)

// User-visible error texts. Upstream details are logged, never streamed.
const (
	exhaustedText   = "Something went wrong while generating a response. Please try again."
	interruptedText = "The response was interrupted. Please try again."
	unexpectedText  = "An unexpected error occurred. Please try again."
)

const defaultTopK = 5

var tracer = otel.Tracer("chat-gateway/core")

// Orchestrator runs one turn: the general responder, or each selected
// expert in order, writing everything into one sink.
type Orchestrator struct {
	gen       Generator
	retriever rag.Retriever
	topK      int
	now       func() time.Time
}

func NewOrchestrator(gen Generator, retriever rag.Retriever, topK int) *Orchestrator {
	if retriever == nil {
		retriever = rag.NewNoopRetriever()
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Orchestrator{
		gen:       gen,
		retriever: retriever,
		topK:      topK,
		now:       time.Now,
	}
}

// Run drives the turn to completion and closes sink exactly once, after
// the last responder. It returns the outputs of every responder that
// wrote to the sink, in order.
func (o *Orchestrator) Run(ctx context.Context, turn *Turn, snap *settings.Snapshot, sink Sink) (outputs []ResponderOutput) {
	ctx, span := tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("chat.id", turn.ChatID),
		attribute.String("chat.model", turn.ModelID),
		attribute.Int("chat.agents", len(turn.Agents)),
	))
	defer span.End()
	defer sink.Close()
	defer func() {
		if r := recover(); r != nil {
			utils.Zlog.Error("Turn orchestration panicked",
				zap.String("chat_id", turn.ChatID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			span.SetStatus(codes.Error, "panic")
			o.emit(sink, stream.Frame{Type: stream.FrameStartStep})
			o.emit(sink, stream.Frame{Type: stream.FrameError, ErrorText: unexpectedText})
			o.emit(sink, stream.Frame{Type: stream.FrameFinishStep})
		}
	}()

	o.emit(sink, stream.Frame{Type: stream.FrameStart})

	messages := toSchemaMessages(turn.History, turn.UserMessage, turn.Excerpts)
	toolset := turn.Tools
	if !tools.Enabled(turn.ModelID) {
		toolset = nil
	}

	if !turn.ExpertMode() {
		req := llm.Request{
			SystemPrompt: generalSystemPrompt(turn.Hints, snap.SystemPromptOverride),
			Messages:     messages,
			Tools:        toolset,
		}
		outputs = append(outputs, o.respond(ctx, turn, snap, nil, req, sink))
		return outputs
	}

	query := turn.UserMessage.Text()
	for i := range turn.Agents {
		agent := &turn.Agents[i]
		snippets := o.retrieve(ctx, agent, query)
		req := llm.Request{
			SystemPrompt: agentSystemPrompt(agent, snippets, continuityFor(turn.History, agent), turn.Hints, snap.SystemPromptOverride),
			Messages:     messages,
			Tools:        toolset,
		}
		outputs = append(outputs, o.respond(ctx, turn, snap, agent, req, sink))
	}
	return outputs
}

func (o *Orchestrator) retrieve(ctx context.Context, agent *types.Agent, query string) []rag.Snippet {
	if !agent.RetrievalEnabled {
		return nil
	}
	snippets, err := o.retriever.Retrieve(ctx, agent.ID, query, o.topK)
	if err != nil {
		utils.Zlog.Warn("Knowledge retrieval failed, answering without context",
			zap.String("agent_id", agent.ID),
			zap.Error(err))
		return nil
	}
	return snippets
}

// respond writes one responder's step. The first candidate that starts
// streaming is consumed; when none does, one error block is written.
func (o *Orchestrator) respond(ctx context.Context, turn *Turn, snap *settings.Snapshot, agent *types.Agent,
	req llm.Request, sink Sink) ResponderOutput {
	out := ResponderOutput{
		MessageID: newMessageID(),
		Agent:     agent,
		CreatedAt: o.now(),
	}

	attrs := []attribute.KeyValue{attribute.String("message.id", out.MessageID)}
	if agent != nil {
		attrs = append(attrs, attribute.String("agent.id", agent.ID), attribute.String("agent.slug", agent.Slug))
	}
	ctx, span := tracer.Start(ctx, "chat.responder", trace.WithAttributes(attrs...))
	defer span.End()

	if agent != nil {
		o.emit(sink, stream.Frame{
			Type:      stream.FrameAgentStart,
			MessageID: out.MessageID,
			AgentID:   agent.ID,
			AgentName: agent.Name,
			AgentSlug: agent.Slug,
		})
	}
	o.emit(sink, stream.Frame{Type: stream.FrameStartStep, MessageID: out.MessageID})
	defer o.emit(sink, stream.Frame{Type: stream.FrameFinishStep, MessageID: out.MessageID})

	candidates := snap.Candidates(turn.ModelID, turn.Preference)
	if len(candidates) == 0 {
		utils.Zlog.Warn("No backend bound for model",
			zap.String("chat_id", turn.ChatID),
			zap.String("model", turn.ModelID),
			zap.String("preference", string(turn.Preference)))
	}

	for i, cand := range candidates {
		reader, err := o.attempt(ctx, cand, req)
		if err != nil {
			utils.Zlog.Warn("Candidate failed, trying next",
				zap.String("chat_id", turn.ChatID),
				zap.String("candidate", cand.String()),
				zap.Int("attempt", i+1),
				zap.Int("candidates", len(candidates)),
				zap.Error(err))
			continue
		}
		span.SetAttributes(attribute.String("candidate", cand.String()))

		acc := &partAccumulator{}
		if agent != nil {
			prefix := agent.Tag() + " "
			acc.add(stream.Event{Type: stream.EventTextDelta, Delta: prefix})
			o.emit(sink, stream.Frame{Type: stream.FrameTextDelta, MessageID: out.MessageID, Delta: prefix})
		}
		if err := o.consume(reader, out.MessageID, acc, sink); err != nil {
			utils.Zlog.Error("Stream failed after start",
				zap.String("chat_id", turn.ChatID),
				zap.String("candidate", cand.String()),
				zap.Error(err))
			span.RecordError(err)
			o.emit(sink, stream.Frame{Type: stream.FrameError, MessageID: out.MessageID, ErrorText: o.errorText(agent, interruptedText)})
		}
		out.Parts = acc.parts
		return out
	}

	span.SetStatus(codes.Error, "all candidates failed")
	text := o.errorText(agent, exhaustedText)
	o.emit(sink, stream.Frame{Type: stream.FrameError, MessageID: out.MessageID, ErrorText: text})
	out.Failed = true
	out.Parts = []types.Part{{Type: types.PartText, Text: text}}
	return out
}

func (o *Orchestrator) attempt(ctx context.Context, cand routing.Candidate, req llm.Request) (*schema.StreamReader[stream.Event], error) {
	ctx, span := tracer.Start(ctx, "chat.attempt", trace.WithAttributes(
		attribute.String("provider", string(cand.Provider)),
		attribute.String("model", cand.Model),
	))
	defer span.End()

	reader, err := o.gen.Generate(ctx, cand, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "did not start")
		return nil, err
	}
	return reader, nil
}

// consume forwards the reader into sink until io.EOF.
func (o *Orchestrator) consume(reader *schema.StreamReader[stream.Event], messageID string, acc *partAccumulator, sink Sink) error {
	defer reader.Close()
	for {
		ev, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		acc.add(ev)
		f := stream.FrameFromEvent(ev)
		f.MessageID = messageID
		o.emit(sink, f)
	}
}

func (o *Orchestrator) errorText(agent *types.Agent, text string) string {
	if agent == nil {
		return text
	}
	return agent.Tag() + " " + text
}

func (o *Orchestrator) emit(sink Sink, f stream.Frame) {
	if err := sink.Write(f); err != nil {
		utils.Zlog.Debug("Dropped frame", zap.String("type", f.Type), zap.Error(err))
	}
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// partAccumulator folds events into message parts. Consecutive deltas of
// the same kind join into one part.
type partAccumulator struct {
	parts []types.Part
}

func (a *partAccumulator) add(ev stream.Event) {
	switch ev.Type {
	case stream.EventTextDelta:
		a.appendDelta(types.PartText, ev.Delta)
	case stream.EventReasoningDelta:
		a.appendDelta(types.PartReasoning, ev.Delta)
	case stream.EventToolCall:
		a.parts = append(a.parts, types.Part{
			Type:       types.PartToolCall,
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
			Input:      ev.Input,
		})
	case stream.EventToolResult:
		a.parts = append(a.parts, types.Part{
			Type:       types.PartToolResult,
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
			Output:     ev.Output,
		})
	default:
		utils.Zlog.Debug("Ignoring unknown event", zap.String("type", string(ev.Type)))
	}
}

func (a *partAccumulator) appendDelta(partType, delta string) {
	if delta == "" {
		return
	}
	if n := len(a.parts); n > 0 && a.parts[n-1].Type == partType {
		a.parts[n-1].Text += delta
		return
	}
	a.parts = append(a.parts, types.Part{Type: partType, Text: delta})
}

// hasContent reports whether the output carries anything besides a bare tag.
func (o *ResponderOutput) hasContent() bool {
	if len(o.Parts) == 0 {
		return false
	}
	if o.Agent != nil && len(o.Parts) == 1 && o.Parts[0].Type == types.PartText {
		return strings.TrimSpace(strings.TrimPrefix(o.Parts[0].Text, o.Agent.Tag())) != ""
	}
	return true
}
