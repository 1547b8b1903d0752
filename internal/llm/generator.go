package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/routing"
	"github.com/Conversly/chat-gateway/internal/stream"
	"github.com/Conversly/chat-gateway/internal/utils"
)

const defaultMaxSteps = 5

// Request is everything one generation needs besides the candidate.
type Request struct {
	SystemPrompt string
	Messages     []*schema.Message
	Tools        []tool.InvokableTool
}

// Unit runs one streamed generation against one candidate. It never
// retries; the caller decides what happens when a candidate fails.
type Unit struct {
	models   ModelSource
	maxSteps int
}

func NewUnit(models ModelSource) *Unit {
	return &Unit{models: models, maxSteps: defaultMaxSteps}
}

// WithMaxSteps bounds the model/tool round trips of one generation.
func (u *Unit) WithMaxSteps(n int) *Unit {
	if n > 0 {
		u.maxSteps = n
	}
	return u
}

// Generate returns an error when the candidate cannot be built, rejects the
// call, or fails before its first chunk. Once it returns a reader the
// candidate has started streaming; later failures arrive on the reader.
// Tools only run after that point, so a candidate that never started has
// not executed any tool.
func (u *Unit) Generate(ctx context.Context, cand routing.Candidate, req Request) (*schema.StreamReader[stream.Event], error) {
	cm, err := u.models.ChatModel(ctx, cand)
	if err != nil {
		return nil, err
	}

	toolsByName := make(map[string]tool.InvokableTool, len(req.Tools))
	if len(req.Tools) > 0 {
		infos := make([]*schema.ToolInfo, 0, len(req.Tools))
		for _, t := range req.Tools {
			info, err := t.Info(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to describe tool: %w", err)
			}
			infos = append(infos, info)
			toolsByName[info.Name] = t
		}
		cm, err = cm.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("failed to bind tools for %s: %w", cand, err)
		}
	}

	input := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		input = append(input, schema.SystemMessage(req.SystemPrompt))
	}
	input = append(input, req.Messages...)

	first, err := openStep(ctx, cm, input)
	if err != nil {
		return nil, fmt.Errorf("%s did not start streaming: %w", cand, err)
	}

	sr, sw := schema.Pipe[stream.Event](16)
	go u.run(ctx, cand, cm, input, toolsByName, first, sw)
	return sr, nil
}

// step is one model call whose first chunk has already been received.
type step struct {
	reader *schema.StreamReader[*schema.Message]
	head   *schema.Message
	eof    bool
}

func openStep(ctx context.Context, cm model.ToolCallingChatModel, input []*schema.Message) (*step, error) {
	reader, err := cm.Stream(ctx, input)
	if err != nil {
		return nil, err
	}
	head, err := reader.Recv()
	if errors.Is(err, io.EOF) {
		reader.Close()
		return &step{eof: true}, nil
	}
	if err != nil {
		reader.Close()
		return nil, err
	}
	return &step{reader: reader, head: head}, nil
}

func (u *Unit) run(ctx context.Context, cand routing.Candidate, cm model.ToolCallingChatModel, input []*schema.Message,
	toolsByName map[string]tool.InvokableTool, cur *step, sw *schema.StreamWriter[stream.Event]) {
	defer sw.Close()
	defer func() {
		if r := recover(); r != nil {
			utils.Zlog.Error("Generation panicked", zap.String("candidate", cand.String()), zap.Any("panic", r))
			sw.Send(stream.Event{}, fmt.Errorf("generation panicked: %v", r))
		}
	}()

	for i := 1; ; i++ {
		full, ok := drain(cur, sw)
		if !ok {
			return
		}
		if len(full.ToolCalls) == 0 || len(toolsByName) == 0 {
			return
		}
		if i >= u.maxSteps {
			utils.Zlog.Warn("Tool step limit reached", zap.String("candidate", cand.String()), zap.Int("steps", i))
			return
		}

		input = append(input, full)
		for _, tc := range full.ToolCalls {
			if sw.Send(stream.Event{
				Type:       stream.EventToolCall,
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
				Input:      tc.Function.Arguments,
			}, nil) {
				return
			}
			output := invokeTool(ctx, toolsByName, tc)
			if sw.Send(stream.Event{
				Type:       stream.EventToolResult,
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
				Output:     output,
			}, nil) {
				return
			}
			input = append(input, schema.ToolMessage(output, tc.ID))
		}

		next, err := openStep(ctx, cm, input)
		if err != nil {
			sw.Send(stream.Event{}, fmt.Errorf("%s failed after tool call: %w", cand, err))
			return
		}
		cur = next
	}
}

// drain forwards one model step as events and returns the assembled
// message. ok is false when the step failed or the reader was abandoned.
func drain(s *step, sw *schema.StreamWriter[stream.Event]) (*schema.Message, bool) {
	if s.eof {
		return schema.AssistantMessage("", nil), true
	}
	defer s.reader.Close()

	chunks := []*schema.Message{s.head}
	if !forward(s.head, sw) {
		return nil, false
	}
	for {
		chunk, err := s.reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			sw.Send(stream.Event{}, err)
			return nil, false
		}
		chunks = append(chunks, chunk)
		if !forward(chunk, sw) {
			return nil, false
		}
	}

	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		sw.Send(stream.Event{}, fmt.Errorf("failed to assemble message: %w", err))
		return nil, false
	}
	return full, true
}

func forward(chunk *schema.Message, sw *schema.StreamWriter[stream.Event]) bool {
	if chunk == nil {
		return true
	}
	if chunk.ReasoningContent != "" {
		if sw.Send(stream.Event{Type: stream.EventReasoningDelta, Delta: chunk.ReasoningContent}, nil) {
			return false
		}
	}
	if chunk.Content != "" {
		if sw.Send(stream.Event{Type: stream.EventTextDelta, Delta: chunk.Content}, nil) {
			return false
		}
	}
	return true
}

// invokeTool reports tool failures back to the model as the tool output
// instead of ending the generation.
func invokeTool(ctx context.Context, toolsByName map[string]tool.InvokableTool, tc schema.ToolCall) string {
	t, ok := toolsByName[tc.Function.Name]
	if !ok {
		return fmt.Sprintf(`{"error":"unknown tool %q"}`, tc.Function.Name)
	}
	out, err := t.InvokableRun(ctx, tc.Function.Arguments)
	if err != nil {
		utils.Zlog.Warn("Tool invocation failed",
			zap.String("tool", tc.Function.Name),
			zap.Error(err))
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return out
}
