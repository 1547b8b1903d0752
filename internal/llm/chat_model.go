package llm

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Conversly/chat-gateway/internal/utils"
)

// MultiKeyChatModel spreads calls for one Gemini model across several API
// keys in round-robin order. A failing key is not retried on another key:
// fallback across backends belongs to the orchestrator.
type MultiKeyChatModel struct {
	models   []model.ToolCallingChatModel
	keyIndex *atomic.Uint64
}

// NewGeminiChatModel builds one eino Gemini model per API key.
func NewGeminiChatModel(ctx context.Context, apiKeys []string, modelName string, temperature *float32, maxTokens *int) (*MultiKeyChatModel, error) {
	if len(apiKeys) == 0 {
		return nil, fmt.Errorf("at least one API key is required")
	}

	models := make([]model.ToolCallingChatModel, len(apiKeys))
	for i, key := range apiKeys {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  key,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client for key %d: %w", i+1, err)
		}

		chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       modelName,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model for key %d: %w", i+1, err)
		}
		models[i] = chatModel
	}

	utils.Zlog.Info("Created multi-key Gemini chat model",
		zap.Int("key_count", len(apiKeys)),
		zap.String("model", modelName))

	return NewMultiKeyChatModel(models...), nil
}

// NewMultiKeyChatModel rotates over already constructed models.
func NewMultiKeyChatModel(models ...model.ToolCallingChatModel) *MultiKeyChatModel {
	return &MultiKeyChatModel{models: models, keyIndex: new(atomic.Uint64)}
}

func (m *MultiKeyChatModel) next() model.ToolCallingChatModel {
	if len(m.models) == 1 {
		return m.models[0]
	}
	idx := m.keyIndex.Add(1)
	return m.models[idx%uint64(len(m.models))]
}

func (m *MultiKeyChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return m.next().Generate(ctx, input, opts...)
}

func (m *MultiKeyChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return m.next().Stream(ctx, input, opts...)
}

// WithTools returns a copy bound to tools. The copy shares the rotation
// counter so key usage stays balanced across tool and non-tool calls.
func (m *MultiKeyChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound := make([]model.ToolCallingChatModel, len(m.models))
	for i, chatModel := range m.models {
		withTools, err := chatModel.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("failed to bind tools to model %d: %w", i+1, err)
		}
		bound[i] = withTools
	}
	return &MultiKeyChatModel{models: bound, keyIndex: m.keyIndex}, nil
}

var _ model.ToolCallingChatModel = (*MultiKeyChatModel)(nil)
