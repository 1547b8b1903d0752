package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"

	"github.com/Conversly/chat-gateway/internal/routing"
)

// Factory builds the chat model serving one backend model id.
type Factory func(ctx context.Context, modelName string) (model.ToolCallingChatModel, error)

// ModelSource hands out the chat model for a candidate.
type ModelSource interface {
	ChatModel(ctx context.Context, cand routing.Candidate) (model.ToolCallingChatModel, error)
}

// Registry caches one chat model per candidate. Models are stateless with
// respect to requests, so a cached instance is shared by all turns.
type Registry struct {
	mu        sync.Mutex
	factories map[routing.Provider]Factory
	models    map[routing.Candidate]model.ToolCallingChatModel
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[routing.Provider]Factory),
		models:    make(map[routing.Candidate]model.ToolCallingChatModel),
	}
}

func (r *Registry) Register(p routing.Provider, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[p] = f
}

func (r *Registry) ChatModel(ctx context.Context, cand routing.Candidate) (model.ToolCallingChatModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[cand]; ok {
		return m, nil
	}
	f, ok := r.factories[cand.Provider]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %s", cand.Provider)
	}
	m, err := f(ctx, cand.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create model %s: %w", cand, err)
	}
	r.models[cand] = m
	return m, nil
}

func GeminiFactory(apiKeys []string, temperature *float32, maxTokens *int) Factory {
	return func(ctx context.Context, modelName string) (model.ToolCallingChatModel, error) {
		return NewGeminiChatModel(ctx, apiKeys, modelName, temperature, maxTokens)
	}
}

func OpenAIFactory(cfg OpenAIConfig) Factory {
	return func(ctx context.Context, modelName string) (model.ToolCallingChatModel, error) {
		return NewOpenAIChatModel(ctx, cfg, modelName)
	}
}
