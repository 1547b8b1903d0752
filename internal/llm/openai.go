package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// OpenAIConfig points at any OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Temperature *float32
	MaxTokens   *int
	HTTPClient  *http.Client
}

// NewOpenAIChatModel builds the eino-ext OpenAI chat model for one backend
// model id.
func NewOpenAIChatModel(ctx context.Context, cfg OpenAIConfig, modelName string) (model.ToolCallingChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if modelName == "" {
		return nil, errors.New("openai model name is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		// No overall timeout: streams are bounded by the caller's context.
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = 60 * time.Second
		client = &http.Client{Transport: transport}
	}

	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		HTTPClient:  client,
		Model:       modelName,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create openai model %s: %w", modelName, err)
	}
	return cm, nil
}
