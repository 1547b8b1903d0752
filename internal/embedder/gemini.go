package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Conversly/chat-gateway/internal/types"
)

const (
	embeddingModel      = "text-embedding-004"
	embeddingDimensions = 768
	taskRetrievalQuery  = "RETRIEVAL_QUERY"
)

// GeminiEmbedder embeds retrieval queries with rotating API keys.
type GeminiEmbedder struct {
	apiKeys     []string
	client      *http.Client
	baseURL     string
	keyIndex    uint64        // atomic counter for round-robin key selection
	rateLimiter chan struct{} // bounds concurrent embedding calls process-wide
}

func NewGeminiEmbedder(keys []string) (*GeminiEmbedder, error) {
	return newGeminiEmbedder(keys, "https://generativelanguage.googleapis.com/v1beta/models")
}

func newGeminiEmbedder(keys []string, baseURL string) (*GeminiEmbedder, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one API key is required")
	}
	maxConcurrentRequests := 5

	return &GeminiEmbedder{
		apiKeys:     keys,
		client:      &http.Client{Timeout: 30 * time.Second},
		baseURL:     baseURL,
		rateLimiter: make(chan struct{}, maxConcurrentRequests),
	}, nil
}

func (g *GeminiEmbedder) getNextKey() string {
	if len(g.apiKeys) == 1 {
		return g.apiKeys[0]
	}
	idx := atomic.AddUint64(&g.keyIndex, 1)
	return g.apiKeys[idx%uint64(len(g.apiKeys))]
}

// normalize normalizes a vector to unit length
func normalize(vec []float64) []float64 {
	if len(vec) == 0 {
		return vec
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return vec
	}

	normalized := make([]float64, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}
	return normalized
}

// EmbedText returns the unit-length query embedding of text.
func (g *GeminiEmbedder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	select {
	case g.rateLimiter <- struct{}{}:
		defer func() { <-g.rateLimiter }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	reqBody := types.EmbeddingRequest{
		Model: "models/" + embeddingModel,
		Content: types.EmbeddingContent{
			Parts: []types.EmbeddingPart{{Text: text}},
		},
		TaskType:             taskRetrievalQuery,
		OutputDimensionality: embeddingDimensions,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:embedContent", g.baseURL, embeddingModel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.getNextKey())

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var embeddingResp types.EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(embeddingResp.Embedding.Values) != embeddingDimensions {
		return nil, fmt.Errorf("expected %d dimensions, got %d", embeddingDimensions, len(embeddingResp.Embedding.Values))
	}

	return normalize(embeddingResp.Embedding.Values), nil
}
