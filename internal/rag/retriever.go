package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/utils"
)

// Snippet is one ranked piece of agent knowledge.
type Snippet struct {
	Text  string
	Score float64
}

// Retriever returns the topK snippets of an agent's knowledge base most
// similar to query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, agentID string, query string, topK int) ([]Snippet, error)
}

type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float64, error)
}

// VectorSearcher runs the similarity query. Distance is cosine distance.
type VectorSearcher interface {
	SearchAgentEmbeddings(ctx context.Context, agentID string, vector []float64, topK int) ([]ScoredText, error)
}

type ScoredText struct {
	Text     string
	Distance float64
}

// PgVectorRetriever embeds the query and searches pgvector.
type PgVectorRetriever struct {
	db       VectorSearcher
	embedder Embedder
}

func NewPgVectorRetriever(db VectorSearcher, embedder Embedder) *PgVectorRetriever {
	return &PgVectorRetriever{db: db, embedder: embedder}
}

func (r *PgVectorRetriever) Retrieve(ctx context.Context, agentID string, query string, topK int) ([]Snippet, error) {
	query = strings.TrimSpace(query)
	if query == "" || topK <= 0 {
		return nil, nil
	}

	vec, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := r.db.SearchAgentEmbeddings(ctx, agentID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}

	snippets := make([]Snippet, 0, len(rows))
	for _, row := range rows {
		snippets = append(snippets, Snippet{Text: row.Text, Score: 1 - row.Distance})
	}

	utils.Zlog.Debug("Retrieved agent knowledge",
		zap.String("agent_id", agentID),
		zap.Int("top_k", topK),
		zap.Int("results", len(snippets)))

	return snippets, nil
}

// NoopRetriever is used when no embedder is configured.
type NoopRetriever struct{}

func NewNoopRetriever() *NoopRetriever { return &NoopRetriever{} }

func (n *NoopRetriever) Retrieve(ctx context.Context, agentID string, query string, topK int) ([]Snippet, error) {
	return nil, nil
}
