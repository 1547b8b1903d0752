package rag_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conversly/chat-gateway/internal/rag"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	f.calls++
	return []float64{1, 0}, f.err
}

type fakeSearcher struct {
	agentID string
	topK    int
	rows    []rag.ScoredText
}

func (f *fakeSearcher) SearchAgentEmbeddings(ctx context.Context, agentID string, vector []float64, topK int) ([]rag.ScoredText, error) {
	f.agentID, f.topK = agentID, topK
	return f.rows, nil
}

func TestPgVectorRetriever(t *testing.T) {
	db := &fakeSearcher{rows: []rag.ScoredText{{Text: "a", Distance: 0.1}, {Text: "b", Distance: 0.4}}}
	r := rag.NewPgVectorRetriever(db, &fakeEmbedder{})

	got, err := r.Retrieve(context.Background(), "agent-1", "refund policy", 5)
	require.NoError(t, err)

	assert.Equal(t, "agent-1", db.agentID)
	assert.Equal(t, 5, db.topK)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Text)
	assert.InDelta(t, 0.9, got[0].Score, 1e-9)
}

func TestPgVectorRetrieverSkipsBlankQuery(t *testing.T) {
	emb := &fakeEmbedder{}
	r := rag.NewPgVectorRetriever(&fakeSearcher{}, emb)

	got, err := r.Retrieve(context.Background(), "agent-1", "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, emb.calls)
}

func TestPgVectorRetrieverWrapsEmbedError(t *testing.T) {
	r := rag.NewPgVectorRetriever(&fakeSearcher{}, &fakeEmbedder{err: errors.New("quota")})

	_, err := r.Retrieve(context.Background(), "agent-1", "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}
