package loaders

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/Conversly/chat-gateway/internal/rag"
	"github.com/Conversly/chat-gateway/internal/types"
)

// GetAgentsByIDs returns the agents in the order of ids. Unknown ids are
// skipped.
func (c *PostgresClient) GetAgentsByIDs(ctx context.Context, ids []string) ([]types.Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
        SELECT id, slug, name, persona, retrieval_enabled, active
        FROM agents
        WHERE id = ANY($1)
    `
	rows, err := c.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]types.Agent, len(ids))
	for rows.Next() {
		var a types.Agent
		if err := rows.Scan(&a.ID, &a.Slug, &a.Name, &a.Persona, &a.RetrievalEnabled, &a.Active); err != nil {
			return nil, fmt.Errorf("failed to scan agent row: %w", err)
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}

	agents := make([]types.Agent, 0, len(byID))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if a, ok := byID[id]; ok && !seen[id] {
			agents = append(agents, a)
			seen[id] = true
		}
	}
	return agents, nil
}

// SearchAgentEmbeddings ranks the agent's knowledge by cosine distance.
func (c *PostgresClient) SearchAgentEmbeddings(ctx context.Context, agentID string, queryVector []float64, topK int) ([]rag.ScoredText, error) {
	vec32 := make([]float32, len(queryVector))
	for i, v := range queryVector {
		vec32[i] = float32(v)
	}
	vec := pgvector.NewVector(vec32)

	query := `
        SELECT text, vector <=> $2 AS distance
        FROM agent_embeddings
        WHERE agent_id = $1
        ORDER BY vector <=> $2
        LIMIT $3
    `

	rows, err := c.pool.Query(ctx, query, agentID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var results []rag.ScoredText
	for rows.Next() {
		var r rag.ScoredText
		if err := rows.Scan(&r.Text, &r.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}
