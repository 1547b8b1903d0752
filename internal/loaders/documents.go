package loaders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Conversly/chat-gateway/internal/types"
)

func (c *PostgresClient) CreateDocument(ctx context.Context, doc types.Document) error {
	query := `
        INSERT INTO documents (id, created_at, user_id, title, kind, content)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	if _, err := c.pool.Exec(ctx, query, doc.ID, doc.CreatedAt.UTC(), doc.UserID, doc.Title, doc.Kind, doc.Content); err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetDocument returns the latest version of the document, or nil when the
// id is unknown.
func (c *PostgresClient) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	query := `
        SELECT id, created_at, user_id, title, kind, COALESCE(content, '')
        FROM documents
        WHERE id = $1
        ORDER BY created_at DESC
        LIMIT 1
    `
	var d types.Document
	err := c.pool.QueryRow(ctx, query, id).Scan(&d.ID, &d.CreatedAt, &d.UserID, &d.Title, &d.Kind, &d.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return &d, nil
}

func (c *PostgresClient) SaveSuggestions(ctx context.Context, suggestions []types.Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(suggestions))
	for _, s := range suggestions {
		rows = append(rows, []interface{}{
			s.ID, s.DocumentID, s.DocumentCreatedAt.UTC(), s.UserID,
			s.OriginalText, s.SuggestedText, s.Description, s.CreatedAt.UTC(),
		})
	}
	_, err := c.pool.CopyFrom(ctx,
		pgx.Identifier{"suggestions"},
		[]string{"id", "document_id", "document_created_at", "user_id", "original_text", "suggested_text", "description", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert suggestions: %w", err)
	}
	return nil
}
