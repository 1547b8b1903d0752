package loaders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Conversly/chat-gateway/internal/types"
)

func (c *PostgresClient) GetChat(ctx context.Context, id string) (*types.Chat, error) {
	query := `
        SELECT id, user_id, title, visibility, selected_agent_ids, created_at
        FROM chats
        WHERE id = $1
    `
	var chat types.Chat
	err := c.pool.QueryRow(ctx, query, id).Scan(
		&chat.ID, &chat.UserID, &chat.Title, &chat.Visibility, &chat.SelectedAgentIDs, &chat.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "chat")
	}
	return &chat, nil
}

func (c *PostgresClient) CreateChat(ctx context.Context, chat types.Chat) error {
	query := `
        INSERT INTO chats (id, user_id, title, visibility, selected_agent_ids, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	ids := chat.SelectedAgentIDs
	if ids == nil {
		ids = []string{}
	}
	createdAt := chat.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := c.pool.Exec(ctx, query, chat.ID, chat.UserID, chat.Title, chat.Visibility, ids, createdAt.UTC()); err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

// UpdateChatAgentSelection replaces the chat's remembered expert selection.
func (c *PostgresClient) UpdateChatAgentSelection(ctx context.Context, chatID string, agentIDs []string) error {
	if agentIDs == nil {
		agentIDs = []string{}
	}
	tag, err := c.pool.Exec(ctx, `UPDATE chats SET selected_agent_ids = $1 WHERE id = $2`, agentIDs, chatID)
	if err != nil {
		return fmt.Errorf("failed to update agent selection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	return nil
}

// CreateStreamID records a new resumable stream for the chat.
func (c *PostgresClient) CreateStreamID(ctx context.Context, chatID string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate stream id: %w", err)
	}
	if _, err := c.pool.Exec(ctx,
		`INSERT INTO streams (id, chat_id, created_at) VALUES ($1, $2, $3)`,
		id.String(), chatID, time.Now().UTC(),
	); err != nil {
		return "", fmt.Errorf("failed to create stream record: %w", err)
	}
	return id.String(), nil
}

// LatestStreamID returns the chat's most recent stream id, or "" if none.
func (c *PostgresClient) LatestStreamID(ctx context.Context, chatID string) (string, error) {
	var id string
	err := c.pool.QueryRow(ctx,
		`SELECT id FROM streams WHERE chat_id = $1 ORDER BY created_at DESC LIMIT 1`,
		chatID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load latest stream: %w", err)
	}
	return id, nil
}
