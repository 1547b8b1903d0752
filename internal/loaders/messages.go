package loaders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Conversly/chat-gateway/internal/types"
)

// SaveMessages inserts all messages in one transaction using a single
// batch round trip. Either every message is stored or none is.
func (c *PostgresClient) SaveMessages(ctx context.Context, messages []types.Message) error {
	if len(messages) == 0 {
		return nil
	}

	query := `
        INSERT INTO messages (id, chat_id, role, parts, attachments, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `

	batch := &pgx.Batch{}
	for _, m := range messages {
		parts, err := json.Marshal(nonNilParts(m.Parts))
		if err != nil {
			return fmt.Errorf("failed to marshal parts of message %s: %w", m.ID, err)
		}
		attachments, err := json.Marshal(nonNilAttachments(m.Attachments))
		if err != nil {
			return fmt.Errorf("failed to marshal attachments of message %s: %w", m.ID, err)
		}
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		batch.Queue(query, m.ID, m.ChatID, m.Role, parts, attachments, createdAt.UTC())
	}

	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for i := range messages {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("failed to insert message %s: %w", messages[i].ID, err)
			}
		}
		return br.Close()
	})
}

// ListMessagesByChat returns the chat's messages oldest first.
func (c *PostgresClient) ListMessagesByChat(ctx context.Context, chatID string) ([]types.Message, error) {
	query := `
        SELECT id, chat_id, role, parts, attachments, created_at
        FROM messages
        WHERE chat_id = $1
        ORDER BY created_at ASC, id ASC
    `

	rows, err := c.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func (c *PostgresClient) GetMessageByID(ctx context.Context, id string) (*types.Message, error) {
	query := `
        SELECT id, chat_id, role, parts, attachments, created_at
        FROM messages
        WHERE id = $1
    `
	m, err := scanMessage(c.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "message")
	}
	return m, nil
}

// DailyMessageCount counts the user's messages over the last 24 hours.
func (c *PostgresClient) DailyMessageCount(ctx context.Context, userID string) (int, error) {
	return c.CountUserMessagesSince(ctx, userID, time.Now().Add(-24*time.Hour))
}

// CountUserMessagesSince counts messages the user sent across all chats.
func (c *PostgresClient) CountUserMessagesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `
        SELECT COUNT(*)
        FROM messages m
        JOIN chats c ON c.id = m.chat_id
        WHERE c.user_id = $1 AND m.role = 'user' AND m.created_at >= $2
    `
	var count int
	if err := c.pool.QueryRow(ctx, query, userID, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func scanMessage(row pgx.Row) (*types.Message, error) {
	var (
		m           types.Message
		parts       []byte
		attachments []byte
	)
	if err := row.Scan(&m.ID, &m.ChatID, &m.Role, &parts, &attachments, &m.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(parts, &m.Parts); err != nil {
		return nil, fmt.Errorf("failed to parse parts of message %s: %w", m.ID, err)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, fmt.Errorf("failed to parse attachments of message %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

func nonNilParts(p []types.Part) []types.Part {
	if p == nil {
		return []types.Part{}
	}
	return p
}

func nonNilAttachments(a []types.Attachment) []types.Attachment {
	if a == nil {
		return []types.Attachment{}
	}
	return a
}

// UpdateMessageFeedback stores a rating for a message of the given chat.
func (c *PostgresClient) UpdateMessageFeedback(ctx context.Context, chatID, messageID string, feedback int16, comment *string) error {
	if messageID == "" {
		return fmt.Errorf("message id is required")
	}

	query := `
        UPDATE messages
        SET feedback = $1, feedback_comment = $2
        WHERE id = $3 AND chat_id = $4
    `

	tag, err := c.pool.Exec(ctx, query, feedback, comment, messageID, chatID)
	if err != nil {
		return fmt.Errorf("failed to update message feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}
