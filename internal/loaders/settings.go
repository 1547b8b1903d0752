package loaders

import (
	"context"
	"fmt"
	"time"

	"github.com/Conversly/chat-gateway/internal/types"
)

// LoadProviderOverrides returns provider -> logical model -> backend model.
func (c *PostgresClient) LoadProviderOverrides(ctx context.Context) (map[string]map[string]string, error) {
	rows, err := c.pool.Query(ctx, `SELECT provider, logical_model_id, backend_model_id FROM provider_model_overrides`)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]string)
	for rows.Next() {
		var provider, logical, backend string
		if err := rows.Scan(&provider, &logical, &backend); err != nil {
			return nil, fmt.Errorf("failed to scan provider override: %w", err)
		}
		if out[provider] == nil {
			out[provider] = make(map[string]string)
		}
		out[provider][logical] = backend
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider overrides: %w", err)
	}
	return out, nil
}

func (c *PostgresClient) LoadAppSettings(ctx context.Context) (map[string]string, error) {
	rows, err := c.pool.Query(ctx, `SELECT key, value FROM app_settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to query app settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan app setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// GetSessionUser resolves a session token to its user.
func (c *PostgresClient) GetSessionUser(ctx context.Context, token string) (*types.User, error) {
	query := `
        SELECT u.id, COALESCE(u.email, ''), u.type
        FROM sessions s
        JOIN users u ON u.id = s.user_id
        WHERE s.token = $1 AND s.expires_at > $2
    `
	var (
		u        types.User
		userType string
	)
	if err := c.pool.QueryRow(ctx, query, token, time.Now().UTC()).Scan(&u.ID, &u.Email, &userType); err != nil {
		return nil, notFound(err, "session")
	}
	u.Type = types.UserType(userType)
	return &u, nil
}
