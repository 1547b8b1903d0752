package loaders

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/utils"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

//go:embed schema.sql
var schemaSQL string

type PostgresClient struct {
	dsn  string
	pool *pgxpool.Pool
}

func NewPostgresClient(dsn string, workerCount int) (*PostgresClient, error) {
	client := &PostgresClient{
		dsn: dsn,
	}

	pool, err := client.createConnectionPool(workerCount)
	if err != nil {
		return nil, err
	}

	client.pool = pool
	utils.Zlog.Info("Connected to PostgreSQL", zap.Int32("max_conns", pool.Config().MaxConns))
	return client, nil
}

func (c *PostgresClient) createConnectionPool(workerCount int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(c.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Postgres DSN: %w", err)
	}

	cfg.MaxConns = int32(workerCount) + 2
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = 60 * time.Minute
	cfg.MaxConnIdleTime = 15 * time.Minute
	// Every pooled connection needs the vector type registered, not just
	// the first one.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The extension must exist before AfterConnect can register its types.
	bootstrap, err := pgx.Connect(ctx, c.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if _, err := bootstrap.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		utils.Zlog.Warn("Failed to enable pgvector extension", zap.Error(err))
	}
	_ = bootstrap.Close(ctx)

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates missing tables. Statements are idempotent.
func (c *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (c *PostgresClient) Close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}

func (c *PostgresClient) GetPool() *pgxpool.Pool {
	return c.pool
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
