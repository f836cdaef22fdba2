package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/interflow/orchestrator/internal/circuitbreaker"
)

// Config holds database configuration
type Config struct {
	DSN             string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// Client manages the connection pool shared by the recorder and health checks.
type Client struct {
	db      *sqlx.DB
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, config Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 2
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}

	rawDB, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rawDB.PingContext(pingCtx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := NewClient(rawDB, logger)
	client.logger.Info("Database client initialized", zap.Int("max_connections", config.MaxConnections))
	return client, nil
}

// NewClient wraps an existing pool. Tests pass a sqlmock-backed *sqlx.DB.
func NewClient(db *sqlx.DB, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := circuitbreaker.NewInstrumented(
		circuitbreaker.DependencyPostgres,
		circuitbreaker.SettingsFor(circuitbreaker.DependencyPostgres).ToConfig(),
		logger,
	)
	return &Client{db: db, breaker: breaker, logger: logger}
}

// EnsureSchema creates the recorder tables if they do not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	return c.breaker.Execute(ctx, func() error {
		for _, stmt := range schema {
			if _, err := c.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		return nil
	})
}

// WithTransaction runs fn in a transaction behind the circuit breaker.
func (c *Client) WithTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return c.breaker.Execute(ctx, func() (err error) {
		tx, err := c.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		defer func() {
			if p := recover(); p != nil {
				tx.Rollback()
				panic(p)
			}
		}()

		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit failed: %w", err)
		}
		return nil
	})
}

// PingContext checks connectivity.
func (c *Client) PingContext(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Stats returns pool statistics.
func (c *Client) Stats() sql.DBStats {
	return c.db.Stats()
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// Close closes the pool.
func (c *Client) Close() error {
	c.logger.Info("Shutting down database client")
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
