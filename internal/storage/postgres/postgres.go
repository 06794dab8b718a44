// Package postgres stores feed state in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"redemption-feed/internal/storage"
)

const (
	applicationName = "redemption-feed"
	maxConns        = 4
	pingAttempts    = 5
	pingBackoff     = 500 * time.Millisecond
)

// Pool is the connection pool shared by the stores of this package.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to dsn and waits for the server to answer a ping,
// retrying with backoff while it starts up.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	// A handful of feeds write one row each per tick.
	cfg.MaxConns = maxConns
	cfg.MaxConnIdleTime = 5 * time.Minute
	if cfg.ConnConfig.RuntimeParams["application_name"] == "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	delay := pingBackoff
	for attempt := 1; ; attempt++ {
		err = pool.Ping(ctx)
		if err == nil {
			return &Pool{Pool: pool}, nil
		}
		if attempt == pingAttempts {
			break
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	pool.Close()
	return nil, fmt.Errorf("ping postgres after %d attempts: %w", pingAttempts, err)
}

// checkViolation is the SQLSTATE of a failed CHECK constraint.
const checkViolation = "23514"

// translateError maps driver errors onto storage sentinels.
func translateError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == checkViolation {
		return fmt.Errorf("%w: %s", storage.ErrInvalidInput, pgErr.Message)
	}
	return err
}
