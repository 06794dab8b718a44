package postgres

import (
	"context"
	"fmt"
	"math/big"

	"redemption-feed/internal/storage"
)

// FeedStateStore is a PostgreSQL implementation of storage.FeedStateStore.
// One row per feed in feed_state; prices are NUMERIC(78, 0).
type FeedStateStore struct {
	pool *Pool
}

// NewFeedStateStore creates a new PostgreSQL feed state store.
func NewFeedStateStore(pool *Pool) *FeedStateStore {
	return &FeedStateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FeedStateStore = (*FeedStateStore)(nil)

// Save upserts the state of s.Feed.
func (s *FeedStateStore) Save(ctx context.Context, state *storage.FeedState) error {
	if err := state.Validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO feed_state (feed, price, decimals, updated_at, recorded_at)
		VALUES ($1, $2::text::numeric, $3, $4, NOW())
		ON CONFLICT (feed) DO UPDATE
		SET price = EXCLUDED.price,
		    decimals = EXCLUDED.decimals,
		    updated_at = EXCLUDED.updated_at,
		    recorded_at = NOW()
	`, state.Feed, state.Price.String(), state.Decimals, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert feed state: %w", translateError(err))
	}
	return nil
}

// Get returns the state of feed.
func (s *FeedStateStore) Get(ctx context.Context, feed string) (*storage.FeedState, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT feed, price::text, decimals, updated_at
		FROM feed_state
		WHERE feed = $1
	`, feed)

	state, err := scanFeedState(row)
	if err != nil {
		return nil, translateError(err)
	}
	return state, nil
}

// List returns all states ordered by feed.
func (s *FeedStateStore) List(ctx context.Context) ([]*storage.FeedState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT feed, price::text, decimals, updated_at
		FROM feed_state
		ORDER BY feed
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*storage.FeedState
	for rows.Next() {
		state, err := scanFeedState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFeedState(row scanner) (*storage.FeedState, error) {
	var (
		state storage.FeedState
		price string
	)
	if err := row.Scan(&state.Feed, &price, &state.Decimals, &state.UpdatedAt); err != nil {
		return nil, err
	}

	p, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return nil, fmt.Errorf("parse stored price %q for %s", price, state.Feed)
	}
	state.Price = p
	return &state, nil
}
