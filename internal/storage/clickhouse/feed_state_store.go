package clickhouse

import (
	"context"
	"fmt"
	"math/big"

	"redemption-feed/internal/storage"
)

// FeedStateStore implements storage.FeedStateStore using ClickHouse.
// Every Save inserts a row; ReplacingMergeTree(recorded_at) collapses rows
// per feed and reads use FINAL so only the newest row is visible.
type FeedStateStore struct {
	conn *Conn
}

// NewFeedStateStore creates a new FeedStateStore.
func NewFeedStateStore(conn *Conn) *FeedStateStore {
	return &FeedStateStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FeedStateStore = (*FeedStateStore)(nil)

// Save records the state of s.Feed, superseding earlier rows.
func (s *FeedStateStore) Save(ctx context.Context, state *storage.FeedState) error {
	if err := state.Validate(); err != nil {
		return err
	}

	err := s.conn.Exec(ctx, `
		INSERT INTO feed_state (feed, price, decimals, updated_at, recorded_at)
		VALUES (?, ?, ?, ?, now64(3))
	`, state.Feed, state.Price.String(), uint8(state.Decimals), state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert feed state: %w", err)
	}
	return nil
}

// Get returns the newest state of feed.
func (s *FeedStateStore) Get(ctx context.Context, feed string) (*storage.FeedState, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT feed, price, decimals, updated_at
		FROM feed_state FINAL
		WHERE feed = ?
	`, feed)
	if err != nil {
		return nil, fmt.Errorf("query feed state: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, storage.ErrNotFound
	}
	return scanFeedState(rows)
}

// List returns the newest state of every feed ordered by feed.
func (s *FeedStateStore) List(ctx context.Context) ([]*storage.FeedState, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT feed, price, decimals, updated_at
		FROM feed_state FINAL
		ORDER BY feed
	`)
	if err != nil {
		return nil, fmt.Errorf("query feed states: %w", err)
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
		feed, price string
		decimals    uint8
		updatedAt   int64
	)
	if err := row.Scan(&feed, &price, &decimals, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan feed state: %w", err)
	}

	p, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return nil, fmt.Errorf("parse stored price %q for %s", price, feed)
	}
	return &storage.FeedState{
		Feed:      feed,
		Price:     p,
		Decimals:  int(decimals),
		UpdatedAt: updatedAt,
	}, nil
}
