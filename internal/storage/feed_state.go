package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrNotFound means no state has been saved for the feed.
	ErrNotFound = errors.New("feed state not found")
	// ErrInvalidInput means a state was rejected before or by the backend.
	ErrInvalidInput = errors.New("invalid feed state")
)

// FeedState is the most recent price stored for a feed.
type FeedState struct {
	Feed      string   // feed identity, e.g. "Rai-0x..."
	Price     *big.Int // scaled by 10^Decimals
	Decimals  int
	UpdatedAt int64 // feed clock value of the refresh (Unix seconds)
}

// Validate checks that the state can be stored.
func (s *FeedState) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil feed state", ErrInvalidInput)
	}
	if s.Feed == "" {
		return fmt.Errorf("%w: feed required", ErrInvalidInput)
	}
	if s.Price == nil {
		return fmt.Errorf("%w: price required", ErrInvalidInput)
	}
	if s.Decimals < 0 || s.Decimals > 255 {
		return fmt.Errorf("%w: decimals %d out of range", ErrInvalidInput, s.Decimals)
	}
	return nil
}

// Clone returns a deep copy.
func (s *FeedState) Clone() *FeedState {
	out := *s
	if s.Price != nil {
		out.Price = new(big.Int).Set(s.Price)
	}
	return &out
}

// FeedStateStore keeps the latest state of each feed. Saving a feed
// replaces its previous state; no history is retained.
type FeedStateStore interface {
	// Save upserts the state of s.Feed.
	Save(ctx context.Context, s *FeedState) error

	// Get returns the state of feed. Returns ErrNotFound if none was saved.
	Get(ctx context.Context, feed string) (*FeedState, error)

	// List returns the states of all feeds ordered by feed identity.
	List(ctx context.Context) ([]*FeedState, error)
}
