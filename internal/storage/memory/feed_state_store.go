package memory

import (
	"context"
	"sort"
	"sync"

	"redemption-feed/internal/storage"
)

// FeedStateStore is an in-memory implementation of storage.FeedStateStore.
type FeedStateStore struct {
	mu     sync.RWMutex
	states map[string]*storage.FeedState
}

// NewFeedStateStore creates a new in-memory feed state store.
func NewFeedStateStore() *FeedStateStore {
	return &FeedStateStore{
		states: make(map[string]*storage.FeedState),
	}
}

// Compile-time interface check.
var _ storage.FeedStateStore = (*FeedStateStore)(nil)

// Save upserts the state of s.Feed.
func (s *FeedStateStore) Save(_ context.Context, state *storage.FeedState) error {
	if err := state.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.Feed] = state.Clone()
	return nil
}

// Get returns the state of feed.
func (s *FeedStateStore) Get(_ context.Context, feed string) (*storage.FeedState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[feed]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return state.Clone(), nil
}

// List returns all states ordered by feed.
func (s *FeedStateStore) List(_ context.Context) ([]*storage.FeedState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.FeedState, 0, len(s.states))
	for _, state := range s.states {
		out = append(out, state.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Feed < out[j].Feed
	})
	return out, nil
}
