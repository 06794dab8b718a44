// Package blockfinder resolves Unix timestamps to the block that was the
// chain head at that time.
package blockfinder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"redemption-feed/internal/chain"
	"redemption-feed/internal/observability"
)

var (
	// ErrBeforeHistory is returned for timestamps earlier than the first block.
	ErrBeforeHistory = errors.New("timestamp before first block")

	// ErrInFuture is returned for timestamps further ahead of the chain head
	// than the configured head lag allows.
	ErrInFuture = errors.New("timestamp ahead of chain head")
)

// DefaultMaxCached is the default number of headers kept in the cache.
const DefaultMaxCached = 4096

// HeaderSource provides block headers.
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, ref chain.BlockRef) (*chain.BlockHeader, error)
}

// Finder finds the latest block whose timestamp is not after a given time.
// Headers seen during searches are cached so later lookups start from a
// narrower range. Block timestamps are assumed non-decreasing in block number.
// Safe for concurrent use; a single Finder can be shared by several feeds.
type Finder struct {
	src        HeaderSource
	maxHeadLag int64
	maxCached  int

	mu    sync.Mutex
	cache []chain.BlockHeader // sorted by Number
}

// Option configures a Finder.
type Option func(*Finder)

// WithMaxHeadLag rejects timestamps more than lag seconds after the head
// block with ErrInFuture. Zero (the default) resolves any later timestamp to
// the head block.
func WithMaxHeadLag(lag int64) Option {
	return func(f *Finder) {
		f.maxHeadLag = lag
	}
}

// WithMaxCached sets the cache limit. The cache is dropped when full.
func WithMaxCached(n int) Option {
	return func(f *Finder) {
		if n > 0 {
			f.maxCached = n
		}
	}
}

// New creates a Finder over src.
func New(src HeaderSource, opts ...Option) *Finder {
	f := &Finder{
		src:       src,
		maxCached: DefaultMaxCached,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// BlockForTimestamp returns the header of the highest block with
// Timestamp <= ts.
func (f *Finder) BlockForTimestamp(ctx context.Context, ts int64) (chain.BlockHeader, error) {
	head, err := f.fetch(ctx, chain.Latest)
	if err != nil {
		return chain.BlockHeader{}, err
	}
	if ts >= head.Timestamp {
		if f.maxHeadLag > 0 && ts-head.Timestamp > f.maxHeadLag {
			return chain.BlockHeader{}, fmt.Errorf("%w: %d is %ds past block %d",
				ErrInFuture, ts, ts-head.Timestamp, head.Number)
		}
		observability.RecordBlockLookup("hit")
		return head, nil
	}

	lo, hi, ok := f.bounds(ts, head)
	if !ok {
		genesis, err := f.fetch(ctx, chain.AtBlock(0))
		if err != nil {
			return chain.BlockHeader{}, err
		}
		if ts < genesis.Timestamp {
			return chain.BlockHeader{}, fmt.Errorf("%w: %d < %d", ErrBeforeHistory, ts, genesis.Timestamp)
		}
		lo = genesis
	}

	result := "hit"
	for hi.Number-lo.Number > 1 {
		result = "miss"
		mid := lo.Number + (hi.Number-lo.Number)/2
		h, err := f.fetch(ctx, chain.AtBlock(mid))
		if err != nil {
			return chain.BlockHeader{}, err
		}
		if h.Timestamp <= ts {
			lo = h
		} else {
			hi = h
		}
	}
	observability.RecordBlockLookup(result)
	return lo, nil
}

// Cached returns the number of cached headers.
func (f *Finder) Cached() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cache)
}

// bounds returns the closest cached headers around ts: lo with
// Timestamp <= ts and hi with Timestamp > ts. ok is false when no cached
// header can serve as lo.
func (f *Finder) bounds(ts int64, head chain.BlockHeader) (lo, hi chain.BlockHeader, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hi = head
	idx := sort.Search(len(f.cache), func(i int) bool {
		return f.cache[i].Timestamp > ts
	})
	if idx < len(f.cache) && f.cache[idx].Number < head.Number {
		hi = f.cache[idx]
	}
	if idx == 0 {
		return lo, hi, false
	}
	lo = f.cache[idx-1]
	if lo.Number >= hi.Number {
		return lo, head, false
	}
	return lo, hi, true
}

func (f *Finder) fetch(ctx context.Context, ref chain.BlockRef) (chain.BlockHeader, error) {
	h, err := f.src.HeaderByNumber(ctx, ref)
	if err != nil {
		return chain.BlockHeader{}, fmt.Errorf("get header %s: %w", ref, err)
	}
	f.store(*h)
	return *h, nil
}

func (f *Finder) store(h chain.BlockHeader) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := sort.Search(len(f.cache), func(i int) bool {
		return f.cache[i].Number >= h.Number
	})
	if idx < len(f.cache) && f.cache[idx].Number == h.Number {
		f.cache[idx] = h
		return
	}
	if len(f.cache) >= f.maxCached {
		f.cache = f.cache[:0]
		idx = 0
	}
	f.cache = append(f.cache, chain.BlockHeader{})
	copy(f.cache[idx+1:], f.cache[idx:])
	f.cache[idx] = h
}
