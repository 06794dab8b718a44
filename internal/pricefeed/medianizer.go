package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// MedianizerFeed reports the median price of a set of feeds that share the
// same precision.
type MedianizerFeed struct {
	feeds    []PriceFeed
	decimals int
}

// NewMedianizerFeed creates a medianizer over feeds. All feeds must report
// the same PriceFeedDecimals.
func NewMedianizerFeed(feeds ...PriceFeed) (*MedianizerFeed, error) {
	if len(feeds) == 0 {
		return nil, &ConfigurationError{Field: "Feeds", Reason: "at least one feed required"}
	}
	decimals := 0
	for i, f := range feeds {
		if f == nil {
			return nil, &ConfigurationError{Field: "Feeds", Reason: fmt.Sprintf("feed %d is nil", i)}
		}
		d := f.PriceFeedDecimals()
		if i == 0 {
			decimals = d
		}
		if d != decimals {
			return nil, &ConfigurationError{
				Field:  "Feeds",
				Reason: fmt.Sprintf("feed %d has %d decimals, want %d", i, d, decimals),
			}
		}
	}
	return &MedianizerFeed{feeds: feeds, decimals: decimals}, nil
}

// CurrentPrice returns the median of the children's current prices, or nil
// if any child has no price yet.
func (m *MedianizerFeed) CurrentPrice() *big.Int {
	prices := make([]*big.Int, 0, len(m.feeds))
	for _, f := range m.feeds {
		p := f.CurrentPrice()
		if p == nil {
			return nil
		}
		prices = append(prices, p)
	}
	return median(prices)
}

// HistoricalPrice queries every child concurrently and returns the median.
// Any child error fails the query.
func (m *MedianizerFeed) HistoricalPrice(ctx context.Context, t int64) (*big.Int, error) {
	prices := make([]*big.Int, len(m.feeds))
	g, ctx := errgroup.WithContext(ctx)
	for i, f := range m.feeds {
		i, f := i, f
		g.Go(func() error {
			p, err := f.HistoricalPrice(ctx, t)
			if err != nil {
				return err
			}
			prices[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return median(prices), nil
}

// LastUpdateTime returns the most recent child update time, or nil if any
// child has never updated.
func (m *MedianizerFeed) LastUpdateTime() *int64 {
	var latest *int64
	for _, f := range m.feeds {
		t := f.LastUpdateTime()
		if t == nil {
			return nil
		}
		if latest == nil || *t > *latest {
			latest = t
		}
	}
	return latest
}

// Lookback is the shortest lookback of the children.
func (m *MedianizerFeed) Lookback() time.Duration {
	lookback := UnboundedLookback
	for _, f := range m.feeds {
		if l := f.Lookback(); l < lookback {
			lookback = l
		}
	}
	return lookback
}

func (m *MedianizerFeed) PriceFeedDecimals() int {
	return m.decimals
}

// Update updates every child concurrently. All children are attempted; the
// returned error joins every failure.
func (m *MedianizerFeed) Update(ctx context.Context) error {
	errs := make([]error, len(m.feeds))
	var g errgroup.Group
	for i, f := range m.feeds {
		i, f := i, f
		g.Go(func() error {
			errs[i] = f.Update(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// median returns the middle value, or the truncated mean of the two middle
// values for an even count.
func median(values []*big.Int) *big.Int {
	sorted := make([]*big.Int, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Int).Set(sorted[mid])
	}
	sum := new(big.Int).Add(sorted[mid-1], sorted[mid])
	return sum.Quo(sum, big.NewInt(2))
}

var _ PriceFeed = (*MedianizerFeed)(nil)
