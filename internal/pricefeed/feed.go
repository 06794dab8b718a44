// Package pricefeed defines the price feed capability and its on-chain
// redemption price implementation.
package pricefeed

import (
	"context"
	"math"
	"math/big"
	"time"
)

// UnboundedLookback is reported by feeds that can serve any historical time.
const UnboundedLookback = time.Duration(math.MaxInt64)

// PriceFeed is a source of prices scaled by 10^PriceFeedDecimals().
type PriceFeed interface {
	// CurrentPrice returns the price stored by the last successful Update,
	// or nil if there has been none.
	CurrentPrice() *big.Int

	// HistoricalPrice computes the price as of Unix time t without touching
	// the stored state.
	HistoricalPrice(ctx context.Context, t int64) (*big.Int, error)

	// LastUpdateTime returns the clock value of the last successful
	// refresh, or nil if there has been none.
	LastUpdateTime() *int64

	// Lookback returns how far back HistoricalPrice can reach.
	Lookback() time.Duration

	// PriceFeedDecimals returns the fixed-point precision of prices.
	PriceFeedDecimals() int

	// Update refreshes the stored price if enough time has passed since
	// the last refresh.
	Update(ctx context.Context) error
}

// Clock returns the current Unix time in seconds.
type Clock interface {
	Now() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

func (f ClockFunc) Now() int64 { return f() }

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }
