package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"redemption-feed/internal/blockfinder"
	"redemption-feed/internal/chain"
	"redemption-feed/internal/observability"
	"redemption-feed/internal/pricemodel"
)

const (
	// RedemptionDecimals is the precision of RedemptionFeed prices.
	RedemptionDecimals = 9

	// DefaultMinTimeBetweenUpdates is the default refresh throttle.
	DefaultMinTimeBetweenUpdates = 60 * time.Second
)

// ErrInvalidPrice is returned when the model evaluates to NaN or infinity.
var ErrInvalidPrice = errors.New("evaluated price is not finite")

// ChainAccessor reads a uint256 contract view as of a block.
type ChainAccessor interface {
	Read(ctx context.Context, view string, block chain.BlockRef) (*big.Int, error)
}

// BlockResolver maps a Unix timestamp to the block that was current then.
type BlockResolver interface {
	BlockForTimestamp(ctx context.Context, ts int64) (chain.BlockHeader, error)
}

// RedemptionFeedOptions configures a RedemptionFeed.
type RedemptionFeedOptions struct {
	// Coefficients of the price model. Required.
	Coefficients pricemodel.Coefficients

	// Address of the redemption oracle relay. Defaults to Reader's address
	// when Reader has an Address method.
	Address string

	// Reader reads the redemption views. Required.
	Reader ChainAccessor

	// Clock supplies the current time. Required.
	Clock Clock

	// Logger receives one debug record per evaluation. Required.
	Logger logrus.FieldLogger

	// Resolver maps historical timestamps to blocks. Pass a shared
	// resolver to share its cache between feeds. If nil, a private
	// blockfinder.Finder over Headers is created.
	Resolver BlockResolver
	Headers  blockfinder.HeaderSource

	// MinTimeBetweenUpdates throttles Update. Zero means the default of 60s.
	MinTimeBetweenUpdates time.Duration
}

// RedemptionFeed prices an instrument by evaluating a polynomial model over
// the redemption price and rate of an on-chain oracle relay.
type RedemptionFeed struct {
	identity    string
	model       *pricemodel.Model
	reader      ChainAccessor
	clock       Clock
	resolver    BlockResolver
	minInterval int64 // seconds
	log         *logrus.Entry

	group singleflight.Group

	mu             sync.RWMutex
	price          *big.Int
	lastUpdateTime *int64
}

// NewRedemptionFeed validates opts and returns a feed with no stored price.
func NewRedemptionFeed(opts RedemptionFeedOptions) (*RedemptionFeed, error) {
	if opts.Coefficients == nil {
		return nil, &ConfigurationError{Field: "Coefficients", Reason: "required"}
	}
	model, err := pricemodel.New(opts.Coefficients)
	if err != nil {
		return nil, &ConfigurationError{Field: "Coefficients", Reason: err.Error()}
	}
	// Prices are integers; a fractional clamp bound would truncate below l.
	for _, name := range []string{pricemodel.CoefFloor, pricemodel.CoefCeiling} {
		if v := opts.Coefficients[name]; v != math.Trunc(v) {
			return nil, &ConfigurationError{Field: "Coefficients." + name, Reason: "must be an integer"}
		}
	}
	if opts.Reader == nil {
		return nil, &ConfigurationError{Field: "Reader", Reason: "required"}
	}
	if opts.Clock == nil {
		return nil, &ConfigurationError{Field: "Clock", Reason: "required"}
	}
	if opts.Logger == nil {
		return nil, &ConfigurationError{Field: "Logger", Reason: "required"}
	}

	address := opts.Address
	if address == "" {
		if a, ok := opts.Reader.(interface{ Address() string }); ok {
			address = a.Address()
		}
	}
	if address == "" {
		return nil, &ConfigurationError{Field: "Address", Reason: "required"}
	}

	resolver := opts.Resolver
	if resolver == nil {
		if opts.Headers == nil {
			return nil, &ConfigurationError{Field: "Resolver", Reason: "either Resolver or Headers required"}
		}
		resolver = blockfinder.New(opts.Headers)
	}

	interval := opts.MinTimeBetweenUpdates
	switch {
	case interval < 0:
		return nil, &ConfigurationError{Field: "MinTimeBetweenUpdates", Reason: "must not be negative"}
	case interval == 0:
		interval = DefaultMinTimeBetweenUpdates
	case interval%time.Second != 0:
		return nil, &ConfigurationError{Field: "MinTimeBetweenUpdates", Reason: "must be a whole number of seconds"}
	}

	identity := "Rai-" + address
	return &RedemptionFeed{
		identity:    identity,
		model:       model,
		reader:      opts.Reader,
		clock:       opts.Clock,
		resolver:    resolver,
		minInterval: int64(interval / time.Second),
		log: opts.Logger.WithFields(logrus.Fields{
			"component": "pricefeed",
			"feed":      identity,
		}),
	}, nil
}

// Identity returns the feed identifier, "Rai-<address>".
func (f *RedemptionFeed) Identity() string {
	return f.identity
}

func (f *RedemptionFeed) CurrentPrice() *big.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil
	}
	return new(big.Int).Set(f.price)
}

func (f *RedemptionFeed) LastUpdateTime() *int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.lastUpdateTime == nil {
		return nil
	}
	t := *f.lastUpdateTime
	return &t
}

func (f *RedemptionFeed) Lookback() time.Duration {
	return UnboundedLookback
}

func (f *RedemptionFeed) PriceFeedDecimals() int {
	return RedemptionDecimals
}

// Update refreshes the stored price from the latest block unless the last
// refresh happened less than MinTimeBetweenUpdates ago. Concurrent calls
// share a single refresh; each caller stops waiting when its own ctx ends.
// On error the stored state is left unchanged.
func (f *RedemptionFeed) Update(ctx context.Context) error {
	ch := f.group.DoChan(f.identity, func() (interface{}, error) {
		return nil, f.update(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *RedemptionFeed) update(ctx context.Context) error {
	now := f.clock.Now()

	f.mu.RLock()
	last := f.lastUpdateTime
	f.mu.RUnlock()

	if last != nil && now < *last+f.minInterval {
		observability.RecordUpdate(f.identity, observability.UpdateThrottled)
		return nil
	}

	start := time.Now()
	price, err := f.priceAt(ctx, chain.Latest, now)
	observability.RecordEvaluation(f.identity, time.Since(start).Seconds())
	if err != nil {
		observability.RecordUpdate(f.identity, observability.UpdateError)
		return err
	}

	f.mu.Lock()
	f.price = price
	f.lastUpdateTime = &now
	f.mu.Unlock()

	observability.RecordUpdate(f.identity, observability.UpdateRefreshed)
	scaled, _ := new(big.Float).SetInt(price).Float64()
	observability.UpdateFeedState(f.identity, scaled, now)
	return nil
}

// HistoricalPrice evaluates the model at the block that was current at t.
func (f *RedemptionFeed) HistoricalPrice(ctx context.Context, t int64) (*big.Int, error) {
	header, err := f.resolver.BlockForTimestamp(ctx, t)
	if err != nil {
		err = &BlockResolutionError{Timestamp: t, Err: err}
		observability.RecordHistoricalQuery(f.identity, err)
		return nil, err
	}

	price, err := f.priceAt(ctx, header.Ref(), t)
	observability.RecordHistoricalQuery(f.identity, err)
	return price, err
}

// priceAt reads both redemption views at block and evaluates the model with
// timestamp as the time input.
func (f *RedemptionFeed) priceAt(ctx context.Context, block chain.BlockRef, timestamp int64) (*big.Int, error) {
	rawPrice, err := f.reader.Read(ctx, chain.ViewRedemptionPrice, block)
	if err != nil {
		return nil, &ChainReadError{View: chain.ViewRedemptionPrice, Block: block, Err: err}
	}
	rawRate, err := f.reader.Read(ctx, chain.ViewRedemptionRate, block)
	if err != nil {
		return nil, &ChainReadError{View: chain.ViewRedemptionRate, Block: block, Err: err}
	}

	redemptionPrice := DecodeSigned(rawPrice)
	redemptionRate := DecodeSigned(rawRate)

	value := f.model.Evaluate(redemptionPrice, redemptionRate, float64(timestamp))
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrice, value)
	}
	result, _ := big.NewFloat(value).Int(nil)

	f.log.WithFields(logrus.Fields{
		"redemption_price": redemptionPrice,
		"redemption_rate":  redemptionRate,
		"result":           result.String(),
		"coefs":            f.model.Coefficients(),
		"block":            block.String(),
	}).Debug("evaluated redemption price")

	return result, nil
}

var _ PriceFeed = (*RedemptionFeed)(nil)
