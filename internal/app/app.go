// Package app assembles feeds, storage and scheduling from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"redemption-feed/internal/blockfinder"
	"redemption-feed/internal/chain"
	"redemption-feed/internal/config"
	"redemption-feed/internal/pricefeed"
	"redemption-feed/internal/storage"
	chstore "redemption-feed/internal/storage/clickhouse"
	"redemption-feed/internal/storage/memory"
	"redemption-feed/internal/storage/migrations"
	pgstore "redemption-feed/internal/storage/postgres"
)

// Registry holds named feeds in declaration order.
type Registry struct {
	names []string
	feeds map[string]pricefeed.PriceFeed
	base  map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		feeds: make(map[string]pricefeed.PriceFeed),
		base:  make(map[string]bool),
	}
}

func (r *Registry) add(name string, feed pricefeed.PriceFeed, base bool) error {
	if _, ok := r.feeds[name]; ok {
		return fmt.Errorf("duplicate feed %q", name)
	}
	r.names = append(r.names, name)
	r.feeds[name] = feed
	r.base[name] = base
	return nil
}

// Feed returns the named feed.
func (r *Registry) Feed(name string) (pricefeed.PriceFeed, bool) {
	f, ok := r.feeds[name]
	return f, ok
}

// Names returns all feed names in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// IsComposite reports whether name is a medianizer.
func (r *Registry) IsComposite(name string) bool {
	_, ok := r.feeds[name]
	return ok && !r.base[name]
}

// BuildFeeds creates one RedemptionFeed per configured feed, sharing
// resolver, followed by the configured medianizers.
func BuildFeeds(cfg *config.Config, caller chain.Caller, resolver pricefeed.BlockResolver, clock pricefeed.Clock, log logrus.FieldLogger) (*Registry, error) {
	reg := NewRegistry()

	for _, fc := range cfg.Feeds {
		reader, err := chain.NewContractReader(caller, chain.Binding{
			Address: fc.Address,
			Views:   chain.RedemptionViews,
		})
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", fc.Name, err)
		}

		feed, err := pricefeed.NewRedemptionFeed(pricefeed.RedemptionFeedOptions{
			Coefficients:          fc.Coefficients,
			Reader:                reader,
			Clock:                 clock,
			Logger:                log.WithField("feed_name", fc.Name),
			Resolver:              resolver,
			MinTimeBetweenUpdates: fc.MinTimeBetweenUpdates,
		})
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", fc.Name, err)
		}
		if err := reg.add(fc.Name, feed, true); err != nil {
			return nil, err
		}
	}

	for _, mc := range cfg.Medianizers {
		children := make([]pricefeed.PriceFeed, 0, len(mc.Feeds))
		for _, ref := range mc.Feeds {
			child, ok := reg.Feed(ref)
			if !ok {
				return nil, fmt.Errorf("medianizer %s: unknown feed %q", mc.Name, ref)
			}
			children = append(children, child)
		}
		m, err := pricefeed.NewMedianizerFeed(children...)
		if err != nil {
			return nil, fmt.Errorf("medianizer %s: %w", mc.Name, err)
		}
		if err := reg.add(mc.Name, m, false); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// NewResolver creates the block resolver shared by all feeds.
func NewResolver(cfg *config.Config, headers blockfinder.HeaderSource) *blockfinder.Finder {
	var opts []blockfinder.Option
	if cfg.RPC.MaxHeadLag > 0 {
		opts = append(opts, blockfinder.WithMaxHeadLag(cfg.RPC.MaxHeadLag))
	}
	return blockfinder.New(headers, opts...)
}

// OpenStore opens the configured feed state store and applies migrations.
// The returned function releases its connections.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.FeedStateStore, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return memory.NewFeedStateStore(), func() {}, nil

	case config.DriverPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		return pgstore.NewFeedStateStore(pool), pool.Close, nil

	case config.DriverClickhouse:
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		return chstore.NewFeedStateStore(conn), func() { _ = conn.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
