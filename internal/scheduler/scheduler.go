// Package scheduler drives periodic feed updates and persists the latest
// price of each feed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"redemption-feed/internal/chain"
	"redemption-feed/internal/observability"
	"redemption-feed/internal/pricefeed"
	"redemption-feed/internal/storage"
)

// Target is a feed driven by the scheduler.
type Target struct {
	Name string
	Feed pricefeed.PriceFeed
}

// HeadSource delivers new chain heads. chain.WSClient satisfies it.
type HeadSource interface {
	SubscribeNewHeads(ctx context.Context) (<-chan chain.BlockHeader, error)
}

// Options configures a Scheduler.
type Options struct {
	// Spec is a standard cron expression or descriptor ("@every 1m").
	Spec    string
	Targets []Target

	// Store receives the latest state of each target after a refresh.
	// Optional.
	Store       storage.FeedStateStore
	StoreDriver string // metrics label

	// Heads triggers an extra tick for every new block. Optional.
	Heads HeadSource

	// UpdateTimeout bounds a single tick. Zero means no deadline.
	UpdateTimeout time.Duration

	Logger logrus.FieldLogger
}

// FeedStatus is the last observed state of a target.
type FeedStatus struct {
	Price      string `json:"price,omitempty"`
	Decimals   int    `json:"decimals"`
	LastUpdate *int64 `json:"last_update,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// Status summarises scheduler activity.
type Status struct {
	Running bool                  `json:"running"`
	Ticks   int                   `json:"ticks"`
	Skipped int                   `json:"skipped"`
	LastRun time.Time             `json:"last_run,omitempty"`
	Feeds   map[string]FeedStatus `json:"feeds"`
}

// Scheduler updates every target on a cron schedule and, optionally, on
// every new chain head. Overlapping ticks are skipped.
type Scheduler struct {
	opts     Options
	schedule cron.Schedule
	log      logrus.FieldLogger

	mu        sync.Mutex
	running   bool
	ticks     int
	skipped   int
	lastRun   time.Time
	lastErr   map[string]string
	lastSaved map[string]int64
}

// New validates opts and returns a scheduler.
func New(opts Options) (*Scheduler, error) {
	if len(opts.Targets) == 0 {
		return nil, errors.New("at least one target required")
	}
	seen := make(map[string]bool, len(opts.Targets))
	for _, t := range opts.Targets {
		if t.Name == "" || t.Feed == nil {
			return nil, errors.New("target requires name and feed")
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate target %q", t.Name)
		}
		seen[t.Name] = true
	}

	schedule, err := cron.ParseStandard(opts.Spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", opts.Spec, err)
	}

	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.StoreDriver == "" {
		opts.StoreDriver = "unknown"
	}

	return &Scheduler{
		opts:      opts,
		schedule:  schedule,
		log:       log.WithField("component", "scheduler"),
		lastErr:   make(map[string]string),
		lastSaved: make(map[string]int64),
	}, nil
}

// Run ticks once immediately, then on schedule until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithLogger(cron.PrintfLogger(s.log)))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.Tick(ctx) }))

	var heads <-chan chain.BlockHeader
	if s.opts.Heads != nil {
		ch, err := s.opts.Heads.SubscribeNewHeads(ctx)
		if err != nil {
			return fmt.Errorf("subscribe new heads: %w", err)
		}
		heads = ch
	}

	s.log.WithField("spec", s.opts.Spec).Info("scheduler started")
	s.Tick(ctx)
	c.Start()
	defer func() {
		<-c.Stop().Done()
		s.log.Info("scheduler stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case h, ok := <-heads:
			if !ok {
				s.log.Warn("head subscription closed, continuing on schedule only")
				heads = nil
				continue
			}
			observability.RecordHead(h.Number)
			s.Tick(ctx)
		}
	}
}

// Tick updates every target concurrently and persists refreshed prices.
// It returns immediately if a previous tick is still running.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.skipped++
		s.mu.Unlock()
		s.log.Debug("tick already running, skipping")
		return
	}
	s.running = true
	s.mu.Unlock()

	observability.RecordSchedulerRun()
	start := time.Now()

	if s.opts.UpdateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.UpdateTimeout)
		defer cancel()
	}

	errs := make([]error, len(s.opts.Targets))
	var g errgroup.Group
	for i, t := range s.opts.Targets {
		i, t := i, t
		g.Go(func() error {
			errs[i] = s.updateTarget(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.ticks++
	s.lastRun = time.Now()
	for i, t := range s.opts.Targets {
		if errs[i] != nil {
			s.lastErr[t.Name] = errs[i].Error()
		} else {
			delete(s.lastErr, t.Name)
		}
	}
	s.log.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("tick finished")
}

func (s *Scheduler) updateTarget(ctx context.Context, t Target) error {
	log := s.log.WithField("target", t.Name)

	if err := t.Feed.Update(ctx); err != nil {
		log.WithError(err).Warn("feed update failed")
		return err
	}

	price := t.Feed.CurrentPrice()
	updated := t.Feed.LastUpdateTime()
	if price == nil || updated == nil {
		return nil
	}

	s.mu.Lock()
	last, saved := s.lastSaved[t.Name]
	s.mu.Unlock()
	if saved && last == *updated {
		return nil
	}

	log.WithFields(logrus.Fields{
		"price":       price.String(),
		"last_update": *updated,
	}).Info("feed refreshed")

	if s.opts.Store == nil {
		s.markSaved(t.Name, *updated)
		return nil
	}

	start := time.Now()
	err := s.opts.Store.Save(ctx, &storage.FeedState{
		Feed:      t.Name,
		Price:     price,
		Decimals:  t.Feed.PriceFeedDecimals(),
		UpdatedAt: *updated,
	})
	observability.RecordStoreWrite(s.opts.StoreDriver, time.Since(start).Seconds(), err)
	if err != nil {
		log.WithError(err).Error("save feed state failed")
		return fmt.Errorf("save %s: %w", t.Name, err)
	}
	s.markSaved(t.Name, *updated)
	return nil
}

func (s *Scheduler) markSaved(name string, updated int64) {
	s.mu.Lock()
	s.lastSaved[name] = updated
	s.mu.Unlock()
}

// Status returns a snapshot of scheduler activity and target state.
func (s *Scheduler) Status() Status {
	feeds := make(map[string]FeedStatus, len(s.opts.Targets))
	for _, t := range s.opts.Targets {
		fs := FeedStatus{
			Decimals:   t.Feed.PriceFeedDecimals(),
			LastUpdate: t.Feed.LastUpdateTime(),
		}
		if p := t.Feed.CurrentPrice(); p != nil {
			fs.Price = p.String()
		}
		feeds[t.Name] = fs
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, msg := range s.lastErr {
		fs := feeds[name]
		fs.LastError = msg
		feeds[name] = fs
	}
	return Status{
		Running: s.running,
		Ticks:   s.ticks,
		Skipped: s.skipped,
		LastRun: s.lastRun,
		Feeds:   feeds,
	}
}
