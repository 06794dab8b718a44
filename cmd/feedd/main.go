// Package main runs the redemption price feed service:
// - Scheduler: refreshes every configured feed on a cron schedule and on new heads
// - Storage: persists the latest price of each feed
// - HTTP: health, metrics, status and price queries
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"redemption-feed/internal/api"
	"redemption-feed/internal/app"
	"redemption-feed/internal/chain"
	"redemption-feed/internal/config"
	"redemption-feed/internal/logger"
	"redemption-feed/internal/pricefeed"
	"redemption-feed/internal/scheduler"
)

func main() {
	log := logger.Logger()

	if err := config.LoadEnvFiles(); err != nil {
		log.WithError(err).Fatal("load env file")
	}

	// Flags take precedence over the environment and the config file.
	configPath := flag.String("config", os.Getenv("FEED_CONFIG"), "Path to YAML configuration")
	rpcEndpoint := flag.String("rpc-endpoint", "", "Ethereum JSON-RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", "", "Ethereum JSON-RPC WebSocket endpoint")
	httpAddr := flag.String("http-addr", "", "HTTP listen address")
	storageDriver := flag.String("storage", "", "Storage driver (memory, postgres, clickhouse)")
	newHeads := flag.Bool("new-heads", false, "Also update feeds on every new block")
	flag.Parse()

	setEnv := func(key, value string) {
		if value != "" {
			_ = os.Setenv(key, value)
		}
	}
	setEnv("RPC_ENDPOINT", *rpcEndpoint)
	setEnv("WS_ENDPOINT", *wsEndpoint)
	setEnv("HTTP_ADDR", *httpAddr)
	setEnv("STORAGE_DRIVER", *storageDriver)
	if *newHeads {
		setEnv("SCHEDULER_USE_NEW_HEADS", "true")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	if err := log.Configure(cfg.Log.Level, cfg.Log.Format, cfg.Log.File, cfg.Log.MaxSizeMB); err != nil {
		log.WithError(err).Fatal("configure logger")
	}
	entry := log.WithComponent("feedd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		entry.WithField("signal", sig.String()).Info("shutting down")
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			entry.WithField("signal", sig.String()).Warn("forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			entry.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		}
	}()

	if err := run(ctx, cfg, log); err != nil {
		entry.WithError(err).Error("service stopped with error")
		os.Exit(1)
	}
	entry.Info("shutdown complete")
}

// run wires the service and blocks until ctx is cancelled or a component
// fails. Every resource it opens is released before it returns.
func run(ctx context.Context, cfg *config.Config, log *logger.Log) error {
	entry := log.WithComponent("feedd")

	rpc := chain.NewHTTPClient(cfg.RPC.Endpoint,
		chain.WithTimeout(cfg.RPC.Timeout),
		chain.WithMaxRetries(cfg.RPC.MaxRetries),
	)
	resolver := app.NewResolver(cfg, rpc)

	reg, err := app.BuildFeeds(cfg, rpc, resolver, pricefeed.SystemClock{}, log.WithComponent("pricefeed").Entry)
	if err != nil {
		return fmt.Errorf("build feeds: %w", err)
	}

	store, closeStore, err := app.OpenStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	targets := make([]scheduler.Target, 0, len(reg.Names()))
	for _, name := range reg.Names() {
		feed, _ := reg.Feed(name)
		targets = append(targets, scheduler.Target{Name: name, Feed: feed})
	}

	opts := scheduler.Options{
		Spec:          cfg.Scheduler.Spec,
		Targets:       targets,
		Store:         store,
		StoreDriver:   cfg.Storage.Driver,
		UpdateTimeout: cfg.UpdateTimeout(),
		Logger:        log.Logger,
	}
	if cfg.Scheduler.UseNewHeads {
		ws, err := chain.NewWSClient(ctx, cfg.RPC.WSEndpoint, nil)
		if err != nil {
			return fmt.Errorf("connect websocket: %w", err)
		}
		defer ws.Close()
		opts.Heads = ws
	}

	sched, err := scheduler.New(opts)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(reg, store, sched.Status, log.Logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		entry.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
