// Package main evaluates one configured feed once and prints the price.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"redemption-feed/internal/api"
	"redemption-feed/internal/app"
	"redemption-feed/internal/chain"
	"redemption-feed/internal/config"
	"redemption-feed/internal/logger"
	"redemption-feed/internal/pricefeed"
)

func main() {
	configPath := flag.String("config", os.Getenv("FEED_CONFIG"), "Path to YAML configuration")
	rpcEndpoint := flag.String("rpc-endpoint", "", "Ethereum JSON-RPC HTTP endpoint")
	feedName := flag.String("feed", "", "Feed to evaluate (default: first configured feed)")
	at := flag.Int64("time", 0, "Unix timestamp for a historical price (default: current)")
	verbose := flag.Bool("v", false, "Log the model inputs of every evaluation")
	timeout := flag.Duration("timeout", time.Minute, "Overall deadline")
	flag.Parse()

	if err := config.LoadEnvFiles(); err != nil {
		fail("load env file: %v", err)
	}
	if *rpcEndpoint != "" {
		_ = os.Setenv("RPC_ENDPOINT", *rpcEndpoint)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("%v", err)
	}

	log := logger.Logger()
	level := "warn"
	if *verbose {
		level = "debug"
	}
	if err := log.Configure(level, "text", "stderr", 0); err != nil {
		fail("configure logger: %v", err)
	}

	rpc := chain.NewHTTPClient(cfg.RPC.Endpoint,
		chain.WithTimeout(cfg.RPC.Timeout),
		chain.WithMaxRetries(cfg.RPC.MaxRetries),
	)
	reg, err := app.BuildFeeds(cfg, rpc, app.NewResolver(cfg, rpc), pricefeed.SystemClock{}, log.WithComponent("pricecheck").Entry)
	if err != nil {
		fail("%v", err)
	}

	name := *feedName
	if name == "" {
		name = reg.Names()[0]
	}
	feed, ok := reg.Feed(name)
	if !ok {
		fail("unknown feed %q (configured: %s)", name, strings.Join(reg.Names(), ", "))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var price *big.Int
	if *at != 0 {
		price, err = feed.HistoricalPrice(ctx, *at)
	} else {
		err = feed.Update(ctx)
		price = feed.CurrentPrice()
	}
	if err != nil {
		fail("%s: %v", name, err)
	}
	if price == nil {
		fail("%s: no price available", name)
	}

	decimals := feed.PriceFeedDecimals()
	fmt.Printf("feed:     %s\n", name)
	fmt.Printf("price:    %s\n", price)
	fmt.Printf("value:    %s\n", api.FormatPrice(price, decimals))
	fmt.Printf("decimals: %d\n", decimals)
	if *at != 0 {
		fmt.Printf("time:     %d (%s)\n", *at, time.Unix(*at, 0).UTC().Format(time.RFC3339))
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
