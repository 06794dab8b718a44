package app

import (
	"context"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redemption-feed/internal/chain/stub"
	"redemption-feed/internal/config"
	"redemption-feed/internal/pricefeed"
	"redemption-feed/internal/storage/memory"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RPC.Endpoint = "http://localhost:8545"
	cfg.Feeds = []config.FeedConfig{
		{
			Name:         "rai",
			Address:      "0x5f4e8b1a2c3d4e5f60718293a4b5c6d7e8f90123",
			Coefficients: map[string]float64{"r": 1, "c": 1e18},
		},
		{
			Name:                  "rai-shifted",
			Address:               "0x5f4e8b1a2c3d4e5f60718293a4b5c6d7e8f90123",
			Coefficients:          map[string]float64{"r": 1, "c": 1.2e18},
			MinTimeBetweenUpdates: 10 * time.Second,
		},
		{
			Name:         "rai-low",
			Address:      "0x5f4e8b1a2c3d4e5f60718293a4b5c6d7e8f90123",
			Coefficients: map[string]float64{"r": 1, "c": 0.9e18},
		},
	}
	cfg.Medianizers = []config.MedianizerConfig{
		{Name: "rai-median", Feeds: []string{"rai", "rai-shifted", "rai-low"}},
	}
	return cfg
}

func TestBuildFeeds(t *testing.T) {
	c := stub.New(1000)
	c.SetRedemption(1010, "0", "999999999874279187558202799")
	log, _ := logtest.NewNullLogger()
	cfg := testConfig()

	reg, err := BuildFeeds(cfg, c, NewResolver(cfg, c), pricefeed.ClockFunc(func() int64 { return 0 }), log)
	require.NoError(t, err)

	assert.Equal(t, []string{"rai", "rai-shifted", "rai-low", "rai-median"}, reg.Names())
	assert.False(t, reg.IsComposite("rai"))
	assert.True(t, reg.IsComposite("rai-median"))
	assert.False(t, reg.IsComposite("missing"))

	median, ok := reg.Feed("rai-median")
	require.True(t, ok)
	require.NoError(t, median.Update(context.Background()))

	rai, _ := reg.Feed("rai")
	assert.Equal(t, "874279", rai.CurrentPrice().String())
	// Median of 774279, 874279 and 1074279.
	assert.Equal(t, "874279", median.CurrentPrice().String())

	p, err := median.HistoricalPrice(context.Background(), 1010)
	require.NoError(t, err)
	assert.Equal(t, "874279", p.String())
}

func TestBuildFeeds_InvalidAddress(t *testing.T) {
	c := stub.New(1000)
	log, _ := logtest.NewNullLogger()
	cfg := testConfig()
	cfg.Feeds[0].Address = "not-an-address"

	_, err := BuildFeeds(cfg, c, NewResolver(cfg, c), pricefeed.SystemClock{}, log)
	assert.Error(t, err)
}

func TestBuildFeeds_UnknownMedianizerChild(t *testing.T) {
	c := stub.New(1000)
	log, _ := logtest.NewNullLogger()
	cfg := testConfig()
	cfg.Medianizers[0].Feeds = []string{"rai", "ghost"}

	_, err := BuildFeeds(cfg, c, NewResolver(cfg, c), pricefeed.SystemClock{}, log)
	assert.Error(t, err)
}

func TestNewResolver_MaxHeadLag(t *testing.T) {
	c := stub.New(1000)
	cfg := testConfig()
	cfg.RPC.MaxHeadLag = 60

	_, err := NewResolver(cfg, c).BlockForTimestamp(context.Background(), 2000)
	assert.Error(t, err)
}

func TestOpenStore_Memory(t *testing.T) {
	store, closeFn, err := OpenStore(context.Background(), config.StorageConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &memory.FeedStateStore{}, store)

	_, _, err = OpenStore(context.Background(), config.StorageConfig{Driver: "sqlite"})
	assert.Error(t, err)
}
