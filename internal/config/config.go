// Package config loads service configuration from YAML, .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"redemption-feed/internal/pricemodel"
)

// Storage drivers.
const (
	DriverMemory     = "memory"
	DriverPostgres   = "postgres"
	DriverClickhouse = "clickhouse"
)

// Config is the root configuration.
type Config struct {
	RPC         RPCConfig          `yaml:"rpc"`
	Feeds       []FeedConfig       `yaml:"feeds"`
	Medianizers []MedianizerConfig `yaml:"medianizers"`
	Scheduler   SchedulerConfig    `yaml:"scheduler"`
	Storage     StorageConfig      `yaml:"storage"`
	HTTP        HTTPConfig         `yaml:"http"`
	Log         LogConfig          `yaml:"log"`
}

type RPCConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	WSEndpoint string        `yaml:"ws_endpoint"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	// MaxHeadLag bounds how far past the chain head a historical timestamp
	// may be, in seconds. Zero accepts any later timestamp.
	MaxHeadLag int64 `yaml:"max_head_lag"`
}

// FeedConfig describes one redemption price feed.
type FeedConfig struct {
	Name                  string             `yaml:"name"`
	Address               string             `yaml:"address"`
	Coefficients          map[string]float64 `yaml:"coefficients"`
	MinTimeBetweenUpdates time.Duration      `yaml:"min_time_between_updates"`
}

// MedianizerConfig combines previously declared feeds by name.
type MedianizerConfig struct {
	Name  string   `yaml:"name"`
	Feeds []string `yaml:"feeds"`
}

type SchedulerConfig struct {
	// Spec is a cron expression or descriptor, e.g. "@every 1m".
	Spec        string `yaml:"spec"`
	UseNewHeads bool   `yaml:"use_new_heads"`
	// UpdateTimeout bounds one tick. Zero leaves room for every RPC retry,
	// see Config.UpdateTimeout.
	UpdateTimeout time.Duration `yaml:"update_timeout"`
}

type StorageConfig struct {
	Driver        string `yaml:"driver"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// Default returns a configuration with every optional field set.
func Default() *Config {
	return &Config{
		RPC: RPCConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Scheduler: SchedulerConfig{
			Spec: "@every 1m",
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. ${VAR} references in the file are
// expanded. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	setString("RPC_ENDPOINT", &c.RPC.Endpoint)
	setString("WS_ENDPOINT", &c.RPC.WSEndpoint)
	setString("STORAGE_DRIVER", &c.Storage.Driver)
	setString("POSTGRES_DSN", &c.Storage.PostgresDSN)
	setString("CLICKHOUSE_DSN", &c.Storage.ClickhouseDSN)
	setString("HTTP_ADDR", &c.HTTP.Addr)
	setString("SCHEDULER_SPEC", &c.Scheduler.Spec)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FILE", &c.Log.File)

	if v := os.Getenv("RPC_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = d
	}
	if v := os.Getenv("RPC_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RPC_MAX_RETRIES: %w", err)
		}
		c.RPC.MaxRetries = n
	}
	if v := os.Getenv("SCHEDULER_UPDATE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SCHEDULER_UPDATE_TIMEOUT: %w", err)
		}
		c.Scheduler.UpdateTimeout = d
	}
	if v := os.Getenv("SCHEDULER_USE_NEW_HEADS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SCHEDULER_USE_NEW_HEADS: %w", err)
		}
		c.Scheduler.UseNewHeads = b
	}
	return nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("rpc.endpoint is required")
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("rpc.timeout must be greater than 0")
	}
	if c.RPC.MaxRetries < 0 {
		return fmt.Errorf("rpc.max_retries must not be negative")
	}
	if c.Scheduler.UpdateTimeout < 0 {
		return fmt.Errorf("scheduler.update_timeout must not be negative")
	}
	if c.Scheduler.UseNewHeads && c.RPC.WSEndpoint == "" {
		return fmt.Errorf("rpc.ws_endpoint is required when scheduler.use_new_heads is set")
	}

	if len(c.Feeds) == 0 {
		return fmt.Errorf("at least one feed is required")
	}
	names := make(map[string]bool, len(c.Feeds)+len(c.Medianizers))
	for i, f := range c.Feeds {
		if f.Name == "" {
			return fmt.Errorf("feeds[%d].name is required", i)
		}
		if names[f.Name] {
			return fmt.Errorf("feeds[%d]: duplicate name %q", i, f.Name)
		}
		names[f.Name] = true

		if f.Address == "" {
			return fmt.Errorf("feeds[%d].address is required", i)
		}
		if f.Coefficients == nil {
			return fmt.Errorf("feeds[%d].coefficients is required", i)
		}
		if unknown := unknownCoefficients(f.Coefficients); len(unknown) > 0 {
			return fmt.Errorf("feeds[%d]: unknown coefficients %v", i, unknown)
		}
		for _, name := range []string{pricemodel.CoefFloor, pricemodel.CoefCeiling} {
			if v := f.Coefficients[name]; v != math.Trunc(v) {
				return fmt.Errorf("feeds[%d].coefficients.%s must be an integer", i, name)
			}
		}
		if f.MinTimeBetweenUpdates < 0 {
			return fmt.Errorf("feeds[%d].min_time_between_updates must not be negative", i)
		}
		if f.MinTimeBetweenUpdates%time.Second != 0 {
			return fmt.Errorf("feeds[%d].min_time_between_updates must be a whole number of seconds", i)
		}
	}

	for i, m := range c.Medianizers {
		if m.Name == "" {
			return fmt.Errorf("medianizers[%d].name is required", i)
		}
		if names[m.Name] {
			return fmt.Errorf("medianizers[%d]: duplicate name %q", i, m.Name)
		}
		if len(m.Feeds) == 0 {
			return fmt.Errorf("medianizers[%d].feeds is required", i)
		}
		for _, ref := range m.Feeds {
			if !names[ref] {
				return fmt.Errorf("medianizers[%d]: unknown feed %q", i, ref)
			}
		}
		names[m.Name] = true
	}

	if _, err := cron.ParseStandard(c.Scheduler.Spec); err != nil {
		return fmt.Errorf("scheduler.spec: %w", err)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for driver %q", DriverPostgres)
		}
	case DriverClickhouse:
		if c.Storage.ClickhouseDSN == "" {
			return fmt.Errorf("storage.clickhouse_dsn is required for driver %q", DriverClickhouse)
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of memory, postgres, clickhouse", c.Storage.Driver)
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	return nil
}

// UpdateTimeout returns scheduler.update_timeout, or when unset the time
// an RPC call may take across all of its attempts.
func (c *Config) UpdateTimeout() time.Duration {
	if c.Scheduler.UpdateTimeout > 0 {
		return c.Scheduler.UpdateTimeout
	}
	return c.RPC.Timeout * time.Duration(c.RPC.MaxRetries+1)
}

// Feed returns the feed with the given name.
func (c *Config) Feed(name string) (FeedConfig, bool) {
	for _, f := range c.Feeds {
		if f.Name == name {
			return f, true
		}
	}
	return FeedConfig{}, false
}

func unknownCoefficients(coefs map[string]float64) []string {
	var unknown []string
	for name := range coefs {
		if !pricemodel.IsKnown(name) {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}
