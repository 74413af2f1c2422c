// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// StoreConfig selects and configures the lead store.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

// RedisConfig configures claims and lead events. An empty URL disables both.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	Queues   QueuesConfig  `yaml:"queues"`
	ClaimTTL time.Duration `yaml:"claim_ttl"`
}

// QueuesConfig names the Redis lists events are pushed to.
type QueuesConfig struct {
	LeadEvents string `yaml:"lead_events"`
}

// ClearbitConfig configures the company API provider. An empty API key
// disables it.
type ClearbitConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// WebsiteConfig configures the home page scraper.
type WebsiteConfig struct {
	Enabled   bool   `yaml:"enabled"`
	UserAgent string `yaml:"user_agent"`
}

// ProvidersConfig configures the enrichment providers, queried in order.
type ProvidersConfig struct {
	Clearbit ClearbitConfig `yaml:"clearbit"`
	Website  WebsiteConfig  `yaml:"website"`
}

// EnrichmentConfig tunes the enrichment coordinator.
type EnrichmentConfig struct {
	Workers               int             `yaml:"workers"`
	MinInterval           time.Duration   `yaml:"min_interval"`
	RateLimitAttempts     int             `yaml:"rate_limit_attempts"`
	ProviderErrorAttempts int             `yaml:"provider_error_attempts"`
	InitialBackoff        time.Duration   `yaml:"initial_backoff"`
	MaxBackoff            time.Duration   `yaml:"max_backoff"`
	CallTimeout           time.Duration   `yaml:"call_timeout"`
	GracePeriod           time.Duration   `yaml:"grace_period"`
	Providers             ProvidersConfig `yaml:"providers"`
}

// IngestConfig configures the spool poller.
type IngestConfig struct {
	SpoolDir     string        `yaml:"spool_dir"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Enrich       bool          `yaml:"enrich"`
}

// MergeConfig tunes the merge engine.
type MergeConfig struct {
	MaxCreatives int `yaml:"max_creatives"`
}

// Config holds all configuration for the lead pipeline.
type Config struct {
	Store        StoreConfig      `yaml:"store"`
	Redis        RedisConfig      `yaml:"redis"`
	Merge        MergeConfig      `yaml:"merge"`
	Enrichment   EnrichmentConfig `yaml:"enrichment"`
	Ingest       IngestConfig     `yaml:"ingest"`
	ActiveWindow time.Duration    `yaml:"active_window"`
	LogLevel     string           `yaml:"log_level"`
	Port         int              `yaml:"port"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{
		Store: StoreConfig{
			Driver:     DriverSQLite,
			SQLitePath: "leads.db",
		},
		Redis: RedisConfig{
			Queues:   QueuesConfig{LeadEvents: "lead_events"},
			ClaimTTL: 24 * time.Hour,
		},
		Merge: MergeConfig{MaxCreatives: 200},
		Enrichment: EnrichmentConfig{
			Workers:               4,
			RateLimitAttempts:     5,
			ProviderErrorAttempts: 3,
			InitialBackoff:        500 * time.Millisecond,
			MaxBackoff:            30 * time.Second,
			CallTimeout:           30 * time.Second,
			GracePeriod:           10 * time.Second,
		},
		Ingest: IngestConfig{
			SpoolDir:     "spool",
			PollInterval: time.Minute,
			Enrich:       true,
		},
		ActiveWindow: 72 * time.Hour,
		LogLevel:     "info",
		Port:         8080,
	}
	cfg.Enrichment.Providers.Website.Enabled = true
	cfg.Enrichment.Providers.Clearbit.BaseURL = "https://company.clearbit.com"
	return cfg
}

// Load reads configuration from config.yaml (with env var expansion) and
// applies environment overrides. A missing config file is not an error.
func Load() (*Config, error) {
	return LoadFile(envOrDefault("CONFIG_PATH", "config.yaml"))
}

// LoadFile is Load with an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	default:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Store.Driver = envOrDefault("STORE_DRIVER", c.Store.Driver)
	c.Store.DatabaseURL = envOrDefault("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.SQLitePath = envOrDefault("SQLITE_PATH", c.Store.SQLitePath)

	c.Redis.URL = envOrDefault("REDIS_URL", c.Redis.URL)
	c.Redis.Queues.LeadEvents = envOrDefault("LEAD_EVENTS_QUEUE", c.Redis.Queues.LeadEvents)

	c.Enrichment.Workers = envOrDefaultInt("ENRICH_WORKERS", c.Enrichment.Workers)
	c.Enrichment.MinInterval = envOrDefaultDuration("ENRICH_MIN_INTERVAL", c.Enrichment.MinInterval)
	c.Enrichment.Providers.Clearbit.APIKey = envOrDefault("CLEARBIT_API_KEY", c.Enrichment.Providers.Clearbit.APIKey)

	c.Ingest.SpoolDir = envOrDefault("SPOOL_DIR", c.Ingest.SpoolDir)
	c.Ingest.PollInterval = envOrDefaultDuration("POLL_INTERVAL", c.Ingest.PollInterval)

	c.ActiveWindow = envOrDefaultDuration("ACTIVE_WINDOW", c.ActiveWindow)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.Port = envOrDefaultInt("PORT", c.Port)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for the postgres driver"))
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.Merge.MaxCreatives < 0 {
		errs = append(errs, errors.New("merge.max_creatives must not be negative"))
	}
	e := c.Enrichment
	if e.Workers < 1 {
		errs = append(errs, errors.New("enrichment.workers must be at least 1"))
	}
	if e.RateLimitAttempts < 1 || e.ProviderErrorAttempts < 1 {
		errs = append(errs, errors.New("enrichment attempt budgets must be at least 1"))
	}
	if e.InitialBackoff < 0 || e.MaxBackoff < e.InitialBackoff {
		errs = append(errs, errors.New("enrichment.max_backoff must be >= initial_backoff >= 0"))
	}
	if e.MinInterval < 0 || e.CallTimeout < 0 || e.GracePeriod < 0 {
		errs = append(errs, errors.New("enrichment durations must not be negative"))
	}
	if c.ActiveWindow <= 0 {
		errs = append(errs, errors.New("active_window must be positive"))
	}
	if c.Ingest.PollInterval <= 0 {
		errs = append(errs, errors.New("ingest.poll_interval must be positive"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}
