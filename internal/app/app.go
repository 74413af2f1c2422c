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

// Package app wires configuration into the store, Redis clients, enrichment
// providers and the pipeline runner shared by the server and the CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/leads/internal/config"
	"github.com/bcem/leads/internal/dedup"
	"github.com/bcem/leads/internal/enrich"
	"github.com/bcem/leads/internal/merge"
	"github.com/bcem/leads/internal/pipeline"
	"github.com/bcem/leads/internal/provider"
	"github.com/bcem/leads/internal/provider/clearbit"
	"github.com/bcem/leads/internal/provider/website"
	"github.com/bcem/leads/internal/queue"
	"github.com/bcem/leads/internal/store"
	"github.com/bcem/leads/internal/store/memory"
	"github.com/bcem/leads/internal/store/postgres"
	"github.com/bcem/leads/internal/store/sqlite"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config      *config.Config
	Store       store.Store
	Redis       *redis.Client // nil when Redis is not configured
	Publisher   *queue.Publisher
	Coordinator *enrich.Coordinator
	Runner      *pipeline.Runner
}

// New connects every configured backend. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	st, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Store: st}

	var (
		claims    enrich.ClaimFilter
		publisher pipeline.EventPublisher
	)
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		a.Redis = redis.NewClient(opt)
		a.Publisher = queue.NewPublisher(a.Redis, cfg.Redis.Queues.LeadEvents)
		if err := a.Publisher.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		slog.Info("connected to Redis", "queue", cfg.Redis.Queues.LeadEvents)

		claims = dedup.NewFilter(a.Redis, cfg.Redis.ClaimTTL)
		publisher = a.Publisher
	}

	e := cfg.Enrichment
	a.Coordinator = enrich.NewCoordinator(enrich.Config{
		Provider:               BuildProvider(e.Providers),
		Workers:                e.Workers,
		MinInterval:            e.MinInterval,
		MaxRateLimitedAttempts: e.RateLimitAttempts,
		MaxProviderAttempts:    e.ProviderErrorAttempts,
		InitialBackoff:         e.InitialBackoff,
		MaxBackoff:             e.MaxBackoff,
		CallTimeout:            e.CallTimeout,
		GracePeriod:            e.GracePeriod,
		Claims:                 claims,
	})

	a.Runner = pipeline.NewRunner(pipeline.RunnerConfig{
		Store:     st,
		Engine:    merge.NewEngine(merge.Config{MaxCreatives: cfg.Merge.MaxCreatives}),
		Enricher:  a.Coordinator,
		Publisher: publisher,
		Enrich:    cfg.Ingest.Enrich,
	})

	return a, nil
}

// Close releases the store and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}
}

// OpenStore opens the store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("connected to PostgreSQL")
		return st, nil
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("opened SQLite store", "path", cfg.SQLitePath)
		return st, nil
	case config.DriverMemory:
		slog.Warn("using in-memory store; leads are lost on exit")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// BuildProvider chains the enabled providers: the company API first, then
// the home page scraper for whatever it left empty.
func BuildProvider(cfg config.ProvidersConfig) enrich.Provider {
	var providers []enrich.Provider
	if cfg.Clearbit.APIKey != "" {
		providers = append(providers, clearbit.New(clearbit.Config{
			APIKey:  cfg.Clearbit.APIKey,
			BaseURL: cfg.Clearbit.BaseURL,
		}))
	}
	if cfg.Website.Enabled {
		providers = append(providers, website.New(website.Config{
			UserAgent: cfg.Website.UserAgent,
		}))
	}

	p := provider.NewChain(providers...)
	slog.Info("enrichment provider configured", "provider", p.Name())
	return p
}

// NewLogger returns a JSON logger at the named level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
