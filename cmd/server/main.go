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

// Lead pipeline service.
//
// Entry point for the long-running service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Opens the lead store and connects to Redis (optional)
//  3. Serves the read API
//  4. Polls the spool directory for observation batches and runs them
//     through merge and enrichment
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bcem/leads/internal/api"
	"github.com/bcem/leads/internal/app"
	"github.com/bcem/leads/internal/config"
	"github.com/bcem/leads/internal/pipeline"
	"github.com/bcem/leads/internal/source"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(app.NewLogger(os.Stdout, cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("lead pipeline service failed", "error", err)
		cancel()
		os.Exit(1)
	}
	slog.Info("lead pipeline service stopped")
}

// run serves until ctx is cancelled. Every connection it opens is closed
// before it returns.
func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting lead pipeline service",
		"store", cfg.Store.Driver,
		"spool_dir", cfg.Ingest.SpoolDir,
		"poll_interval", cfg.Ingest.PollInterval,
		"active_window", cfg.ActiveWindow,
	)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialise: %w", err)
	}
	defer a.Close()

	// --- Spool ---
	spool := source.Spool{Dir: cfg.Ingest.SpoolDir}
	if err := os.MkdirAll(spool.ProcessedDir(), 0o755); err != nil {
		return fmt.Errorf("create spool directory %s: %w", spool.Dir, err)
	}

	// --- Read API ---
	handler := api.NewHandler(a.Store, cfg.ActiveWindow)
	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	if a.Publisher != nil {
		r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := a.Publisher.Ping(r.Context()); err != nil {
				http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
	}

	ready, err := api.Serve(ctx, cfg.Port, r)
	if err != nil {
		return err
	}
	<-ready

	// --- Spool poller ---
	pipeline.NewPoller(a.Runner, spool, cfg.Ingest.PollInterval).Run(ctx)
	return nil
}
