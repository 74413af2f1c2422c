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

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/bcem/leads/internal/source"
)

// Poller periodically drains a spool directory through the runner.
type Poller struct {
	runner   *Runner
	spool    source.Spool
	interval time.Duration
}

// NewPoller creates a poller that checks the spool at the given interval.
func NewPoller(runner *Runner, spool source.Spool, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		runner:   runner,
		spool:    spool,
		interval: interval,
	}
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("spool poller starting",
		"dir", p.spool.Dir,
		"interval", p.interval,
	)

	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("spool poller stopping")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll ingests every pending spool file once. A file is moved to
// processed/ only after its run succeeded; a store failure stops the poll
// and leaves the file for the next one.
func (p *Poller) Poll(ctx context.Context) RunResult {
	var total RunResult

	files, err := p.spool.Files()
	if err != nil {
		slog.Error("failed to list spool", "dir", p.spool.Dir, "error", err)
		return total
	}
	if len(files) == 0 {
		slog.Debug("spool empty", "dir", p.spool.Dir)
		return total
	}

	slog.Info("found spool files", "count", len(files))

	for _, f := range files {
		if ctx.Err() != nil {
			return total
		}

		obs, readErrs := f.Read(ctx)
		result, err := p.runner.Ingest(ctx, obs, readErrs)
		if result != nil {
			total.Add(*result)
		}
		if err != nil {
			slog.Error("spool file ingestion failed", "file", f.Name(), "error", err)
			return total
		}

		if err := p.spool.MarkProcessed(f.Path); err != nil {
			slog.Error("failed to mark spool file processed", "file", f.Name(), "error", err)
		}
	}
	return total
}
