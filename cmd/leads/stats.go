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

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/bcem/leads/internal/app"
	"github.com/bcem/leads/internal/models"
	"github.com/bcem/leads/internal/pipeline"
	"github.com/bcem/leads/internal/store"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print lead store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, nil, func(ctx context.Context, a *app.App) error {
				if window <= 0 {
					window = a.Config.ActiveWindow
				}
				st, err := a.Store.Stats(ctx, time.Now().Add(-window).UTC())
				if err != nil {
					return fmt.Errorf("load stats: %w", err)
				}
				renderStats(cmd.OutOrStdout(), st, window)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&window, "window", 0, "active window (default from config)")
	return cmd
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderStats(w io.Writer, st store.Stats, window time.Duration) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Total leads", st.TotalLeads},
		{fmt.Sprintf("Active leads (%s)", window), st.ActiveLeads},
		{"Enriched leads", st.EnrichedLeads},
		{"Ad creatives", st.TotalCreatives},
	})
	t.AppendSeparator()
	for _, p := range models.Platforms {
		t.AppendRow(table.Row{"Leads on " + string(p), st.LeadsBySource[p]})
	}
	t.Render()
}

func renderRunResult(w io.Writer, res *pipeline.RunResult) error {
	if res == nil {
		return nil
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Result", "Count"})
	t.AppendRows([]table.Row{
		{"Ingested", res.Ingested},
		{"New leads", res.MergedNew},
		{"Updated leads", res.MergedUpdated},
		{"Unchanged", res.Unchanged},
		{"Rejected", res.ValidationRejected},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Enriched", res.EnrichmentSucceeded},
		{"Nothing found", res.EnrichmentEmpty},
		{"Enrichment failed", res.EnrichmentFailed},
		{"Abandoned", res.EnrichmentAbandoned},
		{"Skipped", res.EnrichmentSkipped},
	})
	t.AppendFooter(table.Row{"Elapsed", res.Elapsed.Round(time.Millisecond)})
	t.Render()
	return nil
}
