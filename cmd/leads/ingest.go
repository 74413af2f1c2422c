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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bcem/leads/internal/app"
	"github.com/bcem/leads/internal/config"
	"github.com/bcem/leads/internal/pipeline"
	"github.com/bcem/leads/internal/source"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var noEnrich bool

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Merge observation files (JSON lines) into the lead store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mutate := func(cfg *config.Config) {
				if noEnrich {
					cfg.Ingest.Enrich = false
				}
			}
			return opts.withApp(cmd, mutate, func(ctx context.Context, a *app.App) error {
				var total pipeline.RunResult
				for _, path := range args {
					res, err := ingestFile(ctx, a.Runner, source.JSONLFile{Path: path})
					if res != nil {
						total.Add(*res)
					}
					if err != nil {
						return err
					}
				}
				return renderRunResult(cmd.OutOrStdout(), &total)
			})
		},
	}

	cmd.Flags().BoolVar(&noEnrich, "no-enrich", false, "skip enrichment of touched leads")
	return cmd
}

// ingestFile runs one file through the pipeline. Undecodable lines are
// counted as rejected.
func ingestFile(ctx context.Context, runner *pipeline.Runner, f source.JSONLFile) (*pipeline.RunResult, error) {
	obs, errs := f.Read(ctx)
	slog.Info("ingesting file", "file", f.Name(), "observations", len(obs), "unreadable", len(errs))
	res, err := runner.Ingest(ctx, obs, errs)
	if err != nil {
		return res, fmt.Errorf("ingest %s: %w", f.Name(), err)
	}
	return res, nil
}
