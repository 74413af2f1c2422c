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

// Command leads runs the lead pipeline from the command line: ingest
// observation files, enrich stored leads, export them and print stats.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bcem/leads/internal/app"
	"github.com/bcem/leads/internal/config"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "leads",
		Short:         "Aggregate advertiser leads from ad platform observations",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $CONFIG_PATH or ./config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newIngestCmd(opts),
		newEnrichCmd(opts),
		newExportCmd(opts),
		newStatsCmd(opts),
	)
	return cmd
}

// loadConfig resolves the config file and sets up logging to stderr so
// stdout stays free for command output.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	slog.SetDefault(app.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel))
	return cfg, nil
}

// withApp loads configuration, lets mutate adjust it, then runs fn with a
// connected App.
func (o *rootOptions) withApp(cmd *cobra.Command, mutate func(*config.Config), fn func(context.Context, *app.App) error) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}
	if mutate != nil {
		mutate(cfg)
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
