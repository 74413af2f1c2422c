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
	"time"

	"github.com/spf13/cobra"

	"github.com/bcem/leads/internal/app"
	"github.com/bcem/leads/internal/store"
)

// filterFlags are shared by commands that select stored leads.
type filterFlags struct {
	activeOnly bool
	window     time.Duration
	limit      int
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.activeOnly, "active-only", false, "only leads seen within the active window")
	cmd.Flags().DurationVar(&f.window, "window", 0, "active window (default from config)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of leads (0 for all)")
}

func (f *filterFlags) filter(defaultWindow time.Duration) store.Filter {
	window := f.window
	if window == 0 {
		window = defaultWindow
	}
	return store.Filter{
		ActiveOnly:   f.activeOnly,
		ActiveWindow: window,
		Limit:        f.limit,
	}
}

func newEnrichCmd(opts *rootOptions) *cobra.Command {
	var flags filterFlags

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enrich stored leads that are missing company info",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, nil, func(ctx context.Context, a *app.App) error {
				res, err := a.Runner.EnrichStored(ctx, flags.filter(a.Config.ActiveWindow))
				if err != nil {
					return err
				}
				return renderRunResult(cmd.OutOrStdout(), res)
			})
		},
	}

	flags.register(cmd)
	return cmd
}
