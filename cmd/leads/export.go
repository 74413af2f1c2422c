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
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bcem/leads/internal/app"
	"github.com/bcem/leads/internal/export"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		flags  filterFlags
		out    string
		format string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export leads as CSV or XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := exportFormat(format, out)
			if err != nil {
				return err
			}

			return opts.withApp(cmd, nil, func(ctx context.Context, a *app.App) error {
				leads, err := a.Store.List(ctx, flags.filter(a.Config.ActiveWindow))
				if err != nil {
					return fmt.Errorf("list leads: %w", err)
				}

				var w io.Writer = cmd.OutOrStdout()
				if out != "" && out != "-" {
					file, err := os.Create(out)
					if err != nil {
						return fmt.Errorf("create %s: %w", out, err)
					}
					defer file.Close()
					w = file
				}

				if err := export.Write(w, f, leads); err != nil {
					return err
				}
				slog.Info("export complete", "leads", len(leads), "format", f, "out", out)
				return nil
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&format, "format", "", "csv or xlsx (default from --out extension, else csv)")
	return cmd
}

// exportFormat picks the explicit format, else the output file extension,
// else CSV.
func exportFormat(format, out string) (export.Format, error) {
	if format != "" {
		return export.ParseFormat(format)
	}
	if ext := strings.TrimPrefix(filepath.Ext(out), "."); ext != "" {
		if f, err := export.ParseFormat(ext); err == nil {
			return f, nil
		}
	}
	return export.FormatCSV, nil
}
