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

// Package migrations embeds the lead store schema and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Up applies every pending migration for dialect.
func Up(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	var dir string
	switch dialect {
	case goose.DialectPostgres:
		dir = "postgres"
	case goose.DialectSQLite3:
		dir = "sqlite"
	default:
		return fmt.Errorf("no migrations for dialect %q", dialect)
	}

	sub, err := fs.Sub(files, dir)
	if err != nil {
		return fmt.Errorf("open %s migrations: %w", dir, err)
	}
	provider, err := goose.NewProvider(dialect, db, sub)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply %s migrations: %w", dir, err)
	}
	for _, r := range results {
		slog.Info("migration applied",
			"dialect", dir,
			"version", r.Source.Version,
			"duration", r.Duration,
		)
	}
	return nil
}
