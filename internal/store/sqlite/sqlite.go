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

// Package sqlite is a single-file lead store for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/bcem/leads/internal/models"
	"github.com/bcem/leads/internal/store"
	"github.com/bcem/leads/internal/store/migrations"
)

// Store persists leads in a SQLite database.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it.
// A single connection is used so that transactions serialize writers.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if err := migrations.Up(ctx, db, goose.DialectSQLite3); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("sqlite lead store initialised", "path", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectLead = `
	SELECT domain, company_name, first_seen, last_seen, sources,
	       ad_creatives, company_info, total_impressions, total_spend_estimate
	FROM leads`

func (s *Store) Get(ctx context.Context, domain models.CanonicalDomain) (*models.Lead, error) {
	lead, err := getLead(ctx, s.db, domain)
	return lead, store.Wrap("get", domain, err)
}

func getLead(ctx context.Context, q querier, domain models.CanonicalDomain) (*models.Lead, error) {
	row := q.QueryRowContext(ctx, selectLead+` WHERE domain = ?`, string(domain))
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return lead, err
}

func (s *Store) Upsert(ctx context.Context, lead *models.Lead) error {
	return store.Wrap("upsert", lead.Domain, upsertLead(ctx, s.db, lead))
}

func upsertLead(ctx context.Context, q querier, l *models.Lead) error {
	sources, err := json.Marshal(sourcesOrEmpty(l.Sources))
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	creatives, err := json.Marshal(creativesOrEmpty(l.AdCreatives))
	if err != nil {
		return fmt.Errorf("encode creatives: %w", err)
	}
	var info sql.NullString
	if !l.CompanyInfo.IsEmpty() {
		b, err := json.Marshal(l.CompanyInfo)
		if err != nil {
			return fmt.Errorf("encode company info: %w", err)
		}
		info = sql.NullString{String: string(b), Valid: true}
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO leads
			(domain, company_name, first_seen, last_seen, sources, ad_creatives,
			 company_info, total_impressions, total_spend_estimate, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain) DO UPDATE SET
			company_name         = excluded.company_name,
			last_seen            = excluded.last_seen,
			sources              = excluded.sources,
			ad_creatives         = excluded.ad_creatives,
			company_info         = excluded.company_info,
			total_impressions    = excluded.total_impressions,
			total_spend_estimate = excluded.total_spend_estimate,
			updated_at           = excluded.updated_at
	`, string(l.Domain), l.CompanyName, l.FirstSeen.UnixMicro(), l.LastSeen.UnixMicro(),
		string(sources), string(creatives), info, l.TotalImpressions, l.TotalSpendEstimate,
		time.Now().UnixMicro())
	return err
}

func (s *Store) Update(ctx context.Context, domain models.CanonicalDomain, fn store.UpdateFunc) (*models.Lead, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.Wrap("update", domain, fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	existing, err := getLead(ctx, tx, domain)
	if err != nil {
		return nil, store.Wrap("update", domain, err)
	}
	next, err := fn(existing.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return existing, nil
	}
	if err := store.CheckUpdate(domain, next); err != nil {
		return nil, store.Wrap("update", domain, err)
	}
	if existing != nil {
		next.FirstSeen = existing.FirstSeen
	}
	if err := upsertLead(ctx, tx, next); err != nil {
		return nil, store.Wrap("update", domain, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, store.Wrap("update", domain, fmt.Errorf("commit transaction: %w", err))
	}
	return next, nil
}

func (s *Store) List(ctx context.Context, f store.Filter) ([]models.Lead, error) {
	cutoff, err := f.Cutoff()
	if err != nil {
		return nil, err
	}

	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(selectLead)
	if f.ActiveOnly {
		b.WriteString(` WHERE last_seen >= ?`)
		args = append(args, cutoff.UnixMicro())
	}
	b.WriteString(` ORDER BY last_seen DESC, domain ASC`)
	if f.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, store.Wrap("list", "", err)
	}
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, store.Wrap("list", "", err)
		}
		leads = append(leads, *l)
	}
	return leads, store.Wrap("list", "", rows.Err())
}

func (s *Store) Stats(ctx context.Context, activeSince time.Time) (store.Stats, error) {
	st := store.Stats{LeadsBySource: make(map[models.Platform]int)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN last_seen >= ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN company_info IS NOT NULL THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(json_array_length(ad_creatives)), 0)
		FROM leads
	`, activeSince.UnixMicro()).Scan(&st.TotalLeads, &st.ActiveLeads, &st.EnrichedLeads, &st.TotalCreatives)
	if err != nil {
		return st, store.Wrap("stats", "", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT j.value, COUNT(*)
		FROM leads, json_each(leads.sources) AS j
		GROUP BY j.value
	`)
	if err != nil {
		return st, store.Wrap("stats", "", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p models.Platform
			n int
		)
		if err := rows.Scan(&p, &n); err != nil {
			return st, store.Wrap("stats", "", err)
		}
		st.LeadsBySource[p] = n
	}
	return st, store.Wrap("stats", "", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLead(row scanner) (*models.Lead, error) {
	var (
		l                   models.Lead
		domain              string
		firstSeen, lastSeen int64
		sources, creatives  string
		info                sql.NullString
	)
	if err := row.Scan(&domain, &l.CompanyName, &firstSeen, &lastSeen, &sources,
		&creatives, &info, &l.TotalImpressions, &l.TotalSpendEstimate); err != nil {
		return nil, err
	}
	l.Domain = models.CanonicalDomain(domain)
	l.FirstSeen = time.UnixMicro(firstSeen).UTC()
	l.LastSeen = time.UnixMicro(lastSeen).UTC()
	if err := json.Unmarshal([]byte(sources), &l.Sources); err != nil {
		return nil, fmt.Errorf("decode sources of %s: %w", domain, err)
	}
	if err := json.Unmarshal([]byte(creatives), &l.AdCreatives); err != nil {
		return nil, fmt.Errorf("decode creatives of %s: %w", domain, err)
	}
	if info.Valid {
		l.CompanyInfo = &models.CompanyInfo{}
		if err := json.Unmarshal([]byte(info.String), l.CompanyInfo); err != nil {
			return nil, fmt.Errorf("decode company info of %s: %w", domain, err)
		}
	}
	return &l, nil
}

func sourcesOrEmpty(s []models.Platform) []models.Platform {
	if s == nil {
		return []models.Platform{}
	}
	return s
}

func creativesOrEmpty(c []models.AdCreative) []models.AdCreative {
	if c == nil {
		return []models.AdCreative{}
	}
	return c
}
