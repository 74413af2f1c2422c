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

// Package postgres provides the production lead store on top of a pgx pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/bcem/leads/internal/models"
	"github.com/bcem/leads/internal/store"
	"github.com/bcem/leads/internal/store/migrations"
)

// Store persists leads in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// NewStore creates a lead store backed by the given pool and migrates the
// schema to the latest version.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := migrations.Up(ctx, stdlib.OpenDBFromPool(pool), goose.DialectPostgres); err != nil {
		return nil, fmt.Errorf("ensure lead schema: %w", err)
	}
	slog.Info("postgres lead store initialised")
	return &Store{pool: pool}, nil
}

// Open connects to databaseURL and returns a store that owns the pool.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := NewStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectLead = `
	SELECT domain, company_name, first_seen, last_seen, sources,
	       ad_creatives, company_info, total_impressions, total_spend_estimate
	FROM leads`

func (s *Store) Get(ctx context.Context, domain models.CanonicalDomain) (*models.Lead, error) {
	lead, err := getLead(ctx, s.pool, domain, false)
	return lead, store.Wrap("get", domain, err)
}

func getLead(ctx context.Context, q querier, domain models.CanonicalDomain, forUpdate bool) (*models.Lead, error) {
	query := selectLead + ` WHERE domain = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanLead(q.QueryRow(ctx, query, string(domain)))
}

// Upsert writes the whole lead. first_seen is only set on insert.
func (s *Store) Upsert(ctx context.Context, lead *models.Lead) error {
	return store.Wrap("upsert", lead.Domain, upsertLead(ctx, s.pool, lead))
}

func upsertLead(ctx context.Context, q querier, l *models.Lead) error {
	creatives := l.AdCreatives
	if creatives == nil {
		creatives = []models.AdCreative{}
	}
	creativesJSON, err := json.Marshal(creatives)
	if err != nil {
		return fmt.Errorf("encode creatives: %w", err)
	}
	var infoJSON []byte
	if !l.CompanyInfo.IsEmpty() {
		if infoJSON, err = json.Marshal(l.CompanyInfo); err != nil {
			return fmt.Errorf("encode company info: %w", err)
		}
	}
	sources := make([]string, len(l.Sources))
	for i, p := range l.Sources {
		sources[i] = string(p)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO leads
			(domain, company_name, first_seen, last_seen, sources, ad_creatives,
			 company_info, total_impressions, total_spend_estimate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (domain) DO UPDATE SET
			company_name         = EXCLUDED.company_name,
			last_seen            = EXCLUDED.last_seen,
			sources              = EXCLUDED.sources,
			ad_creatives         = EXCLUDED.ad_creatives,
			company_info         = EXCLUDED.company_info,
			total_impressions    = EXCLUDED.total_impressions,
			total_spend_estimate = EXCLUDED.total_spend_estimate,
			updated_at           = NOW()
	`, string(l.Domain), l.CompanyName, l.FirstSeen, l.LastSeen, sources,
		string(creativesJSON), nullableJSON(infoJSON), l.TotalImpressions, l.TotalSpendEstimate)
	return err
}

// Update serializes writers of one domain with a transaction-scoped advisory
// lock, which also covers the insert of a domain that has no row yet.
func (s *Store) Update(ctx context.Context, domain models.CanonicalDomain, fn store.UpdateFunc) (*models.Lead, error) {
	var (
		result *models.Lead
		fnErr  error
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(domain)); err != nil {
			return fmt.Errorf("lock domain: %w", err)
		}
		existing, err := getLead(ctx, tx, domain, true)
		if err != nil {
			return err
		}
		next, err := fn(existing.Clone())
		if err != nil {
			fnErr = err
			return err
		}
		if next == nil {
			result = existing
			return nil
		}
		if err := store.CheckUpdate(domain, next); err != nil {
			return err
		}
		if existing != nil {
			next.FirstSeen = existing.FirstSeen
		}
		if err := upsertLead(ctx, tx, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, store.Wrap("update", domain, err)
	}
	return result, nil
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
		args = append(args, cutoff)
		fmt.Fprintf(&b, ` WHERE last_seen >= $%d`, len(args))
	}
	b.WriteString(` ORDER BY last_seen DESC, domain COLLATE "C" ASC`)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, b.String(), args...)
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

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE last_seen >= $1),
		       COUNT(*) FILTER (WHERE company_info IS NOT NULL),
		       COALESCE(SUM(json_array_length(ad_creatives)), 0)
		FROM leads
	`, activeSince).Scan(&st.TotalLeads, &st.ActiveLeads, &st.EnrichedLeads, &st.TotalCreatives)
	if err != nil {
		return st, store.Wrap("stats", "", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT source, COUNT(*)
		FROM leads, unnest(sources) AS source
		GROUP BY source
	`)
	if err != nil {
		return st, store.Wrap("stats", "", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			source string
			n      int
		)
		if err := rows.Scan(&source, &n); err != nil {
			return st, store.Wrap("stats", "", err)
		}
		st.LeadsBySource[models.Platform(source)] = n
	}
	return st, store.Wrap("stats", "", rows.Err())
}

// scanLead scans a single row into a Lead. It returns nil, nil when the row
// does not exist.
func scanLead(row pgx.Row) (*models.Lead, error) {
	var (
		l         models.Lead
		domain    string
		sources   []string
		creatives []byte
		info      []byte
	)
	err := row.Scan(&domain, &l.CompanyName, &l.FirstSeen, &l.LastSeen, &sources,
		&creatives, &info, &l.TotalImpressions, &l.TotalSpendEstimate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	l.Domain = models.CanonicalDomain(domain)
	l.FirstSeen = l.FirstSeen.UTC()
	l.LastSeen = l.LastSeen.UTC()
	l.Sources = make([]models.Platform, len(sources))
	for i, src := range sources {
		l.Sources[i] = models.Platform(src)
	}
	if err := json.Unmarshal(creatives, &l.AdCreatives); err != nil {
		return nil, fmt.Errorf("decode creatives of %s: %w", domain, err)
	}
	if info != nil {
		l.CompanyInfo = &models.CompanyInfo{}
		if err := json.Unmarshal(info, l.CompanyInfo); err != nil {
			return nil, fmt.Errorf("decode company info of %s: %w", domain, err)
		}
	}
	return &l, nil
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
