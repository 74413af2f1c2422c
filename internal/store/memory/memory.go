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

// Package memory is an in-process lead store used by tests and the
// "memory" store driver.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bcem/leads/internal/models"
	"github.com/bcem/leads/internal/store"
)

// Store keeps leads in a map. Reads and writes hand out deep copies.
type Store struct {
	mu    sync.RWMutex
	leads map[models.CanonicalDomain]*models.Lead
	keys  store.KeyedMutex
}

// New creates an empty Store.
func New() *Store {
	return &Store{leads: make(map[models.CanonicalDomain]*models.Lead)}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, domain models.CanonicalDomain) (*models.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Wrap("get", domain, err)
	}
	return s.get(domain), nil
}

func (s *Store) get(domain models.CanonicalDomain) *models.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leads[domain].Clone()
}

func (s *Store) put(lead *models.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[lead.Domain] = lead.Clone()
}

func (s *Store) Upsert(ctx context.Context, lead *models.Lead) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap("upsert", lead.Domain, err)
	}
	unlock := s.keys.Lock(lead.Domain)
	defer unlock()

	next := lead.Clone()
	if existing := s.get(lead.Domain); existing != nil {
		next.FirstSeen = existing.FirstSeen
	}
	s.put(next)
	return nil
}

func (s *Store) Update(ctx context.Context, domain models.CanonicalDomain, fn store.UpdateFunc) (*models.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Wrap("update", domain, err)
	}
	unlock := s.keys.Lock(domain)
	defer unlock()

	existing := s.get(domain)
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
	s.put(next)
	return next.Clone(), nil
}

func (s *Store) List(ctx context.Context, f store.Filter) ([]models.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Wrap("list", "", err)
	}
	cutoff, err := f.Cutoff()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]models.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		if f.ActiveOnly && l.LastSeen.Before(cutoff) {
			continue
		}
		out = append(out, *l.Clone())
	}
	s.mu.RUnlock()

	store.SortLeads(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context, activeSince time.Time) (store.Stats, error) {
	if err := ctx.Err(); err != nil {
		return store.Stats{}, store.Wrap("stats", "", err)
	}
	st := store.Stats{LeadsBySource: make(map[models.Platform]int)}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.leads {
		st.TotalLeads++
		if !l.LastSeen.Before(activeSince) {
			st.ActiveLeads++
		}
		if !l.CompanyInfo.IsEmpty() {
			st.EnrichedLeads++
		}
		st.TotalCreatives += len(l.AdCreatives)
		for _, p := range l.Sources {
			st.LeadsBySource[p]++
		}
	}
	return st, nil
}

func (s *Store) Close() error { return nil }
