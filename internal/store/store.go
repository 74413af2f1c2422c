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

// Package store defines the durable lead store contract shared by the
// memory, SQLite and Postgres implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bcem/leads/internal/models"
)

// ErrInvalidFilter is returned by List when ActiveOnly is set without a
// recency window.
var ErrInvalidFilter = errors.New("active_only requires a positive active window")

// Error is a persistence failure. The pipeline treats it as fatal for the
// batch it occurred in.
type Error struct {
	Op     string
	Domain models.CanonicalDomain
	Err    error
}

func (e *Error) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Domain, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap turns err into a *Error unless it already is one.
func Wrap(op string, domain models.CanonicalDomain, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Domain: domain, Err: err}
}

// UpdateFunc computes the new state of a lead from its current state
// (nil when the domain has no lead yet). Returning a nil lead leaves the
// stored row untouched.
type UpdateFunc func(existing *models.Lead) (*models.Lead, error)

// Filter selects leads for List.
type Filter struct {
	// ActiveOnly keeps leads whose last_seen falls within ActiveWindow of Now.
	ActiveOnly   bool
	ActiveWindow time.Duration
	// Limit caps the result size; zero means no limit.
	Limit int
	// Now anchors the window; zero means time.Now().
	Now time.Time
}

// Cutoff returns the oldest last_seen an active lead may have.
func (f Filter) Cutoff() (time.Time, error) {
	if !f.ActiveOnly {
		return time.Time{}, nil
	}
	if f.ActiveWindow <= 0 {
		return time.Time{}, ErrInvalidFilter
	}
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}
	return now.Add(-f.ActiveWindow).UTC(), nil
}

// Stats summarises the store contents.
type Stats struct {
	TotalLeads     int                     `json:"total_leads"`
	ActiveLeads    int                     `json:"active_leads"`
	EnrichedLeads  int                     `json:"enriched_leads"`
	TotalCreatives int                     `json:"total_creatives"`
	LeadsBySource  map[models.Platform]int `json:"leads_by_source"`
}

// Store persists canonical leads keyed by domain.
type Store interface {
	// Get returns the lead for domain, or nil when none exists.
	Get(ctx context.Context, domain models.CanonicalDomain) (*models.Lead, error)
	// Upsert writes a whole lead atomically. The first_seen of an existing
	// row is preserved.
	Upsert(ctx context.Context, lead *models.Lead) error
	// Update runs fn against the current lead and writes its result, with
	// concurrent updates of the same domain serialized.
	Update(ctx context.Context, domain models.CanonicalDomain, fn UpdateFunc) (*models.Lead, error)
	// List returns leads ordered by last_seen descending, then domain.
	List(ctx context.Context, f Filter) ([]models.Lead, error)
	// Stats counts leads; a lead is active when last_seen >= activeSince.
	Stats(ctx context.Context, activeSince time.Time) (Stats, error)
	Close() error
}

// SortLeads orders leads the way List must return them.
func SortLeads(leads []models.Lead) {
	sort.Slice(leads, func(i, j int) bool {
		if !leads[i].LastSeen.Equal(leads[j].LastSeen) {
			return leads[i].LastSeen.After(leads[j].LastSeen)
		}
		return leads[i].Domain < leads[j].Domain
	})
}

// CheckUpdate validates what an UpdateFunc returned.
func CheckUpdate(domain models.CanonicalDomain, next *models.Lead) error {
	if next.Domain != domain {
		return fmt.Errorf("update of %s returned lead for %s", domain, next.Domain)
	}
	if next.LastSeen.Before(next.FirstSeen) {
		return fmt.Errorf("lead %s: last_seen %s before first_seen %s", domain, next.LastSeen, next.FirstSeen)
	}
	return nil
}

// KeyedMutex serializes work per key without a global lock. Idle keys are
// released so the map does not grow with every domain ever seen.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[models.CanonicalDomain]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock.
func (k *KeyedMutex) Lock(key models.CanonicalDomain) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[models.CanonicalDomain]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
