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

// Package storetest holds the behaviour every store.Store implementation
// must share. Implementation packages call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bcem/leads/internal/models"
	"github.com/bcem/leads/internal/store"
)

// Factory returns an empty store. Cleanup is the factory's responsibility.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func lead(domain string, lastSeen time.Time) *models.Lead {
	return &models.Lead{
		Domain:    models.CanonicalDomain(domain),
		FirstSeen: lastSeen.Add(-time.Hour),
		LastSeen:  lastSeen,
		Sources:   []models.Platform{models.PlatformGoogleAds},
	}
}

// Run exercises the full store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newStore(t)) })
	t.Run("UpsertKeepsFirstSeen", func(t *testing.T) { testUpsertKeepsFirstSeen(t, newStore(t)) })
	t.Run("ListActiveOrdered", func(t *testing.T) { testListActiveOrdered(t, newStore(t)) })
	t.Run("ListTieBreak", func(t *testing.T) { testListTieBreak(t, newStore(t)) })
	t.Run("ListInvalidFilter", func(t *testing.T) { testListInvalidFilter(t, newStore(t)) })
	t.Run("UpdateLifecycle", func(t *testing.T) { testUpdateLifecycle(t, newStore(t)) })
	t.Run("UpdateConcurrent", func(t *testing.T) { testUpdateConcurrent(t, newStore(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newStore(t)) })
}

func testGetMissing(t *testing.T, s store.Store) {
	got, err := s.Get(context.Background(), "missing.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get(missing) = %+v, want nil", got)
	}
}

func testRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	in := &models.Lead{
		Domain:      "example.com",
		CompanyName: "Example Corp",
		FirstSeen:   base,
		LastSeen:    base.Add(26 * time.Hour),
		Sources:     []models.Platform{models.PlatformGoogleAds, models.PlatformMetaAds},
		AdCreatives: []models.AdCreative{{
			Platform:   models.PlatformMetaAds,
			ObservedAt: base.Add(time.Hour),
			SourceRef:  "meta-1",
			Creative: models.Creative{
				AdID: "m-1",
				Text: "Spring sale",
				Raw:  json.RawMessage(`{"placement":"feed","score":0.5}`),
			},
		}},
		CompanyInfo:        &models.CompanyInfo{Phone: "555-0100", Industry: "Retail"},
		TotalImpressions:   1500,
		TotalSpendEstimate: 12.5,
	}
	if err := s.Upsert(ctx, in); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, "example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil after Upsert")
	}
	if got.CompanyName != in.CompanyName {
		t.Errorf("company_name = %q, want %q", got.CompanyName, in.CompanyName)
	}
	if !got.FirstSeen.Equal(in.FirstSeen) || !got.LastSeen.Equal(in.LastSeen) {
		t.Errorf("seen = %s..%s, want %s..%s", got.FirstSeen, got.LastSeen, in.FirstSeen, in.LastSeen)
	}
	if len(got.Sources) != 2 || got.Sources[0] != models.PlatformGoogleAds || got.Sources[1] != models.PlatformMetaAds {
		t.Errorf("sources = %v", got.Sources)
	}
	if len(got.AdCreatives) != 1 {
		t.Fatalf("creatives = %d, want 1", len(got.AdCreatives))
	}
	c := got.AdCreatives[0]
	if c.Creative.AdID != "m-1" || string(c.Creative.Raw) != `{"placement":"feed","score":0.5}` {
		t.Errorf("creative = %+v (raw %s)", c.Creative, c.Creative.Raw)
	}
	if !c.ObservedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("creative observed_at = %s", c.ObservedAt)
	}
	if got.CompanyInfo == nil || got.CompanyInfo.Phone != "555-0100" || got.CompanyInfo.Industry != "Retail" {
		t.Errorf("company_info = %+v", got.CompanyInfo)
	}
	if got.TotalImpressions != 1500 || got.TotalSpendEstimate != 12.5 {
		t.Errorf("totals = %d / %v", got.TotalImpressions, got.TotalSpendEstimate)
	}
}

func testUpsertKeepsFirstSeen(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := lead("a.com", base)
	if err := s.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	second := lead("a.com", base.Add(48*time.Hour))
	second.FirstSeen = base.Add(47 * time.Hour)
	if err := s.Upsert(ctx, second); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, "a.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.FirstSeen.Equal(first.FirstSeen) {
		t.Errorf("first_seen = %s, want %s", got.FirstSeen, first.FirstSeen)
	}
	if !got.LastSeen.Equal(second.LastSeen) {
		t.Errorf("last_seen = %s, want %s", got.LastSeen, second.LastSeen)
	}
}

func testListActiveOrdered(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base
	for _, l := range []*models.Lead{
		lead("d1.com", now.Add(-10*24*time.Hour)),
		lead("d2.com", now.Add(-2*24*time.Hour)),
		lead("d3.com", now.Add(-time.Hour)),
	} {
		if err := s.Upsert(ctx, l); err != nil {
			t.Fatalf("Upsert %s: %v", l.Domain, err)
		}
	}

	got, err := s.List(ctx, store.Filter{ActiveOnly: true, ActiveWindow: 3 * 24 * time.Hour, Limit: 2, Now: now})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].Domain != "d3.com" || got[1].Domain != "d2.com" {
		t.Errorf("List = %v, want [d3.com d2.com]", domains(got))
	}

	all, err := s.List(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 || all[2].Domain != "d1.com" {
		t.Errorf("List all = %v, want d1.com last", domains(all))
	}
}

func testListTieBreak(t *testing.T, s store.Store) {
	ctx := context.Background()
	// Byte order: "a-b.com" sorts before "aa.com" even where a locale
	// collation would ignore the hyphen.
	for _, d := range []string{"c.com", "aa.com", "a-b.com", "b.com"} {
		if err := s.Upsert(ctx, lead(d, base)); err != nil {
			t.Fatalf("Upsert %s: %v", d, err)
		}
	}
	got, err := s.List(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []models.CanonicalDomain{"a-b.com", "aa.com", "b.com", "c.com"}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", domains(got), want)
	}
	for i, d := range domains(got) {
		if d != want[i] {
			t.Errorf("List = %v, want %v", domains(got), want)
			break
		}
	}
}

func testListInvalidFilter(t *testing.T, s store.Store) {
	_, err := s.List(context.Background(), store.Filter{ActiveOnly: true})
	if !errors.Is(err, store.ErrInvalidFilter) {
		t.Errorf("List err = %v, want ErrInvalidFilter", err)
	}
}

func testUpdateLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	created, err := s.Update(ctx, "new.com", func(existing *models.Lead) (*models.Lead, error) {
		if existing != nil {
			t.Errorf("existing = %+v, want nil", existing)
		}
		return lead("new.com", base), nil
	})
	if err != nil {
		t.Fatalf("Update create: %v", err)
	}
	if created == nil || created.Domain != "new.com" {
		t.Fatalf("created = %+v", created)
	}

	unchanged, err := s.Update(ctx, "new.com", func(existing *models.Lead) (*models.Lead, error) {
		existing.CompanyName = "discarded"
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Update no-op: %v", err)
	}
	if unchanged == nil || unchanged.CompanyName != "" {
		t.Errorf("no-op update returned %+v", unchanged)
	}

	boom := errors.New("boom")
	if _, err := s.Update(ctx, "new.com", func(*models.Lead) (*models.Lead, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Errorf("Update err = %v, want boom", err)
	}

	_, err = s.Update(ctx, "new.com", func(*models.Lead) (*models.Lead, error) {
		return lead("other.com", base), nil
	})
	var se *store.Error
	if !errors.As(err, &se) {
		t.Errorf("domain-changing update err = %v, want *store.Error", err)
	}

	got, err := s.Get(ctx, "new.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CompanyName != "" {
		t.Errorf("company_name = %q, want unchanged", got.CompanyName)
	}
	if other, _ := s.Get(ctx, "other.com"); other != nil {
		t.Error("rejected update must not write other.com")
	}
}

func testUpdateConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	const writers = 16

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "busy.com", func(existing *models.Lead) (*models.Lead, error) {
				if existing == nil {
					existing = lead("busy.com", base)
				}
				existing.TotalImpressions++
				return existing, nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	got, err := s.Get(ctx, "busy.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TotalImpressions != writers {
		t.Errorf("total_impressions = %d, want %d (lost update)", got.TotalImpressions, writers)
	}
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := lead("a.com", base)
	a.AdCreatives = []models.AdCreative{{Platform: models.PlatformGoogleAds, ObservedAt: base}, {Platform: models.PlatformGoogleAds, ObservedAt: base}}
	a.CompanyInfo = &models.CompanyInfo{Phone: "555-0100"}
	b := lead("b.com", base.Add(-30*24*time.Hour))
	b.Sources = []models.Platform{models.PlatformGoogleAds, models.PlatformMetaAds}
	b.AdCreatives = []models.AdCreative{{Platform: models.PlatformMetaAds, ObservedAt: base}}
	for _, l := range []*models.Lead{a, b} {
		if err := s.Upsert(ctx, l); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	st, err := s.Stats(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalLeads != 2 || st.ActiveLeads != 1 || st.EnrichedLeads != 1 || st.TotalCreatives != 3 {
		t.Errorf("stats = %+v", st)
	}
	if st.LeadsBySource[models.PlatformGoogleAds] != 2 || st.LeadsBySource[models.PlatformMetaAds] != 1 {
		t.Errorf("leads_by_source = %v", st.LeadsBySource)
	}
}

func domains(leads []models.Lead) []models.CanonicalDomain {
	out := make([]models.CanonicalDomain, len(leads))
	for i, l := range leads {
		out[i] = l.Domain
	}
	return out
}
