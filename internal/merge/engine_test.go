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

package merge

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/bcem/leads/internal/models"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func int64p(v int64) *int64       { return &v }
func float64p(v float64) *float64 { return &v }

func obs(domain string, p models.Platform, at time.Time, name string) models.RawObservation {
	return models.RawObservation{
		SourceRef:       string(p) + ":" + at.Format(time.RFC3339),
		RawDomain:       domain,
		CompanyNameHint: name,
		Platform:        p,
		ObservedAt:      at,
		Creative:        models.Creative{Text: "ad seen at " + at.Format(time.RFC3339)},
	}
}

// memLookup is a map-backed LookupFunc.
func memLookup(leads map[models.CanonicalDomain]*models.Lead) LookupFunc {
	return func(_ context.Context, d models.CanonicalDomain) (*models.Lead, error) {
		return leads[d], nil
	}
}

// TestMergeBatch_CrossPlatformScenario verifies that two spellings of one
// domain seen on two platforms merge into a single lead.
func TestMergeBatch_CrossPlatformScenario(t *testing.T) {
	t1 := t0
	t2 := t0.Add(2 * time.Hour)

	e := NewEngine(Config{})
	res, err := e.MergeBatch(context.Background(), []models.RawObservation{
		obs("https://WWW.Example.com/x", models.PlatformGoogleAds, t1, "Example Corp"),
		obs("example.com", models.PlatformMetaAds, t2, ""),
	}, memLookup(nil))
	if err != nil {
		t.Fatalf("MergeBatch: %v", err)
	}

	if len(res.Leads) != 1 {
		t.Fatalf("expected 1 lead, got %d", len(res.Leads))
	}
	lead := res.Leads["example.com"]
	if lead == nil {
		t.Fatal("lead example.com missing")
	}

	if lead.CompanyName != "Example Corp" {
		t.Errorf("company_name = %q, want Example Corp", lead.CompanyName)
	}
	if !slices.Equal(lead.Sources, []models.Platform{models.PlatformGoogleAds, models.PlatformMetaAds}) {
		t.Errorf("sources = %v", lead.Sources)
	}
	if !lead.FirstSeen.Equal(t1) {
		t.Errorf("first_seen = %v, want %v", lead.FirstSeen, t1)
	}
	if !lead.LastSeen.Equal(t2) {
		t.Errorf("last_seen = %v, want %v", lead.LastSeen, t2)
	}
	if len(res.Created) != 1 || res.Created[0] != "example.com" {
		t.Errorf("created = %v, want [example.com]", res.Created)
	}
}

// TestFold_NewLeadOrdersByObservedAt verifies creative order and the name
// coming from the earliest observation that has one.
func TestFold_NewLeadOrdersByObservedAt(t *testing.T) {
	e := NewEngine(Config{})
	groups, rejected := e.Group([]models.RawObservation{
		obs("acme.io", models.PlatformMetaAds, t0.Add(3*time.Hour), "Acme Late"),
		obs("acme.io", models.PlatformGoogleAds, t0.Add(1*time.Hour), ""),
		obs("acme.io", models.PlatformGoogleShopping, t0.Add(2*time.Hour), "Acme Early"),
	})
	if len(rejected) != 0 || len(groups) != 1 {
		t.Fatalf("groups=%d rejected=%d", len(groups), len(rejected))
	}

	lead, created, changed := e.Fold(nil, groups[0])
	if !created || !changed {
		t.Fatalf("created=%v changed=%v, want both true", created, changed)
	}

	if lead.CompanyName != "Acme Early" {
		t.Errorf("company_name = %q, want Acme Early", lead.CompanyName)
	}
	if !lead.FirstSeen.Equal(t0.Add(time.Hour)) || !lead.LastSeen.Equal(t0.Add(3*time.Hour)) {
		t.Errorf("first/last = %v/%v", lead.FirstSeen, lead.LastSeen)
	}

	want := []models.Platform{models.PlatformGoogleAds, models.PlatformGoogleShopping, models.PlatformMetaAds}
	for i, c := range lead.AdCreatives {
		if c.Platform != want[i] {
			t.Errorf("creative %d platform = %s, want %s", i, c.Platform, want[i])
		}
	}
}

// TestFold_ExistingLead verifies the fold rules against a stored lead.
func TestFold_ExistingLead(t *testing.T) {
	existing := &models.Lead{
		Domain:             "acme.io",
		FirstSeen:          t0,
		LastSeen:           t0.Add(time.Hour),
		Sources:            []models.Platform{models.PlatformGoogleAds},
		TotalImpressions:   100,
		TotalSpendEstimate: 10,
	}

	older := obs("acme.io", models.PlatformAmazonSponsored, t0.Add(-24*time.Hour), "Acme")
	older.Impressions = int64p(50)
	newer := obs("www.acme.io", models.PlatformGoogleAds, t0.Add(5*time.Hour), "Other Name")
	newer.SpendEstimate = float64p(2.5)

	e := NewEngine(Config{})
	lead, created, changed := e.Fold(existing, Group{Domain: "acme.io", Observations: []models.RawObservation{newer, older}})
	if created || !changed {
		t.Fatalf("created=%v changed=%v", created, changed)
	}

	if !lead.FirstSeen.Equal(t0) {
		t.Errorf("first_seen changed to %v", lead.FirstSeen)
	}
	if !lead.LastSeen.Equal(t0.Add(5 * time.Hour)) {
		t.Errorf("last_seen = %v", lead.LastSeen)
	}
	if lead.CompanyName != "Acme" {
		t.Errorf("company_name = %q, want Acme (earliest hint fills the empty name)", lead.CompanyName)
	}
	if lead.TotalImpressions != 150 {
		t.Errorf("total_impressions = %d, want 150", lead.TotalImpressions)
	}
	if lead.TotalSpendEstimate != 12.5 {
		t.Errorf("total_spend_estimate = %v, want 12.5", lead.TotalSpendEstimate)
	}
	if !lead.HasSource(models.PlatformAmazonSponsored) || len(lead.Sources) != 2 {
		t.Errorf("sources = %v", lead.Sources)
	}
	if lead.AdCreatives[0].Platform != models.PlatformAmazonSponsored {
		t.Error("older creative should sort first")
	}

	// existing must not be mutated
	if existing.TotalImpressions != 100 || len(existing.Sources) != 1 || existing.CompanyName != "" {
		t.Error("Fold mutated the existing lead")
	}
}

// TestFold_KeepsExistingName verifies that a set name is never replaced.
func TestFold_KeepsExistingName(t *testing.T) {
	existing := &models.Lead{Domain: "acme.io", CompanyName: "Acme", FirstSeen: t0, LastSeen: t0}
	e := NewEngine(Config{})
	lead, _, _ := e.Fold(existing, Group{Domain: "acme.io", Observations: []models.RawObservation{
		obs("acme.io", models.PlatformMetaAds, t0.Add(time.Hour), "Acme Holdings"),
	}})
	if lead.CompanyName != "Acme" {
		t.Errorf("company_name = %q, want Acme", lead.CompanyName)
	}
}

// TestMergeBatch_Idempotent verifies that replaying a batch changes nothing.
func TestMergeBatch_Idempotent(t *testing.T) {
	o1 := obs("acme.io", models.PlatformGoogleAds, t0, "Acme")
	o1.Impressions = int64p(1000)
	o1.SpendEstimate = float64p(42)
	o2 := obs("acme.io", models.PlatformMetaAds, t0.Add(time.Minute), "")
	o2.Creative = models.Creative{AdID: "meta-123", Raw: json.RawMessage(`{ "headline": "Buy <now>" }`)}
	batch := []models.RawObservation{o1, o2, o1} // o1 duplicated inside the batch too

	store := map[models.CanonicalDomain]*models.Lead{}
	e := NewEngine(Config{})

	first, err := e.MergeBatch(context.Background(), batch, memLookup(store))
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	store["acme.io"] = first.Leads["acme.io"]

	second, err := e.MergeBatch(context.Background(), batch, memLookup(store))
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}

	a, b := first.Leads["acme.io"], second.Leads["acme.io"]
	if a.TotalImpressions != 1000 || b.TotalImpressions != 1000 {
		t.Errorf("impressions first=%d second=%d, want 1000", a.TotalImpressions, b.TotalImpressions)
	}
	if a.TotalSpendEstimate != 42 || b.TotalSpendEstimate != 42 {
		t.Errorf("spend first=%v second=%v, want 42", a.TotalSpendEstimate, b.TotalSpendEstimate)
	}
	if len(b.AdCreatives) != 2 {
		t.Errorf("creatives = %d, want 2", len(b.AdCreatives))
	}
	if !slices.Equal(a.Sources, b.Sources) {
		t.Errorf("sources changed: %v -> %v", a.Sources, b.Sources)
	}
	if len(second.Unchanged) != 1 || len(second.Updated) != 0 {
		t.Errorf("second pass updated=%v unchanged=%v", second.Updated, second.Unchanged)
	}
}

// TestFold_EvictsOldestCreatives verifies the creative cap.
func TestFold_EvictsOldestCreatives(t *testing.T) {
	e := NewEngine(Config{MaxCreatives: 2})
	var batch []models.RawObservation
	for i := 0; i < 5; i++ {
		batch = append(batch, obs("acme.io", models.PlatformGoogleAds, t0.Add(time.Duration(i)*time.Hour), ""))
	}
	groups, _ := e.Group(batch)
	lead, _, _ := e.Fold(nil, groups[0])

	if len(lead.AdCreatives) != 2 {
		t.Fatalf("creatives = %d, want 2", len(lead.AdCreatives))
	}
	if !lead.AdCreatives[0].ObservedAt.Equal(t0.Add(3 * time.Hour)) {
		t.Errorf("oldest kept = %v, want %v", lead.AdCreatives[0].ObservedAt, t0.Add(3*time.Hour))
	}
	if !lead.FirstSeen.Equal(t0) {
		t.Error("eviction must not affect first_seen")
	}
}

// TestGroup_RejectsInvalid verifies that invalid observations are reported
// and excluded without affecting siblings.
func TestGroup_RejectsInvalid(t *testing.T) {
	bad := obs("acme.io", "tiktok_ads", t0, "")
	noTime := obs("acme.io", models.PlatformGoogleAds, time.Time{}, "")
	badRaw := obs("acme.io", models.PlatformGoogleAds, t0, "")
	badRaw.Creative.Raw = json.RawMessage(`{not json`)

	e := NewEngine(Config{})
	groups, rejected := e.Group([]models.RawObservation{
		obs("", models.PlatformGoogleAds, t0, ""),
		obs("https:///", models.PlatformGoogleAds, t0, ""),
		obs("acme.io", models.PlatformGoogleAds, t0, "Acme"),
		bad,
		noTime,
		badRaw,
	})

	if len(groups) != 1 || len(groups[0].Observations) != 1 {
		t.Fatalf("expected one valid observation, got %+v", groups)
	}
	if len(rejected) != 5 {
		t.Fatalf("rejected = %d, want 5", len(rejected))
	}

	wantIdx := []int{0, 1, 3, 4, 5}
	for i, r := range rejected {
		if r.Index != wantIdx[i] {
			t.Errorf("rejected[%d].Index = %d, want %d", i, r.Index, wantIdx[i])
		}
		if !errors.Is(r, ErrValidation) {
			t.Errorf("rejected[%d] does not match ErrValidation", i)
		}
	}
}

// TestMergeBatch_LookupError verifies that a lookup failure aborts the batch.
func TestMergeBatch_LookupError(t *testing.T) {
	boom := errors.New("store down")
	e := NewEngine(Config{})
	_, err := e.MergeBatch(context.Background(), []models.RawObservation{
		obs("acme.io", models.PlatformGoogleAds, t0, ""),
	}, func(context.Context, models.CanonicalDomain) (*models.Lead, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}

// TestFold_LastSeenNeverBeforeFirstSeen checks the invariant over shuffled input.
func TestFold_LastSeenNeverBeforeFirstSeen(t *testing.T) {
	e := NewEngine(Config{})
	var lead *models.Lead
	offsets := []int{7, -3, 12, 0, -9, 4}
	for _, off := range offsets {
		g := Group{Domain: "acme.io", Observations: []models.RawObservation{
			obs("acme.io", models.PlatformGoogleAds, t0.Add(time.Duration(off)*time.Hour), ""),
		}}
		first := time.Time{}
		if lead != nil {
			first = lead.FirstSeen
		}
		lead, _, _ = e.Fold(lead, g)
		if !first.IsZero() && !lead.FirstSeen.Equal(first) {
			t.Fatalf("first_seen moved from %v to %v", first, lead.FirstSeen)
		}
		if lead.LastSeen.Before(lead.FirstSeen) {
			t.Fatalf("last_seen %v before first_seen %v", lead.LastSeen, lead.FirstSeen)
		}
	}
	if !lead.FirstSeen.Equal(t0.Add(7 * time.Hour)) {
		t.Errorf("first_seen = %v, want the creation observation", lead.FirstSeen)
	}
	if !lead.LastSeen.Equal(t0.Add(12 * time.Hour)) {
		t.Errorf("last_seen = %v", lead.LastSeen)
	}
}
