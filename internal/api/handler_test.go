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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bcem/leads/internal/models"
	"github.com/bcem/leads/internal/store"
	"github.com/bcem/leads/internal/store/memory"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	s := memory.New()
	ctx := context.Background()

	leads := []*models.Lead{
		{
			Domain:      "example.com",
			CompanyName: "Example",
			FirstSeen:   testNow.Add(-10 * 24 * time.Hour),
			LastSeen:    testNow.Add(-time.Hour),
			Sources:     []models.Platform{models.PlatformGoogleAds},
			CompanyInfo: &models.CompanyInfo{Industry: "Retail"},
		},
		{
			Domain:    "old.com",
			FirstSeen: testNow.Add(-30 * 24 * time.Hour),
			LastSeen:  testNow.Add(-20 * 24 * time.Hour),
			Sources:   []models.Platform{models.PlatformMetaAds},
		},
	}
	for _, l := range leads {
		if err := s.Upsert(ctx, l); err != nil {
			t.Fatalf("seed %s: %v", l.Domain, err)
		}
	}

	h := NewHandler(s, 72*time.Hour)
	h.now = func() time.Time { return testNow }
	return h
}

func do(t *testing.T, h *Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestHandler(t), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestListLeads(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantLeads  []models.CanonicalDomain
	}{
		{name: "all", target: "/leads", wantStatus: http.StatusOK, wantLeads: []models.CanonicalDomain{"example.com", "old.com"}},
		{name: "active only", target: "/leads?active_only=true", wantStatus: http.StatusOK, wantLeads: []models.CanonicalDomain{"example.com"}},
		{name: "wide window", target: "/leads?active_only=1&window=720h", wantStatus: http.StatusOK, wantLeads: []models.CanonicalDomain{"example.com", "old.com"}},
		{name: "limit", target: "/leads?limit=1", wantStatus: http.StatusOK, wantLeads: []models.CanonicalDomain{"example.com"}},
		{name: "bad bool", target: "/leads?active_only=maybe", wantStatus: http.StatusBadRequest},
		{name: "bad window", target: "/leads?window=3days", wantStatus: http.StatusBadRequest},
		{name: "negative limit", target: "/leads?limit=-1", wantStatus: http.StatusBadRequest},
		{name: "zero window rejected by store", target: "/leads?active_only=true&window=0s", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.target)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var got []models.Lead
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got) != len(tt.wantLeads) {
				t.Fatalf("got %d leads, want %d", len(got), len(tt.wantLeads))
			}
			for i, d := range tt.wantLeads {
				if got[i].Domain != d {
					t.Errorf("lead[%d] = %s, want %s", i, got[i].Domain, d)
				}
			}
		})
	}
}

func TestListLeads_EmptyIsArray(t *testing.T) {
	h := NewHandler(memory.New(), 72*time.Hour)
	rec := do(t, h, "/leads")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want empty array", body)
	}
}

func TestGetLead(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{name: "canonical", target: "/leads/example.com", wantStatus: http.StatusOK},
		{name: "www and case", target: "/leads/WWW.Example.COM", wantStatus: http.StatusOK},
		{name: "missing", target: "/leads/nobody.io", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.target)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var lead models.Lead
			if err := json.Unmarshal(rec.Body.Bytes(), &lead); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if lead.Domain != "example.com" {
				t.Errorf("domain = %s", lead.Domain)
			}
			if lead.CompanyInfo == nil || lead.CompanyInfo.Industry != "Retail" {
				t.Errorf("company info = %+v", lead.CompanyInfo)
			}
		})
	}
}

func TestStats(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st store.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.TotalLeads != 2 || st.ActiveLeads != 1 || st.EnrichedLeads != 1 {
		t.Errorf("stats = %+v", st)
	}

	if rec := do(t, h, "/stats?window=-1h"); rec.Code != http.StatusBadRequest {
		t.Errorf("negative window status = %d, want 400", rec.Code)
	}
}
