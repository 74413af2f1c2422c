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

// Package api serves a read-only HTTP view of the lead store.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bcem/leads/internal/identity"
	"github.com/bcem/leads/internal/models"
	"github.com/bcem/leads/internal/store"
)

// maxLimit caps a single /leads page.
const maxLimit = 1000

// Handler serves lead queries.
type Handler struct {
	store        store.Store
	activeWindow time.Duration
	now          func() time.Time
}

// NewHandler creates a handler. activeWindow is the default recency window
// for active_only queries and /stats.
func NewHandler(s store.Store, activeWindow time.Duration) *Handler {
	return &Handler{
		store:        s,
		activeWindow: activeWindow,
		now:          time.Now,
	}
}

// Routes returns the router with every endpoint mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Get("/leads", h.listLeads)
	r.Get("/leads/{domain}", h.getLead)
	r.Get("/stats", h.stats)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listLeads handles GET /leads?active_only=&window=&limit=.
func (h *Handler) listLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{ActiveWindow: h.activeWindow, Now: h.now()}

	if v := q.Get("active_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active_only must be a boolean")
			return
		}
		f.ActiveOnly = b
	}
	if v := q.Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "window must be a duration such as 72h")
			return
		}
		f.ActiveWindow = d
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	if f.Limit == 0 || f.Limit > maxLimit {
		f.Limit = maxLimit
	}

	leads, err := h.store.List(r.Context(), f)
	if errors.Is(err, store.ErrInvalidFilter) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("list leads failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list leads")
		return
	}
	if leads == nil {
		leads = []models.Lead{}
	}
	writeJSON(w, http.StatusOK, leads)
}

// getLead handles GET /leads/{domain}. Any spelling of the domain that
// resolves to the same canonical domain finds the lead.
func (h *Handler) getLead(w http.ResponseWriter, r *http.Request) {
	domain := identity.Resolve(chi.URLParam(r, "domain"))
	if domain == identity.Empty {
		writeError(w, http.StatusBadRequest, "invalid domain")
		return
	}

	lead, err := h.store.Get(r.Context(), domain)
	if err != nil {
		slog.Error("get lead failed", "domain", domain, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load lead")
		return
	}
	if lead == nil {
		writeError(w, http.StatusNotFound, "lead not found")
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// stats handles GET /stats?window=.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	window := h.activeWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}

	st, err := h.store.Stats(r.Context(), h.now().Add(-window).UTC())
	if err != nil {
		slog.Error("stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
