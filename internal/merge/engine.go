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

// Package merge folds raw ad observations into canonical leads. It resolves
// observations to their canonical domain, groups them, and applies every
// field through the policies in policy.go so a replayed observation never
// double-counts.
package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/bcem/leads/internal/identity"
	"github.com/bcem/leads/internal/models"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("invalid observation")

// ValidationError reports an observation rejected at the ingestion boundary.
type ValidationError struct {
	Index     int // position in the submitted batch, -1 if it never decoded
	SourceRef string
	RawDomain string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("observation %d (%s): %s", e.Index, e.SourceRef, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Config holds engine tuning.
type Config struct {
	// MaxCreatives caps creatives retained per lead; the oldest are evicted
	// first. Zero keeps every creative.
	MaxCreatives int
}

// Engine merges observations into leads. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	maxCreatives int
}

// NewEngine creates a merge engine.
func NewEngine(cfg Config) *Engine {
	maxCreatives := cfg.MaxCreatives
	if maxCreatives < 0 {
		maxCreatives = 0
	}
	return &Engine{maxCreatives: maxCreatives}
}

// Group is the set of observations that resolved to one canonical domain,
// in ingestion order.
type Group struct {
	Domain       models.CanonicalDomain
	Observations []models.RawObservation
}

// Validate checks the shape of one observation.
func (e *Engine) Validate(o models.RawObservation) error {
	reason := ""
	switch {
	case strings.TrimSpace(o.RawDomain) == "":
		reason = "missing raw_domain"
	case identity.Resolve(o.RawDomain) == identity.Empty:
		reason = fmt.Sprintf("raw_domain %q has no host", o.RawDomain)
	case !o.Platform.Valid():
		reason = fmt.Sprintf("unknown platform %q", o.Platform)
	case o.ObservedAt.IsZero():
		reason = "missing observed_at"
	case len(o.Creative.Raw) > 0 && !json.Valid(o.Creative.Raw):
		reason = "creative raw payload is not valid JSON"
	}
	if reason == "" {
		return nil
	}
	return &ValidationError{SourceRef: o.SourceRef, RawDomain: o.RawDomain, Reason: reason}
}

// Group validates and normalizes a batch and buckets it by canonical domain.
// Groups keep the order in which their domain first appeared. Invalid
// observations are returned separately and do not affect the rest.
func (e *Engine) Group(obs []models.RawObservation) ([]Group, []*ValidationError) {
	var (
		groups   []Group
		rejected []*ValidationError
		index    = make(map[models.CanonicalDomain]int)
	)

	for i, o := range obs {
		if err := e.Validate(o); err != nil {
			var verr *ValidationError
			errors.As(err, &verr)
			verr.Index = i
			rejected = append(rejected, verr)
			continue
		}

		o = normalize(o)
		domain := identity.Resolve(o.RawDomain)
		if !identity.IsValid(domain) {
			slog.Debug("observation resolved to unusual domain",
				"raw_domain", o.RawDomain,
				"domain", domain,
			)
		}

		gi, ok := index[domain]
		if !ok {
			gi = len(groups)
			index[domain] = gi
			groups = append(groups, Group{Domain: domain})
		}
		groups[gi].Observations = append(groups[gi].Observations, o)
	}

	return groups, rejected
}

// Fold merges a group into the existing lead, or into a new lead when
// existing is nil. existing is never mutated. changed is false when every
// observation in the group had already been merged.
func (e *Engine) Fold(existing *models.Lead, g Group) (lead *models.Lead, created, changed bool) {
	if existing == nil {
		lead = &models.Lead{Domain: g.Domain, Sources: []models.Platform{}}
		created = true
	} else {
		lead = existing.Clone()
	}

	ordered := slices.Clone(g.Observations)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ObservedAt.Before(ordered[j].ObservedAt)
	})

	seen := make(map[string]struct{}, len(lead.AdCreatives)+len(ordered))
	for _, c := range lead.AdCreatives {
		seen[creativeKey(c.Platform, c.ObservedAt, c.Creative)] = struct{}{}
	}

	for _, o := range ordered {
		o = normalize(o)
		key := creativeKey(o.Platform, o.ObservedAt, o.Creative)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		ApplyAll(lead, ObservationUpdates(o))
		lead.AdCreatives = insertCreative(lead.AdCreatives, models.AdCreative{
			Platform:   o.Platform,
			ObservedAt: o.ObservedAt,
			SourceRef:  o.SourceRef,
			Creative:   o.Creative,
		})
		changed = true
	}

	lead.AdCreatives = e.evict(lead.AdCreatives)
	return lead, created, changed
}

// LookupFunc fetches the current lead for a domain; a nil lead means none
// exists yet.
type LookupFunc func(ctx context.Context, domain models.CanonicalDomain) (*models.Lead, error)

// BatchResult is the outcome of MergeBatch.
type BatchResult struct {
	Leads     map[models.CanonicalDomain]*models.Lead
	Created   []models.CanonicalDomain
	Updated   []models.CanonicalDomain
	Unchanged []models.CanonicalDomain
	Rejected  []*ValidationError
}

// MergeBatch groups observations and folds each group into the lead returned
// by lookup. A lookup failure aborts the batch; invalid observations do not.
func (e *Engine) MergeBatch(ctx context.Context, obs []models.RawObservation, lookup LookupFunc) (*BatchResult, error) {
	groups, rejected := e.Group(obs)
	result := &BatchResult{
		Leads:    make(map[models.CanonicalDomain]*models.Lead, len(groups)),
		Rejected: rejected,
	}

	for _, g := range groups {
		existing, err := lookup(ctx, g.Domain)
		if err != nil {
			return result, fmt.Errorf("lookup lead %s: %w", g.Domain, err)
		}

		lead, created, changed := e.Fold(existing, g)
		result.Leads[g.Domain] = lead
		switch {
		case created:
			result.Created = append(result.Created, g.Domain)
		case changed:
			result.Updated = append(result.Updated, g.Domain)
		default:
			result.Unchanged = append(result.Unchanged, g.Domain)
		}
	}

	return result, nil
}

// evict drops the oldest creatives beyond the configured cap.
func (e *Engine) evict(cs []models.AdCreative) []models.AdCreative {
	if e.maxCreatives == 0 || len(cs) <= e.maxCreatives {
		return cs
	}
	return slices.Delete(cs, 0, len(cs)-e.maxCreatives)
}

// insertCreative keeps creatives ordered by ObservedAt; equal timestamps keep
// arrival order.
func insertCreative(cs []models.AdCreative, c models.AdCreative) []models.AdCreative {
	i := sort.Search(len(cs), func(i int) bool {
		return cs[i].ObservedAt.After(c.ObservedAt)
	})
	return slices.Insert(cs, i, c)
}

// creativeKey identifies a creative sighting: platform, time and either the
// platform ad ID or a fingerprint of the payload.
func creativeKey(p models.Platform, at time.Time, c models.Creative) string {
	id := c.AdID
	if id == "" {
		id = "fp:" + fingerprint(c)
	}
	return string(p) + "|" + at.UTC().Format(time.RFC3339Nano) + "|" + id
}

func fingerprint(c models.Creative) string {
	h := xxhash.New()
	for _, part := range []string{c.Text, c.ImageURL, c.LandingPageURL} {
		_, _ = h.WriteString(part)
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write(c.Raw)
	return strconv.FormatUint(h.Sum64(), 16)
}

// normalize brings an observation to the form every store round-trips
// exactly: UTC microsecond timestamps and the JSON encoder's rendering of the
// raw creative payload.
func normalize(o models.RawObservation) models.RawObservation {
	o.ObservedAt = o.ObservedAt.UTC().Truncate(time.Microsecond)
	if len(o.Creative.Raw) > 0 {
		if b, err := json.Marshal(o.Creative.Raw); err == nil {
			o.Creative.Raw = b
		}
	}
	return o
}
