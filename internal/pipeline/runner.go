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

// Package pipeline drives a run end to end: observations are merged into
// stored leads, change events are published, and touched leads are sent
// through enrichment.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/leads/internal/enrich"
	"github.com/bcem/leads/internal/merge"
	"github.com/bcem/leads/internal/models"
	"github.com/bcem/leads/internal/queue"
	"github.com/bcem/leads/internal/source"
	"github.com/bcem/leads/internal/store"
)

// persistTimeout bounds the writes of enrichment results, which may land
// after the run context is cancelled.
const persistTimeout = 30 * time.Second

// Enricher is satisfied by *enrich.Coordinator.
type Enricher interface {
	Enrich(ctx context.Context, leads []*models.Lead) []enrich.Result
}

// EventPublisher is satisfied by *queue.Publisher.
type EventPublisher interface {
	PublishLeadEvent(ctx context.Context, ev queue.Event) error
}

// RunResult summarises a run.
type RunResult struct {
	Ingested            int           `json:"ingested"`
	MergedNew           int           `json:"merged_new"`
	MergedUpdated       int           `json:"merged_updated"`
	Unchanged           int           `json:"unchanged"`
	ValidationRejected  int           `json:"validation_rejected"`
	EnrichmentSucceeded int           `json:"enrichment_succeeded"`
	EnrichmentEmpty     int           `json:"enrichment_empty"`
	EnrichmentFailed    int           `json:"enrichment_failed"`
	EnrichmentAbandoned int           `json:"enrichment_abandoned"`
	EnrichmentSkipped   int           `json:"enrichment_skipped"`
	Elapsed             time.Duration `json:"elapsed"`

	Rejected []*merge.ValidationError `json:"-"`
}

// Add accumulates other into r.
func (r *RunResult) Add(other RunResult) {
	r.Ingested += other.Ingested
	r.MergedNew += other.MergedNew
	r.MergedUpdated += other.MergedUpdated
	r.Unchanged += other.Unchanged
	r.ValidationRejected += other.ValidationRejected
	r.EnrichmentSucceeded += other.EnrichmentSucceeded
	r.EnrichmentEmpty += other.EnrichmentEmpty
	r.EnrichmentFailed += other.EnrichmentFailed
	r.EnrichmentAbandoned += other.EnrichmentAbandoned
	r.EnrichmentSkipped += other.EnrichmentSkipped
	r.Elapsed += other.Elapsed
	r.Rejected = append(r.Rejected, other.Rejected...)
}

// Runner merges and enriches batches of observations.
type Runner struct {
	store     store.Store
	engine    *merge.Engine
	enricher  Enricher
	publisher EventPublisher
	enrich    bool
}

// RunnerConfig holds dependencies for the runner. Enricher and Publisher
// are optional.
type RunnerConfig struct {
	Store     store.Store
	Engine    *merge.Engine
	Enricher  Enricher
	Publisher EventPublisher
	// Enrich turns on enrichment of leads touched by Run.
	Enrich bool
}

// NewRunner creates a pipeline runner.
func NewRunner(cfg RunnerConfig) *Runner {
	engine := cfg.Engine
	if engine == nil {
		engine = merge.NewEngine(merge.Config{})
	}
	return &Runner{
		store:     cfg.Store,
		engine:    engine,
		enricher:  cfg.Enricher,
		publisher: cfg.Publisher,
		enrich:    cfg.Enrich && cfg.Enricher != nil,
	}
}

// Run merges obs into the store and, when enabled, enriches every lead the
// batch created or changed that still lacks company info. A store failure
// aborts the run; the partial result is returned with the error.
func (r *Runner) Run(ctx context.Context, obs []models.RawObservation) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{Ingested: len(obs)}
	defer func() { result.Elapsed = time.Since(start) }()

	groups, rejected := r.engine.Group(obs)
	result.Rejected = rejected
	result.ValidationRejected = len(rejected)
	for _, verr := range rejected {
		slog.Warn("observation rejected",
			"index", verr.Index,
			"source_ref", verr.SourceRef,
			"raw_domain", verr.RawDomain,
			"reason", verr.Reason,
		)
	}

	slog.Info("merging observations",
		"observations", len(obs),
		"domains", len(groups),
		"rejected", len(rejected),
	)

	var touched []*models.Lead
	for _, g := range groups {
		var created, changed bool
		lead, err := r.store.Update(ctx, g.Domain, func(existing *models.Lead) (*models.Lead, error) {
			next, c, ch := r.engine.Fold(existing, g)
			created, changed = c, ch
			if !ch {
				return nil, nil
			}
			return next, nil
		})
		if err != nil {
			return result, fmt.Errorf("merge %s: %w", g.Domain, err)
		}

		switch {
		case created:
			result.MergedNew++
			r.publish(ctx, queue.EventLeadCreated, lead)
		case changed:
			result.MergedUpdated++
			r.publish(ctx, queue.EventLeadUpdated, lead)
		default:
			result.Unchanged++
			continue
		}
		touched = append(touched, lead)
	}

	if r.enrich {
		if err := r.enrichLeads(ctx, touched, result); err != nil {
			return result, err
		}
	}

	slog.Info("pipeline run complete",
		"ingested", result.Ingested,
		"merged_new", result.MergedNew,
		"merged_updated", result.MergedUpdated,
		"validation_rejected", result.ValidationRejected,
		"enrichment_succeeded", result.EnrichmentSucceeded,
		"enrichment_failed", result.EnrichmentFailed,
		"elapsed", time.Since(start),
	)
	return result, nil
}

// Ingest runs the observations a source produced. Records the source could
// not decode count as ingested and rejected, like observations that fail
// validation. Any other read error means the batch is incomplete, so
// nothing is merged and the error is returned.
func (r *Runner) Ingest(ctx context.Context, obs []models.RawObservation, readErrs []error) (*RunResult, error) {
	var unreadable []*merge.ValidationError
	for _, err := range readErrs {
		var lerr *source.LineError
		if !errors.As(err, &lerr) {
			return &RunResult{}, fmt.Errorf("read observations: %w", err)
		}
		slog.Warn("observation unreadable",
			"source_ref", fmt.Sprintf("%s:%d", lerr.Source, lerr.Line),
			"error", lerr.Err,
		)
		unreadable = append(unreadable, &merge.ValidationError{
			Index:     -1,
			SourceRef: fmt.Sprintf("%s:%d", lerr.Source, lerr.Line),
			Reason:    "undecodable record: " + lerr.Err.Error(),
		})
	}

	result, err := r.Run(ctx, obs)
	if result != nil {
		result.Ingested += len(unreadable)
		result.ValidationRejected += len(unreadable)
		result.Rejected = append(result.Rejected, unreadable...)
	}
	return result, err
}

// EnrichStored enriches stored leads selected by f that lack complete
// company info.
func (r *Runner) EnrichStored(ctx context.Context, f store.Filter) (*RunResult, error) {
	if r.enricher == nil {
		return nil, fmt.Errorf("no enricher configured")
	}
	start := time.Now()
	result := &RunResult{}
	defer func() { result.Elapsed = time.Since(start) }()

	leads, err := r.store.List(ctx, f)
	if err != nil {
		return result, fmt.Errorf("list leads: %w", err)
	}
	candidates := make([]*models.Lead, 0, len(leads))
	for i := range leads {
		candidates = append(candidates, &leads[i])
	}
	return result, r.enrichLeads(ctx, candidates, result)
}

// enrichLeads runs one enrichment pass and writes successful lookups back
// through Store.Update, so merges that landed meanwhile are kept.
func (r *Runner) enrichLeads(ctx context.Context, leads []*models.Lead, result *RunResult) error {
	var candidates []*models.Lead
	for _, l := range leads {
		if !l.CompanyInfo.IsComplete() {
			candidates = append(candidates, l)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	results := r.enricher.Enrich(ctx, candidates)
	counts := enrich.Tally(results)
	result.EnrichmentSucceeded += counts[enrich.OutcomeSucceeded]
	result.EnrichmentEmpty += counts[enrich.OutcomeEmpty]
	result.EnrichmentFailed += counts[enrich.OutcomeFailed]
	result.EnrichmentAbandoned += counts[enrich.OutcomeAbandoned]
	result.EnrichmentSkipped += counts[enrich.OutcomeSkipped]

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	for _, res := range results {
		if res.Outcome != enrich.OutcomeSucceeded {
			continue
		}
		var changed bool
		lead, err := r.store.Update(persistCtx, res.Lead.Domain, func(existing *models.Lead) (*models.Lead, error) {
			if existing == nil {
				return nil, nil
			}
			changed = merge.MergeCompanyInfo(existing, res.Info)
			if !changed {
				return nil, nil
			}
			return existing, nil
		})
		if err != nil {
			return fmt.Errorf("save enrichment of %s: %w", res.Lead.Domain, err)
		}
		if changed {
			r.publish(persistCtx, queue.EventLeadEnriched, lead)
		}
	}
	return nil
}

// publish sends a change event. Failures are logged; downstream consumers
// can resync from the store.
func (r *Runner) publish(ctx context.Context, typ queue.EventType, lead *models.Lead) {
	if r.publisher == nil || lead == nil {
		return
	}
	if err := r.publisher.PublishLeadEvent(ctx, queue.NewEvent(typ, lead)); err != nil {
		slog.Warn("failed to publish lead event",
			"type", typ,
			"domain", lead.Domain,
			"error", err,
		)
	}
}
