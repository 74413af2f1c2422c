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

package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/bcem/leads/internal/merge"
	"github.com/bcem/leads/internal/models"
)

// Outcome classifies what happened to one lead during an enrichment pass.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeEmpty     Outcome = "empty"
	OutcomeFailed    Outcome = "failed"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeSkipped   Outcome = "skipped"
)

// Result is the per-lead report of a pass.
type Result struct {
	// Lead is a copy with Info merged in on success, otherwise the input.
	Lead *models.Lead
	// Info is what the provider returned, nil unless Outcome is Succeeded.
	Info     *models.CompanyInfo
	Outcome  Outcome
	Attempts int
	Err      error
}

// Config holds the coordinator's dependencies and limits. Zero values get
// the defaults documented per field.
type Config struct {
	Provider Provider
	// Workers is the number of concurrent lookups (default 4).
	Workers int
	// MinInterval is the minimum spacing between any two provider calls
	// across all workers. Zero disables pacing.
	MinInterval time.Duration
	// MaxRateLimitedAttempts bounds attempts answered with RateLimited
	// (default 5).
	MaxRateLimitedAttempts int
	// MaxProviderAttempts bounds attempts that failed with a provider
	// error (default 3).
	MaxProviderAttempts int
	InitialBackoff      time.Duration // default 500ms
	MaxBackoff          time.Duration // default 30s
	// CallTimeout cuts off a single provider call (default 30s).
	CallTimeout time.Duration
	// GracePeriod is how long in-flight lookups may run after the pass
	// context is cancelled (default 10s).
	GracePeriod time.Duration
	// Claims is optional.
	Claims ClaimFilter
}

// Coordinator runs enrichment passes. One Coordinator should be shared by
// every pass in a process so its limiter and in-flight lookups are too.
type Coordinator struct {
	cfg     Config
	limiter *rate.Limiter
	flights singleflight.Group

	// stalled holds, per domain, the done channel of a provider call that
	// outlived its timeout. No new call for the domain starts until it closes.
	mu      sync.Mutex
	stalled map[models.CanonicalDomain]chan struct{}
}

type lookupResult struct {
	info     *models.CompanyInfo
	attempts int
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxRateLimitedAttempts <= 0 {
		cfg.MaxRateLimitedAttempts = 5
	}
	if cfg.MaxProviderAttempts <= 0 {
		cfg.MaxProviderAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Coordinator{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		stalled: make(map[models.CanonicalDomain]chan struct{}),
	}
}

// Enrich looks up company info for leads and returns one Result per lead in
// input order. Leads sharing a domain are looked up once.
//
// Cancelling ctx stops dispatch immediately; lookups already running get
// GracePeriod to finish before they are cut off and reported Abandoned.
// Leads never dispatched are reported Skipped.
func (c *Coordinator) Enrich(ctx context.Context, leads []*models.Lead) []Result {
	results := make([]Result, len(leads))
	byDomain := make(map[models.CanonicalDomain][]int)
	var domains []models.CanonicalDomain
	for i, l := range leads {
		results[i] = Result{Lead: l, Outcome: OutcomeSkipped}
		if _, ok := byDomain[l.Domain]; !ok {
			domains = append(domains, l.Domain)
		}
		byDomain[l.Domain] = append(byDomain[l.Domain], i)
	}

	work, stop := c.workContext(ctx)
	defer stop()

	start := time.Now()
	slog.Info("enrichment pass started",
		"provider", c.cfg.Provider.Name(),
		"leads", len(leads),
		"domains", len(domains),
		"workers", c.cfg.Workers,
	)

	jobs := make(chan models.CanonicalDomain)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for w := 0; w < c.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for domain := range jobs {
				res := c.enrichDomain(ctx, work, domain)
				mu.Lock()
				for _, i := range byDomain[domain] {
					results[i] = finish(leads[i], res)
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, domain := range domains {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- domain:
		}
	}
	close(jobs)
	wg.Wait()

	counts := Tally(results)
	slog.Info("enrichment pass complete",
		"provider", c.cfg.Provider.Name(),
		"succeeded", counts[OutcomeSucceeded],
		"empty", counts[OutcomeEmpty],
		"failed", counts[OutcomeFailed],
		"abandoned", counts[OutcomeAbandoned],
		"skipped", counts[OutcomeSkipped],
		"elapsed", time.Since(start),
	)
	return results
}

// Tally counts results per outcome.
func Tally(results []Result) map[Outcome]int {
	counts := make(map[Outcome]int, 5)
	for _, r := range results {
		counts[r.Outcome]++
	}
	return counts
}

// finish turns a domain-level result into the result for one lead.
func finish(lead *models.Lead, res Result) Result {
	res.Lead = lead
	if res.Outcome == OutcomeSucceeded {
		merged := lead.Clone()
		merge.MergeCompanyInfo(merged, res.Info)
		res.Lead = merged
	}
	return res
}

// workContext returns a context that outlives ctx by GracePeriod.
func (c *Coordinator) workContext(ctx context.Context) (context.Context, context.CancelFunc) {
	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(c.cfg.GracePeriod)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-work.Done():
		}
	})
	return work, func() {
		stopAfter()
		cancel()
	}
}

// enrichDomain runs one lookup for domain and classifies it. The returned
// Result carries no Lead.
func (c *Coordinator) enrichDomain(ctx, work context.Context, domain models.CanonicalDomain) Result {
	if ctx.Err() != nil {
		return Result{Outcome: OutcomeSkipped, Err: ctx.Err()}
	}

	if c.cfg.Claims != nil {
		ok, err := c.cfg.Claims.Claim(work, string(domain))
		switch {
		case err != nil:
			slog.Warn("enrichment claim failed, continuing", "domain", domain, "error", err)
		case !ok:
			slog.Debug("domain claimed elsewhere", "domain", domain)
			return Result{Outcome: OutcomeSkipped, Err: ErrClaimed}
		}
	}

	var (
		lr  lookupResult
		err error
	)
	flight := c.flights.DoChan(string(domain), func() (any, error) {
		return c.lookup(work, domain)
	})
	select {
	case r := <-flight:
		lr, _ = r.Val.(lookupResult)
		err = r.Err
		if r.Shared {
			slog.Debug("joined in-flight lookup", "domain", domain)
		}
	case <-work.Done():
		err = work.Err()
	}

	res := Result{Attempts: lr.attempts, Err: err}
	switch {
	case err == nil && !lr.info.IsEmpty():
		res.Outcome = OutcomeSucceeded
		res.Info = lr.info
	case err == nil, errors.Is(err, ErrNotFound):
		res.Outcome = OutcomeEmpty
		res.Err = nil
	case cutOff(err):
		res.Outcome = OutcomeAbandoned
	default:
		res.Outcome = OutcomeFailed
	}

	if c.cfg.Claims != nil && (res.Outcome == OutcomeFailed || res.Outcome == OutcomeAbandoned) {
		if err := c.cfg.Claims.Release(context.WithoutCancel(work), string(domain)); err != nil {
			slog.Warn("enrichment claim release failed", "domain", domain, "error", err)
		}
	}

	if res.Outcome == OutcomeFailed || res.Outcome == OutcomeAbandoned {
		slog.Warn("enrichment lookup did not complete",
			"domain", domain,
			"outcome", res.Outcome,
			"attempts", res.Attempts,
			"error", res.Err,
		)
	}
	return res
}

// cutOff reports whether err means the lookup was stopped by a context
// (this pass's or, for a joined lookup, the owning pass's) rather than
// failed by the provider.
func cutOff(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// lookup calls the provider until it answers, retrying rate limits and
// provider errors with exponential backoff under separate budgets.
func (c *Coordinator) lookup(ctx context.Context, domain models.CanonicalDomain) (lookupResult, error) {
	var (
		res         lookupResult
		rateLimited int
		failures    int
	)
	for {
		if err := c.waitStalled(ctx, domain); err != nil {
			return res, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, &ProviderError{Provider: c.cfg.Provider.Name(), Err: err}
		}

		res.attempts++
		info, err := c.call(ctx, domain)
		if err == nil {
			res.info = info
			return res, nil
		}
		if errors.Is(err, ErrNotFound) {
			return res, err
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		var (
			delay time.Duration
			rl    *RateLimitedError
		)
		if errors.As(err, &rl) {
			rateLimited++
			if rateLimited >= c.cfg.MaxRateLimitedAttempts {
				return res, fmt.Errorf("rate limited on %d attempts: %w", rateLimited, err)
			}
			delay = max(c.backoff(rateLimited), min(rl.RetryAfter, c.cfg.MaxBackoff))
		} else {
			failures++
			if failures >= c.cfg.MaxProviderAttempts {
				return res, fmt.Errorf("provider failed on %d attempts: %w", failures, err)
			}
			delay = c.backoff(failures)
		}

		slog.Debug("enrichment lookup retrying",
			"domain", domain,
			"attempt", res.attempts,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res, ctx.Err()
		case <-timer.C:
		}
	}
}

// backoff returns the delay before retry n (1-based) of one error class.
func (c *Coordinator) backoff(n int) time.Duration {
	d := c.cfg.InitialBackoff
	for i := 1; i < n && d < c.cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, c.cfg.MaxBackoff)
}

// waitStalled blocks while an earlier call for domain is still running,
// for at most CallTimeout. A call that is still stuck after that fails the
// lookup instead of overlapping it.
func (c *Coordinator) waitStalled(ctx context.Context, domain models.CanonicalDomain) error {
	c.mu.Lock()
	done := c.stalled[domain]
	c.mu.Unlock()
	if done == nil {
		return nil
	}

	slog.Debug("waiting for stalled lookup", "domain", domain)
	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return &ProviderError{
			Provider: c.cfg.Provider.Name(),
			Err:      fmt.Errorf("previous lookup of %s is still running", domain),
		}
	}
}

// call runs one provider lookup bounded by CallTimeout. A provider that
// ignores its context is not waited for here; it is recorded as stalled so
// the next call for the domain waits for it.
func (c *Coordinator) call(ctx context.Context, domain models.CanonicalDomain) (*models.CompanyInfo, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	type reply struct {
		info *models.CompanyInfo
		err  error
	}
	ch := make(chan reply, 1)
	done := make(chan struct{})
	go func() {
		info, err := c.cfg.Provider.Lookup(callCtx, domain)
		ch <- reply{info, err}

		c.mu.Lock()
		close(done)
		if c.stalled[domain] == done {
			delete(c.stalled, domain)
		}
		c.mu.Unlock()
	}()

	timedOut := func() error {
		return &ProviderError{
			Provider: c.cfg.Provider.Name(),
			Err:      fmt.Errorf("lookup of %s timed out after %s", domain, c.cfg.CallTimeout),
		}
	}

	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, timedOut()
		}
		return r.info, r.err
	case <-callCtx.Done():
		c.markStalled(domain, done)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, timedOut()
	}
}

func (c *Coordinator) markStalled(domain models.CanonicalDomain, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-done:
	default:
		c.stalled[domain] = done
	}
}
