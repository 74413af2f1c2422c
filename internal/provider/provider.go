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

// Package provider holds the enrichment providers that need no remote
// service of their own (Chain, Noop) and the HTTP status mapping shared by
// the remote ones.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bcem/leads/internal/enrich"
	"github.com/bcem/leads/internal/models"
)

// StatusError maps a non-200 response to the enrichment error taxonomy.
// notFound lists the statuses that mean the provider has no data.
func StatusError(name string, resp *http.Response, notFound ...int) error {
	for _, code := range notFound {
		if resp.StatusCode == code {
			return enrich.ErrNotFound
		}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &enrich.RateLimitedError{
			Provider:   name,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &enrich.ProviderError{
		Provider:   name,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))),
	}
}

// ParseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form. Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// Noop never finds anything. It is used when no provider is configured.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) Lookup(context.Context, models.CanonicalDomain) (*models.CompanyInfo, error) {
	return nil, enrich.ErrNotFound
}

// Chain queries providers in order and merges what they return, earlier
// providers winning on conflicting fields.
type Chain struct {
	providers []enrich.Provider
}

// NewChain creates a Chain. With a single provider it returns that
// provider unchanged.
func NewChain(providers ...enrich.Provider) enrich.Provider {
	switch len(providers) {
	case 0:
		return Noop{}
	case 1:
		return providers[0]
	}
	return &Chain{providers: providers}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Lookup stops as soon as every field is filled. A hard error from any
// provider is returned only when no provider found anything, so the
// coordinator can retry it.
func (c *Chain) Lookup(ctx context.Context, domain models.CanonicalDomain) (*models.CompanyInfo, error) {
	var (
		merged  models.CompanyInfo
		firstErr error
	)
	for _, p := range c.providers {
		info, err := p.Lookup(ctx, domain)
		switch {
		case errors.Is(err, enrich.ErrNotFound):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil, err
			}
			slog.Debug("chained provider failed", "provider", p.Name(), "domain", domain, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fillEmpty(&merged, info)
		if merged.IsComplete() {
			break
		}
	}

	if !merged.IsEmpty() {
		return &merged, nil
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, enrich.ErrNotFound
}

func fillEmpty(dst, src *models.CompanyInfo) {
	if src == nil {
		return
	}
	fill := func(d *string, s string) {
		if *d == "" {
			*d = s
		}
	}
	fill(&dst.WebsiteTitle, src.WebsiteTitle)
	fill(&dst.LinkedInURL, src.LinkedInURL)
	fill(&dst.Phone, src.Phone)
	fill(&dst.Email, src.Email)
	fill(&dst.CompanySize, src.CompanySize)
	fill(&dst.Industry, src.Industry)
}
