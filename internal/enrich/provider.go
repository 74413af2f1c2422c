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

// Package enrich looks up company information for leads through a
// pluggable Provider, pacing and retrying calls and never letting two
// lookups of the same domain overlap.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bcem/leads/internal/models"
)

// Provider looks up company information for a canonical domain.
type Provider interface {
	Name() string
	// Lookup returns the company info for domain. It returns ErrNotFound
	// when the provider knows nothing about the domain, a *RateLimitedError
	// when asked to back off, and a *ProviderError for anything else.
	Lookup(ctx context.Context, domain models.CanonicalDomain) (*models.CompanyInfo, error)
}

var (
	// ErrNotFound means the provider has no data for the domain. It is a
	// successful, empty lookup and is never retried.
	ErrNotFound = errors.New("company not found")

	// ErrRateLimited matches every *RateLimitedError.
	ErrRateLimited = errors.New("rate limited")

	// ErrClaimed is reported for leads another enrichment pass holds.
	ErrClaimed = errors.New("domain claimed by another enrichment pass")
)

// RateLimitedError asks the caller to slow down.
type RateLimitedError struct {
	Provider string
	// RetryAfter is the delay the provider requested, zero if none.
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// ProviderError is a transient provider failure: transport errors, 5xx
// responses and calls that exceeded their timeout.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ClaimFilter lets concurrent processes agree on who enriches a domain.
type ClaimFilter interface {
	// Claim returns true when the caller now owns the domain.
	Claim(ctx context.Context, domain string) (bool, error)
	Release(ctx context.Context, domain string) error
}
