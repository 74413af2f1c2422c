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

// Package dedup provides a Redis claim filter so that concurrent enrichment
// passes, in this process or others, do not look up the same domain within
// a TTL window.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a claim is held. A successful lookup keeps its
	// claim until expiry, so a domain is re-enriched at most once per TTL.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces claim keys in Redis.
	keyPrefix = "leads:enrich:"
)

// Filter hands out per-domain claims.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a claim filter backed by Redis. A zero ttl means
// DefaultTTL.
func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{
		rdb: rdb,
		ttl: ttl,
	}
}

// Claim returns true if the caller now holds the claim on domain. The
// claim is taken atomically (SET NX) and expires after the TTL.
func (f *Filter) Claim(ctx context.Context, domain string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, keyPrefix+domain, time.Now().UTC().Format(time.RFC3339), f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Release drops the claim so another pass may retry the domain.
func (f *Filter) Release(ctx context.Context, domain string) error {
	if err := f.rdb.Del(ctx, keyPrefix+domain).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}
