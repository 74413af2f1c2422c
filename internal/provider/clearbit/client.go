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

// Package clearbit looks up companies through the Clearbit Company API.
package clearbit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/bcem/leads/internal/enrich"
	"github.com/bcem/leads/internal/models"
	"github.com/bcem/leads/internal/provider"
)

// DefaultBaseURL is the production Company API endpoint.
const DefaultBaseURL = "https://company.clearbit.com"

// queuedRetryAfter is how long to wait when Clearbit accepts a lookup but
// has not finished it yet.
const queuedRetryAfter = 5 * time.Second

// Client implements enrich.Provider.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var _ enrich.Provider = (*Client)(nil)

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// New creates a client that authenticates every request with the API key
// as a bearer token.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"})
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
		},
		baseURL: baseURL,
	}
}

func (c *Client) Name() string { return "clearbit" }

// Lookup fetches the company record for domain.
func (c *Client) Lookup(ctx context.Context, domain models.CanonicalDomain) (*models.CompanyInfo, error) {
	u := fmt.Sprintf("%s/v2/companies/find?domain=%s", c.baseURL, url.QueryEscape(string(domain)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &enrich.ProviderError{Provider: c.Name(), Err: fmt.Errorf("fetch company: %w", err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusAccepted:
		slog.Debug("clearbit lookup queued", "domain", domain)
		return nil, &enrich.RateLimitedError{Provider: c.Name(), RetryAfter: queuedRetryAfter}
	default:
		return nil, provider.StatusError(c.Name(), resp, http.StatusNotFound, http.StatusUnprocessableEntity)
	}

	info, err := parseCompany(resp.Body)
	if err != nil {
		return nil, &enrich.ProviderError{Provider: c.Name(), StatusCode: resp.StatusCode, Err: err}
	}
	if info.IsEmpty() {
		return nil, enrich.ErrNotFound
	}
	return info, nil
}
