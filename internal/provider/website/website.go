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

// Package website enriches leads by scraping the advertiser's home page.
package website

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/bcem/leads/internal/enrich"
	"github.com/bcem/leads/internal/models"
	"github.com/bcem/leads/internal/provider"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; LeadEnricher/1.0)"
	maxBodyBytes     = 2 << 20
)

var (
	linkedInPattern = regexp.MustCompile(`linkedin\.com/(company|in)/[A-Za-z0-9-]+`)
	emailPattern    = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePatterns   = []*regexp.Regexp{
		regexp.MustCompile(`\+1\s?\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`),
		regexp.MustCompile(`\(\d{3}\)\s?\d{3}[-.\s]?\d{4}\b`),
		regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`),
	}
	contactClass = regexp.MustCompile(`(?i)contact|footer`)
	sizePatterns = []struct {
		re     *regexp.Regexp
		format func(m []string) string
	}{
		{regexp.MustCompile(`(?i)(\d+)-(\d+)\s*employees`), func(m []string) string { return m[1] + "-" + m[2] + " employees" }},
		{regexp.MustCompile(`(?i)(\d+)\+?\s*employees`), func(m []string) string { return m[1] + "+ employees" }},
		{regexp.MustCompile(`(?i)team of (\d+)`), func(m []string) string { return "~" + m[1] + " employees" }},
	}
)

// Config configures the scraper.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Scheme defaults to https.
	Scheme string
}

// Scraper implements enrich.Provider.
type Scraper struct {
	client    *http.Client
	userAgent string
	scheme    string
}

var _ enrich.Provider = (*Scraper)(nil)

// New creates a Scraper.
func New(cfg Config) *Scraper {
	s := &Scraper{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		scheme:    cfg.Scheme,
	}
	if s.client.Timeout == 0 {
		s.client.Timeout = 15 * time.Second
	}
	if s.userAgent == "" {
		s.userAgent = defaultUserAgent
	}
	if s.scheme == "" {
		s.scheme = "https"
	}
	return s
}

func (s *Scraper) Name() string { return "website" }

// Lookup fetches the home page of domain and extracts contact details.
func (s *Scraper) Lookup(ctx context.Context, domain models.CanonicalDomain) (*models.CompanyInfo, error) {
	pageURL := fmt.Sprintf("%s://%s/", s.scheme, domain)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := s.client.Do(req)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, enrich.ErrNotFound
		}
		return nil, &enrich.ProviderError{Provider: s.Name(), Err: fmt.Errorf("fetch %s: %w", pageURL, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, provider.StatusError(s.Name(), resp)
	default:
		// Anything else means the site has nothing for us.
		return nil, enrich.ErrNotFound
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &enrich.ProviderError{Provider: s.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("parse HTML: %w", err)}
	}

	info := Extract(doc)
	if info.IsEmpty() {
		return nil, enrich.ErrNotFound
	}
	return info, nil
}

// Extract pulls company details out of a parsed page.
func Extract(doc *goquery.Document) *models.CompanyInfo {
	info := &models.CompanyInfo{
		WebsiteTitle: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	if info.WebsiteTitle == "" {
		if site, ok := doc.Find("meta[property='og:site_name']").Attr("content"); ok {
			info.WebsiteTitle = strings.TrimSpace(site)
		}
	}

	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		switch {
		case info.LinkedInURL == "" && linkedInPattern.MatchString(href):
			info.LinkedInURL = href
		case info.Email == "" && strings.HasPrefix(strings.ToLower(href), "mailto:"):
			addr, _, _ := strings.Cut(href[len("mailto:"):], "?")
			info.Email = strings.TrimSpace(addr)
		case info.Phone == "" && strings.HasPrefix(strings.ToLower(href), "tel:"):
			info.Phone = strings.TrimSpace(href[len("tel:"):])
		}
		return info.LinkedInURL == "" || info.Email == "" || info.Phone == ""
	})

	var contact strings.Builder
	doc.Find("div[class], section[class], footer").Each(func(_ int, sel *goquery.Selection) {
		if class, _ := sel.Attr("class"); goquery.NodeName(sel) == "footer" || contactClass.MatchString(class) {
			contact.WriteString(sel.Text())
			contact.WriteByte(' ')
		}
	})
	full := doc.Find("body").Text()

	if info.Email == "" {
		info.Email = firstMatch(emailPattern, contact.String(), full)
	}
	if info.Phone == "" {
		for _, re := range phonePatterns {
			if info.Phone = firstMatch(re, contact.String(), full); info.Phone != "" {
				break
			}
		}
	}
	for _, p := range sizePatterns {
		if m := p.re.FindStringSubmatch(full); m != nil {
			info.CompanySize = p.format(m)
			break
		}
	}
	return info
}

func firstMatch(re *regexp.Regexp, texts ...string) string {
	for _, t := range texts {
		if m := re.FindString(t); m != "" {
			return m
		}
	}
	return ""
}
