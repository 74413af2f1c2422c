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

// Package models defines the data structures shared across the lead pipeline.
package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Platform identifies the ad platform an observation was scraped from.
type Platform string

const (
	PlatformGoogleAds       Platform = "google_ads"
	PlatformMetaAds         Platform = "meta_ads"
	PlatformAmazonSponsored Platform = "amazon_sponsored"
	PlatformGoogleShopping  Platform = "google_shopping"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{
	PlatformGoogleAds,
	PlatformMetaAds,
	PlatformAmazonSponsored,
	PlatformGoogleShopping,
}

// platformAliases accepts the names older scraper dumps used.
var platformAliases = map[string]Platform{
	"google_ads":       PlatformGoogleAds,
	"google":           PlatformGoogleAds,
	"meta_ads":         PlatformMetaAds,
	"meta":             PlatformMetaAds,
	"facebook":         PlatformMetaAds,
	"amazon_sponsored": PlatformAmazonSponsored,
	"amazon_ads":       PlatformAmazonSponsored,
	"amazon":           PlatformAmazonSponsored,
	"google_shopping":  PlatformGoogleShopping,
	"shopping_ads":     PlatformGoogleShopping,
	"shopping":         PlatformGoogleShopping,
}

// ParsePlatform maps a platform name (or a legacy alias) to a Platform.
func ParsePlatform(s string) (Platform, error) {
	if p, ok := platformAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return p, nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// UnmarshalJSON accepts legacy aliases. Unknown names are kept as-is so the
// ingestion boundary can reject the observation with a validation error
// instead of failing the whole decode.
func (p *Platform) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if parsed, err := ParsePlatform(s); err == nil {
		*p = parsed
		return nil
	}
	*p = Platform(s)
	return nil
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	return slices.Contains(Platforms, p)
}

// CanonicalDomain is the normalized identity key leads are merged on.
type CanonicalDomain string

func (d CanonicalDomain) String() string { return string(d) }

// Creative is the ad payload as the source adapter captured it. It is stored
// verbatim and never compared by content except to detect replays.
type Creative struct {
	AdID           string          `json:"ad_id,omitempty"`
	Text           string          `json:"text,omitempty"`
	ImageURL       string          `json:"image_url,omitempty"`
	LandingPageURL string          `json:"landing_page_url,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// RawObservation is one ad sighting on one platform, before identity
// resolution.
type RawObservation struct {
	SourceRef       string    `json:"source_ref,omitempty"`
	RawDomain       string    `json:"raw_domain"`
	CompanyNameHint string    `json:"company_name_hint,omitempty"`
	Platform        Platform  `json:"platform"`
	ObservedAt      time.Time `json:"observed_at"`
	Creative        Creative  `json:"creative"`
	Impressions     *int64    `json:"impressions_estimate,omitempty"`
	SpendEstimate   *float64  `json:"spend_estimate,omitempty"`
}

// AdCreative is a creative retained on a lead, tagged with where and when it
// was seen.
type AdCreative struct {
	Platform   Platform  `json:"platform"`
	ObservedAt time.Time `json:"observed_at"`
	SourceRef  string    `json:"source_ref,omitempty"`
	Creative   Creative  `json:"creative"`
}

// CompanyInfo holds enrichment results. Every field is independently optional.
type CompanyInfo struct {
	WebsiteTitle string `json:"website_title,omitempty"`
	LinkedInURL  string `json:"linkedin_url,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	CompanySize  string `json:"company_size,omitempty"`
	Industry     string `json:"industry,omitempty"`
}

// IsEmpty reports whether no field carries a value.
func (c *CompanyInfo) IsEmpty() bool {
	return c == nil || *c == CompanyInfo{}
}

// IsComplete reports whether every field carries a value.
func (c *CompanyInfo) IsComplete() bool {
	return c != nil &&
		c.WebsiteTitle != "" && c.LinkedInURL != "" && c.Phone != "" &&
		c.Email != "" && c.CompanySize != "" && c.Industry != ""
}

// Lead is the canonical, deduplicated record for one advertiser company.
type Lead struct {
	Domain             CanonicalDomain `json:"domain"`
	CompanyName        string          `json:"company_name"`
	FirstSeen          time.Time       `json:"first_seen"`
	LastSeen           time.Time       `json:"last_seen"`
	Sources            []Platform      `json:"sources"`
	AdCreatives        []AdCreative    `json:"ad_creatives"`
	CompanyInfo        *CompanyInfo    `json:"company_info,omitempty"`
	TotalImpressions   int64           `json:"total_impressions"`
	TotalSpendEstimate float64         `json:"total_spend_estimate"`
}

// Clone returns a deep copy so callers can mutate it without aliasing the
// original's slices or company info.
func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	out := *l
	out.Sources = slices.Clone(l.Sources)
	if l.AdCreatives != nil {
		out.AdCreatives = make([]AdCreative, len(l.AdCreatives))
		for i, c := range l.AdCreatives {
			c.Creative.Raw = slices.Clone(c.Creative.Raw)
			out.AdCreatives[i] = c
		}
	}
	if l.CompanyInfo != nil {
		info := *l.CompanyInfo
		out.CompanyInfo = &info
	}
	return &out
}

// HasSource reports whether p has been seen for this lead.
func (l *Lead) HasSource(p Platform) bool {
	return slices.Contains(l.Sources, p)
}

// IsActive reports whether the lead was seen within window of now.
func (l *Lead) IsActive(now time.Time, window time.Duration) bool {
	return !l.LastSeen.Before(now.Add(-window))
}
