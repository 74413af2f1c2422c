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

package merge

import (
	"slices"
	"time"

	"github.com/bcem/leads/internal/identity"
	"github.com/bcem/leads/internal/models"
)

// Field names a mergeable lead attribute.
type Field uint8

const (
	FieldCompanyName Field = iota + 1
	FieldFirstSeen
	FieldLastSeen
	FieldSources
	FieldTotalImpressions
	FieldTotalSpend
	FieldWebsiteTitle
	FieldLinkedInURL
	FieldPhone
	FieldEmail
	FieldCompanySize
	FieldIndustry
)

// Policy decides how an incoming value combines with the current one.
type Policy uint8

const (
	// OverwriteIfEmpty sets the field only while it has no value.
	OverwriteIfEmpty Policy = iota + 1
	// OverwriteIfNonEmpty replaces the field with any non-empty value.
	OverwriteIfNonEmpty
	Min
	Max
	Sum
	// Union adds the value to a set-valued field.
	Union
)

// Update is one typed change to one lead field. Which value member is read
// depends on Field: Text for names and company info, Time for timestamps,
// Count for impressions, Amount for spend, Platform for sources.
type Update struct {
	Field    Field
	Policy   Policy
	Text     string
	Time     time.Time
	Count    int64
	Amount   float64
	Platform models.Platform
}

// Apply folds u into l and reports whether l changed. Combinations a field
// does not support (Sum on a name, Union on a timestamp) are no-ops.
func Apply(l *models.Lead, u Update) bool {
	switch u.Field {
	case FieldCompanyName:
		return applyText(u.Policy, &l.CompanyName, u.Text)
	case FieldFirstSeen:
		return applyTime(u.Policy, &l.FirstSeen, u.Time)
	case FieldLastSeen:
		return applyTime(u.Policy, &l.LastSeen, u.Time)
	case FieldSources:
		return applySet(u.Policy, &l.Sources, u.Platform)
	case FieldTotalImpressions:
		return applyCount(u.Policy, &l.TotalImpressions, u.Count)
	case FieldTotalSpend:
		return applyAmount(u.Policy, &l.TotalSpendEstimate, u.Amount)
	case FieldWebsiteTitle, FieldLinkedInURL, FieldPhone, FieldEmail, FieldCompanySize, FieldIndustry:
		return applyInfo(l, u)
	}
	return false
}

// ApplyAll applies updates in order and reports whether any of them changed l.
func ApplyAll(l *models.Lead, updates []Update) bool {
	changed := false
	for _, u := range updates {
		if Apply(l, u) {
			changed = true
		}
	}
	return changed
}

// ObservationUpdates lists the field updates one observation contributes.
// Missing numeric estimates contribute zero.
func ObservationUpdates(o models.RawObservation) []Update {
	var impressions int64
	if o.Impressions != nil {
		impressions = *o.Impressions
	}
	var spend float64
	if o.SpendEstimate != nil {
		spend = *o.SpendEstimate
	}

	return []Update{
		{Field: FieldFirstSeen, Policy: OverwriteIfEmpty, Time: o.ObservedAt},
		{Field: FieldLastSeen, Policy: Max, Time: o.ObservedAt},
		{Field: FieldSources, Policy: Union, Platform: o.Platform},
		{Field: FieldCompanyName, Policy: OverwriteIfEmpty, Text: identity.NormalizeName(o.CompanyNameHint)},
		{Field: FieldTotalImpressions, Policy: Sum, Count: impressions},
		{Field: FieldTotalSpend, Policy: Sum, Amount: spend},
	}
}

// CompanyInfoUpdates lists the updates an enrichment result contributes.
// Empty fields never downgrade what a lead already has.
func CompanyInfoUpdates(info *models.CompanyInfo) []Update {
	if info == nil {
		return nil
	}
	return []Update{
		{Field: FieldWebsiteTitle, Policy: OverwriteIfNonEmpty, Text: info.WebsiteTitle},
		{Field: FieldLinkedInURL, Policy: OverwriteIfNonEmpty, Text: info.LinkedInURL},
		{Field: FieldPhone, Policy: OverwriteIfNonEmpty, Text: info.Phone},
		{Field: FieldEmail, Policy: OverwriteIfNonEmpty, Text: info.Email},
		{Field: FieldCompanySize, Policy: OverwriteIfNonEmpty, Text: info.CompanySize},
		{Field: FieldIndustry, Policy: OverwriteIfNonEmpty, Text: info.Industry},
	}
}

// MergeCompanyInfo folds an enrichment result into l.
func MergeCompanyInfo(l *models.Lead, info *models.CompanyInfo) bool {
	return ApplyAll(l, CompanyInfoUpdates(info))
}

func applyText(p Policy, cur *string, v string) bool {
	switch p {
	case OverwriteIfEmpty:
		if *cur == "" && v != "" {
			*cur = v
			return true
		}
	case OverwriteIfNonEmpty:
		if v != "" && v != *cur {
			*cur = v
			return true
		}
	}
	return false
}

func applyTime(p Policy, cur *time.Time, v time.Time) bool {
	if v.IsZero() {
		return false
	}
	switch p {
	case OverwriteIfEmpty:
		if cur.IsZero() {
			*cur = v
			return true
		}
	case OverwriteIfNonEmpty:
		if !v.Equal(*cur) {
			*cur = v
			return true
		}
	case Min:
		if cur.IsZero() || v.Before(*cur) {
			*cur = v
			return true
		}
	case Max:
		if v.After(*cur) {
			*cur = v
			return true
		}
	}
	return false
}

func applyCount(p Policy, cur *int64, v int64) bool {
	switch p {
	case Sum:
		*cur += v
		return v != 0
	case Max:
		if v > *cur {
			*cur = v
			return true
		}
	case Min:
		if v < *cur {
			*cur = v
			return true
		}
	}
	return false
}

func applyAmount(p Policy, cur *float64, v float64) bool {
	switch p {
	case Sum:
		*cur += v
		return v != 0
	case Max:
		if v > *cur {
			*cur = v
			return true
		}
	case Min:
		if v < *cur {
			*cur = v
			return true
		}
	}
	return false
}

func applySet(p Policy, set *[]models.Platform, v models.Platform) bool {
	if p != Union || v == "" || slices.Contains(*set, v) {
		return false
	}
	*set = append(*set, v)
	slices.Sort(*set)
	return true
}

func applyInfo(l *models.Lead, u Update) bool {
	info := l.CompanyInfo
	if info == nil {
		info = &models.CompanyInfo{}
	}

	var target *string
	switch u.Field {
	case FieldWebsiteTitle:
		target = &info.WebsiteTitle
	case FieldLinkedInURL:
		target = &info.LinkedInURL
	case FieldPhone:
		target = &info.Phone
	case FieldEmail:
		target = &info.Email
	case FieldCompanySize:
		target = &info.CompanySize
	case FieldIndustry:
		target = &info.Industry
	}

	if !applyText(u.Policy, target, u.Text) {
		return false
	}
	l.CompanyInfo = info
	return true
}
