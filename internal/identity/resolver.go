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

// Package identity derives the canonical domain leads are merged on. Every
// function here is pure: no I/O and no failure modes.
package identity

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"

	"github.com/bcem/leads/internal/models"
)

// Empty is the key produced for input that carries no host at all. Callers
// must reject observations resolving to it before they reach the merge.
const Empty models.CanonicalDomain = ""

// Resolve normalizes a raw domain or URL into its canonical form: lower case,
// no scheme, no userinfo, no port, no path/query/fragment, no leading "www."
// and no trailing dot. Malformed input degrades to a best-effort lowercase
// string rather than an error.
func Resolve(raw string) models.CanonicalDomain {
	s := strings.ToLower(strings.TrimSpace(raw))

	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	} else {
		s = strings.TrimPrefix(s, "//")
	}

	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}

	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}

	s = stripPort(s)
	for strings.HasPrefix(s, "www.") {
		s = s[len("www."):]
	}
	s = strings.Trim(s, ". ")

	return models.CanonicalDomain(toASCII(s))
}

// stripPort removes a trailing ":port". Bracketed IPv6 literals keep their
// colons.
func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if i := strings.Index(host, "]"); i >= 0 {
			return host[:i+1]
		}
		return host
	}
	if i := strings.LastIndex(host, ":"); i >= 0 {
		return host[:i]
	}
	return host
}

// toASCII converts internationalized hosts to punycode when possible so the
// Unicode and ASCII spellings of one domain share a key.
func toASCII(host string) string {
	if host == "" || isASCII(host) {
		return host
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil || ascii == "" {
		return host
	}
	return ascii
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

var domainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// IsValid reports whether d looks like a registrable host name. Resolve never
// rejects anything; this is only a hint for logging.
func IsValid(d models.CanonicalDomain) bool {
	return domainPattern.MatchString(string(d))
}

// NormalizeName collapses runs of whitespace in a company name hint.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
