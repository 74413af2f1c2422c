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

package clearbit

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bcem/leads/internal/models"
)

// company holds the fields of a Company API response we use.
type company struct {
	Name          string `json:"name"`
	Domain        string `json:"domain"`
	Phone         string `json:"phone"`
	EmailProvider bool   `json:"emailProvider"`
	LinkedIn      struct {
		Handle string `json:"handle"`
	} `json:"linkedin"`
	Site struct {
		PhoneNumbers   []string `json:"phoneNumbers"`
		EmailAddresses []string `json:"emailAddresses"`
	} `json:"site"`
	Metrics struct {
		Employees      *int   `json:"employees"`
		EmployeesRange string `json:"employeesRange"`
	} `json:"metrics"`
	Category struct {
		Industry string `json:"industry"`
	} `json:"category"`
}

// parseCompany converts a Company API response into CompanyInfo.
func parseCompany(body io.Reader) (*models.CompanyInfo, error) {
	var c company
	if err := json.NewDecoder(body).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode company: %w", err)
	}

	info := &models.CompanyInfo{
		WebsiteTitle: strings.TrimSpace(c.Name),
		Phone:        c.Phone,
		Industry:     c.Category.Industry,
	}
	if h := strings.TrimSpace(c.LinkedIn.Handle); h != "" {
		// Older records carry the "company/" prefix in the handle.
		info.LinkedInURL = "https://www.linkedin.com/company/" + strings.TrimPrefix(h, "company/")
	}
	if info.Phone == "" && len(c.Site.PhoneNumbers) > 0 {
		info.Phone = c.Site.PhoneNumbers[0]
	}
	switch {
	case len(c.Site.EmailAddresses) > 0:
		info.Email = c.Site.EmailAddresses[0]
	case c.EmailProvider && c.Domain != "":
		info.Email = "info@" + c.Domain
	}
	switch {
	case c.Metrics.Employees != nil:
		info.CompanySize = strconv.Itoa(*c.Metrics.Employees)
	case c.Metrics.EmployeesRange != "":
		info.CompanySize = c.Metrics.EmployeesRange
	}
	return info, nil
}
