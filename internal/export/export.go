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

// Package export writes leads as flat CSV or XLSX tables.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/bcem/leads/internal/models"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" or "xlsx" in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Columns is the header row shared by every format.
var Columns = []string{
	"domain",
	"company_name",
	"first_seen",
	"last_seen",
	"sources",
	"total_impressions",
	"total_spend_estimate",
	"website_title",
	"linkedin_url",
	"phone",
	"email",
	"company_size",
	"industry",
	"num_creatives",
}

// Row flattens a lead into cells matching Columns.
func Row(l models.Lead) []string {
	info := models.CompanyInfo{}
	if l.CompanyInfo != nil {
		info = *l.CompanyInfo
	}

	sources := make([]string, len(l.Sources))
	for i, p := range l.Sources {
		sources[i] = string(p)
	}

	return []string{
		string(l.Domain),
		l.CompanyName,
		formatTime(l.FirstSeen),
		formatTime(l.LastSeen),
		strings.Join(sources, ","),
		strconv.FormatInt(l.TotalImpressions, 10),
		strconv.FormatFloat(l.TotalSpendEstimate, 'f', 2, 64),
		info.WebsiteTitle,
		info.LinkedInURL,
		info.Phone,
		info.Email,
		info.CompanySize,
		info.Industry,
		strconv.Itoa(len(l.AdCreatives)),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Write encodes leads in the given format.
func Write(w io.Writer, format Format, leads []models.Lead) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, leads)
	case FormatXLSX:
		return WriteXLSX(w, leads)
	}
	return fmt.Errorf("unknown export format %q", format)
}

// WriteCSV writes a header row followed by one row per lead.
func WriteCSV(w io.Writer, leads []models.Lead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, l := range leads {
		if err := cw.Write(Row(l)); err != nil {
			return fmt.Errorf("write csv row %s: %w", l.Domain, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// SheetName is the worksheet leads are written to.
const SheetName = "Leads"

// WriteXLSX writes a single-sheet workbook. Numeric columns are stored as
// numbers so spreadsheet formulas work on them.
func WriteXLSX(w io.Writer, leads []models.Lead) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write xlsx header: %w", err)
	}

	for i, l := range leads {
		cells := Row(l)
		row := make([]any, len(cells))
		for j, c := range cells {
			row[j] = c
		}
		row[5] = l.TotalImpressions
		row[6] = l.TotalSpendEstimate
		row[13] = len(l.AdCreatives)

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write xlsx row %s: %w", l.Domain, err)
		}
	}

	if len(leads) > 0 {
		if err := f.AutoFilter(SheetName, fmt.Sprintf("A1:N%d", len(leads)+1), nil); err != nil {
			return fmt.Errorf("set autofilter: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
