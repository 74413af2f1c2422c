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

package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bcem/leads/internal/export"
)

const observations = `{"raw_domain":"https://www.example.com/shop","company_name_hint":"Example","platform":"google_ads","observed_at":"2026-03-01T10:00:00Z","creative":{"ad_id":"g1"},"impressions_estimate":1000}
{"raw_domain":"EXAMPLE.com","platform":"meta_ads","observed_at":"2026-03-02T10:00:00Z","creative":{"ad_id":"m1"},"impressions_estimate":500}
not json
{"raw_domain":"other.io","platform":"tiktok","observed_at":"2026-03-02T10:00:00Z"}
`

// setup writes a config pointing at a fresh SQLite file and an observation
// file, returning both paths.
func setup(t *testing.T) (configPath, obsPath string) {
	t.Helper()
	dir := t.TempDir()

	configPath = filepath.Join(dir, "config.yaml")
	cfg := "store:\n  driver: sqlite\n  sqlite_path: " + filepath.Join(dir, "leads.db") + "\n"
	if err := os.WriteFile(configPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	obsPath = filepath.Join(dir, "batch.jsonl")
	if err := os.WriteFile(obsPath, []byte(observations), 0o600); err != nil {
		t.Fatal(err)
	}
	return configPath, obsPath
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("leads %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestIngestExportStats(t *testing.T) {
	configPath, obsPath := setup(t)

	out := execute(t, "ingest", "--config", configPath, "--no-enrich", obsPath)
	if !strings.Contains(out, "New leads") {
		t.Errorf("ingest output missing summary:\n%s", out)
	}

	// Replaying the same file changes nothing.
	execute(t, "ingest", "--config", configPath, "--no-enrich", obsPath)

	csvOut := execute(t, "export", "--config", configPath, "--format", "csv")
	records, err := csv.NewReader(strings.NewReader(csvOut)).ReadAll()
	if err != nil {
		t.Fatalf("parse export: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want header and one lead", len(records))
	}
	row := records[1]
	if row[0] != "example.com" {
		t.Errorf("domain = %q", row[0])
	}
	if row[4] != "google_ads,meta_ads" {
		t.Errorf("sources = %q", row[4])
	}
	if row[5] != "1500" {
		t.Errorf("impressions = %q, want 1500 after replay", row[5])
	}

	stats := execute(t, "stats", "--config", configPath)
	if !strings.Contains(stats, "Total leads") {
		t.Errorf("stats output:\n%s", stats)
	}
}

func TestIngest_RequiresFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"ingest"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.Execute(); err == nil {
		t.Error("expected error without a file argument")
	}
}

func TestExportFormat(t *testing.T) {
	tests := []struct {
		format, out string
		want        export.Format
		wantErr     bool
	}{
		{out: "-", want: export.FormatCSV},
		{out: "leads.xlsx", want: export.FormatXLSX},
		{out: "leads.txt", want: export.FormatCSV},
		{format: "XLSX", out: "leads.csv", want: export.FormatXLSX},
		{format: "pdf", wantErr: true},
	}
	for _, tt := range tests {
		got, err := exportFormat(tt.format, tt.out)
		if (err != nil) != tt.wantErr {
			t.Errorf("exportFormat(%q, %q) error = %v", tt.format, tt.out, err)
			continue
		}
		if got != tt.want {
			t.Errorf("exportFormat(%q, %q) = %q, want %q", tt.format, tt.out, got, tt.want)
		}
	}
}
