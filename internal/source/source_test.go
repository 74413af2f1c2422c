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

package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bcem/leads/internal/models"
)

const sample = `{"raw_domain":"https://www.example.com/shop","platform":"google_ads","observed_at":"2026-03-01T10:00:00Z","creative":{"ad_id":"g-1"},"impressions_estimate":1000}
# comment

{"raw_domain":"example.com","platform":"meta","observed_at":"2026-03-02T10:00:00Z","source_ref":"meta-run-7"}
{not json}
`

// TestDecode verifies good lines decode and bad lines are reported.
func TestDecode(t *testing.T) {
	obs, errs := Decode(context.Background(), "sample.jsonl", strings.NewReader(sample))

	if len(obs) != 2 {
		t.Fatalf("observations = %d, want 2", len(obs))
	}
	if obs[0].Platform != models.PlatformGoogleAds || obs[0].Impressions == nil || *obs[0].Impressions != 1000 {
		t.Errorf("first = %+v", obs[0])
	}
	if obs[0].SourceRef != "sample.jsonl:1" {
		t.Errorf("default source_ref = %q", obs[0].SourceRef)
	}
	if obs[1].Platform != models.PlatformMetaAds || obs[1].SourceRef != "meta-run-7" {
		t.Errorf("second = %+v", obs[1])
	}

	if len(errs) != 1 {
		t.Fatalf("errors = %v, want 1", errs)
	}
	var le *LineError
	if !errors.As(errs[0], &le) || le.Line != 5 {
		t.Errorf("err = %v, want LineError on line 5", errs[0])
	}
}

// TestSpool verifies pending listing and the processed move.
func TestSpool(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jsonl", "a.jsonl", "ignore.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(sample), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s := Spool{Dir: dir}

	files, err := s.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 || files[0].Name() != "a.jsonl" || files[1].Name() != "b.jsonl" {
		t.Fatalf("files = %v", files)
	}

	obs, errs := files[0].Read(context.Background())
	if len(obs) != 2 || len(errs) != 1 {
		t.Errorf("read = %d obs, %d errs", len(obs), len(errs))
	}

	if err := s.MarkProcessed(files[0].Path); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "processed", "a.jsonl")); err != nil {
		t.Errorf("processed file missing: %v", err)
	}
	pending, _ := s.Pending()
	if len(pending) != 1 {
		t.Errorf("pending = %v, want only b.jsonl", pending)
	}
}

func TestJSONLFile_Missing(t *testing.T) {
	_, errs := JSONLFile{Path: filepath.Join(t.TempDir(), "nope.jsonl")}.Read(context.Background())
	if len(errs) != 1 || !errors.Is(errs[0], os.ErrNotExist) {
		t.Errorf("errs = %v, want not-exist", errs)
	}
}
