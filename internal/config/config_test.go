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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile_MissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("driver = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.ActiveWindow != 72*time.Hour {
		t.Errorf("active window = %v", cfg.ActiveWindow)
	}
	if cfg.Redis.Queues.LeadEvents != "lead_events" {
		t.Errorf("queue = %q", cfg.Redis.Queues.LeadEvents)
	}
}

func TestLoadFile_YAMLAndExpansion(t *testing.T) {
	t.Setenv("TEST_CLEARBIT_KEY", "sk_test")
	path := writeConfig(t, `
store:
  driver: postgres
  database_url: postgres://leads@localhost/leads
redis:
  url: redis://localhost:6379/0
  claim_ttl: 6h
merge:
  max_creatives: 50
enrichment:
  workers: 8
  min_interval: 250ms
  providers:
    clearbit:
      api_key: ${TEST_CLEARBIT_KEY}
    website:
      enabled: false
ingest:
  spool_dir: /var/spool/leads
  enrich: false
active_window: 48h
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Store.Driver != DriverPostgres || cfg.Store.DatabaseURL == "" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Redis.ClaimTTL != 6*time.Hour {
		t.Errorf("claim ttl = %v", cfg.Redis.ClaimTTL)
	}
	if cfg.Merge.MaxCreatives != 50 {
		t.Errorf("max creatives = %d", cfg.Merge.MaxCreatives)
	}
	if cfg.Enrichment.Workers != 8 || cfg.Enrichment.MinInterval != 250*time.Millisecond {
		t.Errorf("enrichment = %+v", cfg.Enrichment)
	}
	if cfg.Enrichment.Providers.Clearbit.APIKey != "sk_test" {
		t.Errorf("api key = %q, want expanded value", cfg.Enrichment.Providers.Clearbit.APIKey)
	}
	if cfg.Enrichment.Providers.Website.Enabled {
		t.Error("website provider should be disabled")
	}
	if cfg.Enrichment.RateLimitAttempts != 5 {
		t.Errorf("unset fields should keep defaults, got %d", cfg.Enrichment.RateLimitAttempts)
	}
	if cfg.Ingest.Enrich || cfg.Ingest.SpoolDir != "/var/spool/leads" {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
	if cfg.ActiveWindow != 48*time.Hour {
		t.Errorf("active window = %v", cfg.ActiveWindow)
	}
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: sqlite\nport: 9000\n")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("PORT", "9100")
	t.Setenv("ACTIVE_WINDOW", "24h")
	t.Setenv("ENRICH_WORKERS", "not-a-number")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("driver = %q", cfg.Store.Driver)
	}
	if cfg.Port != 9100 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.ActiveWindow != 24*time.Hour {
		t.Errorf("active window = %v", cfg.ActiveWindow)
	}
	if cfg.Enrichment.Workers != 4 {
		t.Errorf("unparseable env should be ignored, workers = %d", cfg.Enrichment.Workers)
	}
}

func TestLoadFile_BadYAML(t *testing.T) {
	path := writeConfig(t, "store: [unterminated\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "postgres without url", mutate: func(c *Config) { c.Store.Driver = DriverPostgres }, wantErr: "database_url"},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "mongo" }, wantErr: "unknown store driver"},
		{name: "no workers", mutate: func(c *Config) { c.Enrichment.Workers = 0 }, wantErr: "workers"},
		{name: "backoff inverted", mutate: func(c *Config) { c.Enrichment.MaxBackoff = time.Millisecond }, wantErr: "max_backoff"},
		{name: "zero window", mutate: func(c *Config) { c.ActiveWindow = 0 }, wantErr: "active_window"},
		{name: "negative cap", mutate: func(c *Config) { c.Merge.MaxCreatives = -1 }, wantErr: "max_creatives"},
		{name: "bad port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
