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

// Package source reads raw ad observations produced by the platform
// scrapers. Scrapers write one JSON observation per line.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bcem/leads/internal/models"
)

// Source yields a batch of observations together with every problem hit
// while reading them. Bad records never hide the good ones.
type Source interface {
	Name() string
	Read(ctx context.Context) ([]models.RawObservation, []error)
}

// LineError reports a line that could not be decoded.
type LineError struct {
	Source string
	Line   int
	Err    error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Source, e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// maxLineBytes bounds a single observation; creatives with embedded
// payloads can be large.
const maxLineBytes = 4 << 20

// Decode reads JSON lines from r. Blank lines and lines starting with '#'
// are ignored. name labels errors.
func Decode(ctx context.Context, name string, r io.Reader) ([]models.RawObservation, []error) {
	var (
		obs  []models.RawObservation
		errs []error
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	line := 0
	for sc.Scan() {
		line++
		if line%1000 == 0 && ctx.Err() != nil {
			return obs, append(errs, ctx.Err())
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var o models.RawObservation
		if err := json.Unmarshal([]byte(text), &o); err != nil {
			errs = append(errs, &LineError{Source: name, Line: line, Err: err})
			continue
		}
		if o.SourceRef == "" {
			o.SourceRef = fmt.Sprintf("%s:%d", name, line)
		}
		obs = append(obs, o)
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, &LineError{Source: name, Line: line + 1, Err: err})
	}
	return obs, errs
}

// JSONLFile reads observations from a single file.
type JSONLFile struct {
	Path string
}

func (f JSONLFile) Name() string { return filepath.Base(f.Path) }

func (f JSONLFile) Read(ctx context.Context) ([]models.RawObservation, []error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, []error{fmt.Errorf("open observations: %w", err)}
	}
	defer file.Close()
	return Decode(ctx, f.Name(), file)
}

// Spool is a directory scrapers drop *.jsonl files into. Consumed files are
// moved to the processed/ subdirectory.
type Spool struct {
	Dir string
}

// ProcessedDir is where consumed files end up.
func (s Spool) ProcessedDir() string { return filepath.Join(s.Dir, "processed") }

// Pending lists spooled files in name order.
func (s Spool) Pending() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("list spool: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// Files returns one JSONLFile per pending file.
func (s Spool) Files() ([]JSONLFile, error) {
	paths, err := s.Pending()
	if err != nil {
		return nil, err
	}
	files := make([]JSONLFile, len(paths))
	for i, p := range paths {
		files[i] = JSONLFile{Path: p}
	}
	return files, nil
}

// MarkProcessed moves path into ProcessedDir.
func (s Spool) MarkProcessed(path string) error {
	if err := os.MkdirAll(s.ProcessedDir(), 0o755); err != nil {
		return fmt.Errorf("create processed dir: %w", err)
	}
	dst := filepath.Join(s.ProcessedDir(), filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("move %s to processed: %w", filepath.Base(path), err)
	}
	slog.Debug("spool file processed", "file", filepath.Base(path))
	return nil
}
