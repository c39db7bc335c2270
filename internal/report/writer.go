// Package report implements the Report Writer (A4): newline-delimited JSON
// performance reports. cmd/arbd writes one report at shutdown; no report is
// written on a timer. The engine keeps no other persistent store, so
// this is a thin os.Create + encoding/json writer rather than anything
// pulled from the pack — no example repo carries a dedicated report-writing
// library, and the format (one JSON object per file, not a multi-record
// stream) doesn't warrant one.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/l2arb/engine/internal/scheduler"
)

// Report is one point-in-time performance snapshot, aggregating every
// worker's counters plus the opportunity funnel counts the scheduler tracks.
type Report struct {
	GeneratedAt          time.Time             `json:"generated_at"`
	Workers              []scheduler.Snapshot  `json:"workers"`
	OpportunitiesFound   int                   `json:"opportunities_found"`
	OpportunitiesBelowThreshold int            `json:"opportunities_below_threshold"`
	TradesAttempted      int                   `json:"trades_attempted"`
	TradesSucceeded      int                   `json:"trades_succeeded"`
}

// Writer persists Reports to a configurable directory as
// report-<iso-timestamp>.json files.
type Writer struct {
	dir string
}

// New builds a Writer rooted at dir, creating it if necessary.
func New(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Write serializes r to a new timestamped file in the writer's directory.
func (w *Writer) Write(r Report) (string, error) {
	name := fmt.Sprintf("report-%s.json", r.GeneratedAt.UTC().Format("2006-01-02T15-04-05Z"))
	path := filepath.Join(w.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("report: create file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(r); err != nil {
		return "", fmt.Errorf("report: encode: %w", err)
	}
	return path, nil
}
