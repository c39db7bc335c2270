package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l2arb/engine/internal/scheduler"
)

func TestWriter_WritesNDJSONReportFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)

	r := Report{
		GeneratedAt:        time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		Workers:            []scheduler.Snapshot{{WorkerID: "worker-0", ScansRun: 3, TradesRun: 1, TradesSucceeded: 1}},
		OpportunitiesFound: 5,
		TradesAttempted:    1,
		TradesSucceeded:    1,
	}

	path, err := w.Write(r)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report-2026-07-31T12-00-00Z.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var roundTripped Report
	require.NoError(t, json.Unmarshal(data, &roundTripped))
	assert.Equal(t, r.OpportunitiesFound, roundTripped.OpportunitiesFound)
	assert.Equal(t, r.Workers, roundTripped.Workers)
}

func TestNew_CreatesDirectoryIfMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "reports")
	_, err := New(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
