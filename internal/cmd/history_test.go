package cmd

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskops/requesterctl/internal/core"
	"github.com/deskops/requesterctl/internal/core/store"
	"github.com/deskops/requesterctl/internal/output"
)

func TestParseCutoff(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	cutoff, err := parseCutoff("72h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-72*time.Hour), cutoff)

	cutoff, err = parseCutoff("7d", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC), cutoff)

	cutoff, err = parseCutoff("2025-01-02T03:04:05Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), cutoff)

	for _, bad := range []string{"", "soon", "-1h", "xd"} {
		_, err := parseCutoff(bad, now)
		assert.Error(t, err, bad)
	}
}

func TestParseStatus(t *testing.T) {
	status, ok := parseStatus("Not-Found")
	require.True(t, ok)
	assert.Equal(t, core.StatusNotFound, status)

	_, ok = parseStatus("exploded")
	assert.False(t, ok)
}

func TestWriteRuns(t *testing.T) {
	started := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	entries := []store.RunEntry{{
		RunID:      "run-1",
		Operation:  core.OperationMerge,
		StartedAt:  started,
		FinishedAt: &finished,
		Total:      4,
		Failures:   1,
	}}

	var table bytes.Buffer
	require.NoError(t, writeRuns(output.FormatTable, &table, entries))
	assert.Contains(t, table.String(), "run-1 merge total=4 failures=1")

	var empty bytes.Buffer
	require.NoError(t, writeRuns(output.FormatTable, &empty, nil))
	assert.Contains(t, empty.String(), "(no journaled runs)")

	var raw bytes.Buffer
	require.NoError(t, writeRuns(output.FormatJSON, &raw, entries))
	var decoded []store.RunEntry
	require.NoError(t, json.Unmarshal(raw.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "run-1", decoded[0].RunID)
}

func TestWritePruneResult(t *testing.T) {
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	var dry bytes.Buffer
	require.NoError(t, writePruneResult(output.FormatTable, &dry, cutoff, 5, 0, true))
	assert.Equal(t, "Would delete 5 outcome(s) older than 2025-06-01T00:00:00Z\n", dry.String())

	var done bytes.Buffer
	require.NoError(t, writePruneResult(output.FormatJSON, &done, cutoff, 5, 5, false))
	var result map[string]any
	require.NoError(t, json.Unmarshal(done.Bytes(), &result))
	assert.EqualValues(t, 5, result["deleted"])
	assert.Equal(t, false, result["dry_run"])
}
