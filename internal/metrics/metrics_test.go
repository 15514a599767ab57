package metrics

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskops/requesterctl/internal/core"
	"github.com/deskops/requesterctl/internal/core/engine"
)

func TestRecorderWritesTextfile(t *testing.T) {
	recorder, err := NewRecorder()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, recorder.Report(ctx, &core.Outcome{Operation: core.OperationDeactivate, Status: core.StatusSuccess}))
	require.NoError(t, recorder.Report(ctx, &core.Outcome{Operation: core.OperationDeactivate, Status: core.StatusSuccess}))
	require.NoError(t, recorder.Report(ctx, &core.Outcome{Operation: core.OperationDeactivate, Status: core.StatusNotFound}))

	hooks := recorder.Hooks()
	req := engine.Request{Method: "delete", Path: "/requesters/1"}
	hooks.OnResponse(req, http.StatusNoContent, 7, 200*time.Millisecond)
	hooks.OnLowRemaining(7, 30*time.Second)
	hooks.OnRateLimited(req, 2*time.Second)
	hooks.OnTransportError(req, errors.New("reset"), 5*time.Second)
	hooks.OnPace(time.Second, 500)

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	recorder.ObserveRun(&core.RunSummary{
		Operation:  core.OperationDeactivate,
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
	})

	path := filepath.Join(t.TempDir(), "requesterctl.prom")
	require.NoError(t, recorder.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, `requesterctl_outcomes_total{operation="deactivate",status="success"} 2`)
	assert.Contains(t, text, `requesterctl_outcomes_total{operation="deactivate",status="not_found"} 1`)
	assert.Contains(t, text, `requesterctl_api_requests_total{code="204",method="DELETE"} 1`)
	assert.Contains(t, text, `requesterctl_rate_limited_total 1`)
	assert.Contains(t, text, `requesterctl_transport_errors_total 1`)
	assert.Contains(t, text, `requesterctl_ratelimit_remaining 7`)
	assert.Contains(t, text, `requesterctl_pause_seconds_total{reason="low_remaining"} 30`)
	assert.Contains(t, text, `requesterctl_pauses_total{reason="budget"} 1`)
	assert.Contains(t, text, `requesterctl_last_run_duration_seconds{operation="deactivate"} 90`)
}

func TestRecorderNilSafety(t *testing.T) {
	var recorder *Recorder
	require.NoError(t, recorder.Report(context.Background(), &core.Outcome{}))
	require.NoError(t, recorder.WriteFile("/tmp/ignored.prom"))
	require.Nil(t, recorder.Registry())
	recorder.ObserveRun(&core.RunSummary{})

	hooks := recorder.Hooks()
	require.Nil(t, hooks.OnResponse)
}

func TestRecorderSkipsEmptyPath(t *testing.T) {
	recorder, err := NewRecorder()
	require.NoError(t, err)
	require.NoError(t, recorder.WriteFile(" "))
}
