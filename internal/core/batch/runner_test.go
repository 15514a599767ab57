package batch

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deskops/requesterctl/internal/core"
	"github.com/deskops/requesterctl/internal/core/engine"
	"github.com/deskops/requesterctl/internal/core/requester"
	"github.com/deskops/requesterctl/internal/input"
	"github.com/deskops/requesterctl/internal/output"
)

type collector struct {
	outcomes []*core.Outcome
}

func (c *collector) Report(_ context.Context, outcome *core.Outcome) error {
	c.outcomes = append(c.outcomes, outcome)
	return nil
}

func fixedClock() time.Time {
	return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
}

func TestRunnerIsolatesRowFailures(t *testing.T) {
	rows := []input.Row{
		{Number: 1, Ref: "1", RequesterID: 1},
		{Number: 2, Ref: "x", Err: &input.RowError{Check: input.CheckRequesterFormat, Message: "bad id"}},
		{Number: 3, Ref: "3", RequesterID: 3},
	}

	sink := &collector{}
	runner := &Runner{Operation: core.OperationDeactivate, Reporter: sink, Clock: fixedClock}

	var called []core.RequesterID
	summary, err := runner.Run(context.Background(), rows, func(_ context.Context, row input.Row) (*core.Outcome, error) {
		called = append(called, row.RequesterID)
		status := core.StatusSuccess
		if row.RequesterID == 1 {
			status = core.StatusRemoteError
		}
		return &core.Outcome{RequesterID: row.RequesterID, Status: status}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []core.RequesterID{1, 3}, called)
	require.Equal(t, 3, summary.Total())
	require.Equal(t, 1, summary.Counts[core.StatusSuccess])
	require.Equal(t, 1, summary.Counts[core.StatusRemoteError])
	require.Equal(t, 1, summary.Counts[core.StatusValidationFailed])
	require.Equal(t, 2, summary.Failures())
	require.False(t, summary.Aborted)

	require.Len(t, sink.outcomes, 3)
	require.Equal(t, "x", sink.outcomes[1].Subject())
	require.Equal(t, input.CheckRequesterFormat, sink.outcomes[1].Step)
	for _, outcome := range sink.outcomes {
		require.Equal(t, summary.RunID, outcome.RunID)
	}
}

func TestRunnerAbortsOnTaskError(t *testing.T) {
	rows := []input.Row{{Number: 1, RequesterID: 1}, {Number: 2, RequesterID: 2}}
	runner := &Runner{Operation: core.OperationReactivate}

	summary, err := runner.Run(context.Background(), rows, func(context.Context, input.Row) (*core.Outcome, error) {
		return nil, context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, summary.Aborted)
	require.Zero(t, summary.Total())
}

func TestRunnerContinuesAfterReporterFailure(t *testing.T) {
	rows := []input.Row{{Number: 1, RequesterID: 1}, {Number: 2, RequesterID: 2}}
	sink := &collector{}

	var reportErrors int
	runner := &Runner{
		Operation: core.OperationDeactivate,
		Reporter: MultiReporter{
			ReporterFunc(func(context.Context, *core.Outcome) error { return errors.New("disk full") }),
			sink,
		},
		OnReportError: func(*core.Outcome, error) { reportErrors++ },
	}

	summary, err := runner.Run(context.Background(), rows, func(_ context.Context, row input.Row) (*core.Outcome, error) {
		return &core.Outcome{RequesterID: row.RequesterID, Status: core.StatusSuccess}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total())
	require.Equal(t, 2, reportErrors)
	require.Len(t, sink.outcomes, 2)
}

func TestRunnerReject(t *testing.T) {
	sink := &collector{}
	runner := &Runner{Operation: core.OperationReplaceSecondaryEmails, Reporter: sink}

	summary := runner.Reject(context.Background(), input.CheckCSVHeaders, errors.New("first header column must be requester_id"))
	require.True(t, summary.Aborted)
	require.Equal(t, 1, summary.Counts[core.StatusValidationFailed])
	require.Len(t, sink.outcomes, 1)
	require.Equal(t, "N/A", sink.outcomes[0].Subject())
}

type routeDispatcher struct {
	calls   []engine.Request
	respond func(req engine.Request) *engine.Response
}

func (d *routeDispatcher) Dispatch(_ context.Context, req engine.Request) (*engine.Response, error) {
	d.calls = append(d.calls, req)
	return d.respond(req), nil
}

func TestReplaceSecondaryEmailsBatch(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "replace.csv")
	require.NoError(t, os.WriteFile(inputPath, []byte("requester_id,email_1\n1,a@example.com\n2,b@example.com\n3,c@example.com\n"), 0644))

	f, err := input.Open(inputPath)
	require.NoError(t, err)
	rows, err := input.ReadReplaceRows(f)
	require.NoError(t, f.Close())
	require.NoError(t, err)

	dispatcher := &routeDispatcher{respond: func(req engine.Request) *engine.Response {
		if req.Path == "/requesters/2" {
			return &engine.Response{StatusCode: http.StatusInternalServerError, Body: []byte("server error")}
		}
		return &engine.Response{StatusCode: http.StatusOK, Body: []byte("{}")}
	}}
	client := &requester.Client{Dispatcher: dispatcher, Clock: fixedClock}

	logs, err := output.OpenResultLogs(inputPath)
	require.NoError(t, err)

	runner := &Runner{Operation: core.OperationReplaceSecondaryEmails, Reporter: logs, Clock: fixedClock}
	summary, err := runner.Run(context.Background(), rows, func(ctx context.Context, row input.Row) (*core.Outcome, error) {
		return client.ReplaceSecondaryEmails(ctx, row.RequesterID, row.Emails)
	})
	require.NoError(t, err)
	require.NoError(t, logs.Close())

	require.Equal(t, 2, summary.Counts[core.StatusSuccess])
	require.Equal(t, 1, summary.Counts[core.StatusRemoteError])

	var row2Calls int
	for _, call := range dispatcher.calls {
		if call.Path == "/requesters/2" {
			row2Calls++
		}
	}
	require.Equal(t, 1, row2Calls)
	require.Len(t, dispatcher.calls, 5)

	errorPath, successPath := output.ResultLogPaths(inputPath)
	errorLog, err := os.ReadFile(errorPath)
	require.NoError(t, err)
	errorLines := strings.Split(strings.TrimSpace(string(errorLog)), "\n")
	require.Len(t, errorLines, 2)
	require.Equal(t, "2,clear_secondary_emails,500,server error", errorLines[1])

	successLog, err := os.ReadFile(successPath)
	require.NoError(t, err)
	successLines := strings.Split(strings.TrimSpace(string(successLog)), "\n")
	require.Equal(t, []string{
		"requester_id,secondary_email_1,secondary_email_2,secondary_email_3,secondary_email_4",
		"1,a@example.com,,,",
		"3,c@example.com,,,",
	}, successLines)
}
