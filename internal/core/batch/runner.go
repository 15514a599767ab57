// Package batch drives one operation over a list of input rows, isolating
// per-row failures and fanning every outcome out to reporters.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deskops/requesterctl/internal/core"
	"github.com/deskops/requesterctl/internal/input"
)

// Task runs the operation for one valid row. A returned error aborts the
// run; per-row problems belong in the outcome.
type Task func(ctx context.Context, row input.Row) (*core.Outcome, error)

// Reporter receives every outcome as soon as it is known.
type Reporter interface {
	Report(ctx context.Context, outcome *core.Outcome) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, outcome *core.Outcome) error

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, outcome *core.Outcome) error {
	return f(ctx, outcome)
}

// MultiReporter fans an outcome out to every reporter, joining their errors.
type MultiReporter []Reporter

// Report sends outcome to each reporter; one failure does not skip the rest.
func (m MultiReporter) Report(ctx context.Context, outcome *core.Outcome) error {
	var errs []error
	for _, reporter := range m {
		if reporter == nil {
			continue
		}
		if err := reporter.Report(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Runner processes rows sequentially. The dispatcher serializes requests, so
// a single worker keeps outcome order equal to input order.
type Runner struct {
	Operation core.Operation
	Input     string
	Reporter  Reporter
	// OnReportError observes reporter failures; the run continues regardless.
	OnReportError func(outcome *core.Outcome, err error)
	Clock         func() time.Time

	// RunID is generated when empty.
	RunID string
}

// Run applies task to every valid row and reports invalid rows as
// ValidationFailed without calling task. The summary is returned even when
// the run is aborted.
func (r *Runner) Run(ctx context.Context, rows []input.Row, task Task) (*core.RunSummary, error) {
	if r == nil {
		return nil, errors.New("batch runner is nil")
	}
	if task == nil {
		return nil, errors.New("batch task is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}

	summary := &core.RunSummary{
		RunID:     r.RunID,
		Operation: r.Operation,
		Input:     r.Input,
		StartedAt: r.now(),
		Counts:    make(map[core.Status]int, len(core.Statuses)),
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			summary.Aborted = true
			summary.FinishedAt = r.now()
			return summary, err
		}

		var outcome *core.Outcome
		if !row.Valid() {
			outcome = r.rejected(row)
		} else {
			var err error
			outcome, err = task(ctx, row)
			if err != nil {
				summary.Aborted = true
				summary.FinishedAt = r.now()
				return summary, fmt.Errorf("row %d: %w", row.Number, err)
			}
			if outcome == nil {
				outcome = r.missing(row)
			}
		}

		outcome.RunID = r.RunID
		if outcome.RequesterID == 0 && outcome.RowRef == "" {
			outcome.RowRef = row.Ref
		}

		summary.Add(outcome)
		r.report(ctx, outcome)
	}

	summary.FinishedAt = r.now()
	return summary, nil
}

// Reject reports a file-level failure as a single ValidationFailed outcome
// and returns the resulting summary.
func (r *Runner) Reject(ctx context.Context, check string, cause error) *core.RunSummary {
	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}
	now := r.now()
	outcome := &core.Outcome{
		ID:          uuid.New().String(),
		RunID:       r.RunID,
		Operation:   r.Operation,
		RowRef:      "N/A",
		Status:      core.StatusValidationFailed,
		Step:        check,
		Message:     cause.Error(),
		RequestedAt: now,
		ResolvedAt:  now,
	}
	summary := &core.RunSummary{
		RunID:      r.RunID,
		Operation:  r.Operation,
		Input:      r.Input,
		StartedAt:  now,
		FinishedAt: now,
		Aborted:    true,
	}
	summary.Add(outcome)
	r.report(ctx, outcome)
	return summary
}

func (r *Runner) report(ctx context.Context, outcome *core.Outcome) {
	if r.Reporter == nil {
		return
	}
	if err := r.Reporter.Report(ctx, outcome); err != nil && r.OnReportError != nil {
		r.OnReportError(outcome, err)
	}
}

func (r *Runner) rejected(row input.Row) *core.Outcome {
	now := r.now()
	outcome := &core.Outcome{
		ID:          uuid.New().String(),
		Operation:   r.Operation,
		RequesterID: row.RequesterID,
		SecondaryID: row.SecondaryID,
		RowRef:      row.Ref,
		Status:      core.StatusValidationFailed,
		RequestedAt: now,
		ResolvedAt:  now,
	}
	if row.Err != nil {
		outcome.Step = row.Err.Check
		outcome.Message = row.Err.Message
	}
	return outcome
}

func (r *Runner) missing(row input.Row) *core.Outcome {
	now := r.now()
	return &core.Outcome{
		ID:          uuid.New().String(),
		Operation:   r.Operation,
		RequesterID: row.RequesterID,
		RowRef:      row.Ref,
		Status:      core.StatusRemoteError,
		Message:     "operation returned no outcome",
		RequestedAt: now,
		ResolvedAt:  now,
	}
}

func (r *Runner) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}
