package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deskops/requesterctl/internal/core"
)

// RunEntry is one journaled batch run.
type RunEntry struct {
	RunID      string         `json:"run_id" yaml:"run_id"`
	Operation  core.Operation `json:"operation" yaml:"operation"`
	Input      string         `json:"input,omitempty" yaml:"input,omitempty"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Total      int            `json:"total" yaml:"total"`
	Failures   int            `json:"failures" yaml:"failures"`
	Aborted    bool           `json:"aborted,omitempty" yaml:"aborted,omitempty"`
}

// OutcomeQuery filters journaled outcomes. Empty fields match everything.
type OutcomeQuery struct {
	RunID       string
	RequesterID core.RequesterID
	Operation   core.Operation
	Status      core.Status
	Since       time.Time
	Before      time.Time
	Limit       int
}

func (q OutcomeQuery) whereClause() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if runID := strings.TrimSpace(q.RunID); runID != "" {
		clauses = append(clauses, "run_id = ?")
		args = append(args, runID)
	}
	if q.RequesterID != 0 {
		clauses = append(clauses, "(requester_id = ? OR secondary_id = ?)")
		args = append(args, int64(q.RequesterID), int64(q.RequesterID))
	}
	if q.Operation != "" {
		clauses = append(clauses, "operation = ?")
		args = append(args, string(q.Operation))
	}
	if q.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(q.Status))
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "resolved_at >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if !q.Before.IsZero() {
		clauses = append(clauses, "resolved_at < ?")
		args = append(args, q.Before.UnixMilli())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, summary *core.RunSummary) error {
	if err := s.ready(); err != nil {
		return err
	}
	if summary == nil {
		return errors.New("run summary is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (run_id, operation, input, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			operation = excluded.operation,
			input = excluded.input,
			started_at = excluded.started_at
	`, summary.RunID, string(summary.Operation), summary.Input, summary.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun stores the final counts of a run.
func (s *Store) FinishRun(ctx context.Context, summary *core.RunSummary) error {
	if err := s.ready(); err != nil {
		return err
	}
	if summary == nil {
		return errors.New("run summary is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	finishedAt := summary.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (run_id, operation, input, started_at, finished_at, total, failures, aborted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			total = excluded.total,
			failures = excluded.failures,
			aborted = excluded.aborted
	`, summary.RunID, string(summary.Operation), summary.Input, summary.StartedAt.UnixMilli(),
		finishedAt.UnixMilli(), summary.Total(), summary.Failures(), boolToInt(summary.Aborted))
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecordOutcome appends an outcome to the journal.
func (s *Store) RecordOutcome(ctx context.Context, outcome *core.Outcome) error {
	if err := s.ready(); err != nil {
		return err
	}
	if outcome == nil {
		return errors.New("outcome is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var emails sql.NullString
	if len(outcome.Emails) > 0 {
		data, err := json.Marshal(outcome.Emails)
		if err != nil {
			return fmt.Errorf("encode emails: %w", err)
		}
		emails = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO outcomes (
			id, run_id, operation, requester_id, secondary_id, row_ref, status, step,
			status_code, message, response_body, recovered, left_reactivated,
			requested_at, resolved_at, emails
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		outcome.ID,
		nullString(outcome.RunID),
		string(outcome.Operation),
		nullInt(int64(outcome.RequesterID)),
		nullInt(int64(outcome.SecondaryID)),
		nullString(outcome.RowRef),
		string(outcome.Status),
		nullString(outcome.Step),
		nullInt(int64(outcome.StatusCode)),
		nullString(outcome.Message),
		nullString(outcome.Body),
		boolToInt(outcome.Recovered),
		boolToInt(outcome.LeftReactivated),
		outcome.RequestedAt.UnixMilli(),
		outcome.ResolvedAt.UnixMilli(),
		emails,
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// Report journals the outcome so the store can sit in a reporter chain.
func (s *Store) Report(ctx context.Context, outcome *core.Outcome) error {
	return s.RecordOutcome(ctx, outcome)
}

// ListOutcomes returns matching outcomes, newest first.
func (s *Store) ListOutcomes(ctx context.Context, q OutcomeQuery) ([]*core.Outcome, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args := q.whereClause()
	limit := ""
	if q.Limit > 0 {
		limit = "LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, run_id, operation, requester_id, secondary_id, row_ref, status, step,
			status_code, message, response_body, recovered, left_reactivated,
			requested_at, resolved_at, emails
		FROM outcomes
		%s
		ORDER BY resolved_at DESC, id
		%s
	`, where, limit), args...)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	outcomes := []*core.Outcome{}
	for rows.Next() {
		var (
			id, operation, status string
			runID, rowRef, step   sql.NullString
			message, body, emails sql.NullString
			requesterID           sql.NullInt64
			secondaryID           sql.NullInt64
			statusCode            sql.NullInt64
			recovered, left       int
			requestedAt           int64
			resolvedAt            int64
		)
		if err := rows.Scan(&id, &runID, &operation, &requesterID, &secondaryID, &rowRef, &status, &step,
			&statusCode, &message, &body, &recovered, &left, &requestedAt, &resolvedAt, &emails); err != nil {
			return nil, fmt.Errorf("scan outcomes: %w", err)
		}

		outcome := &core.Outcome{
			ID:              id,
			RunID:           runID.String,
			Operation:       core.Operation(operation),
			RequesterID:     core.RequesterID(requesterID.Int64),
			SecondaryID:     core.RequesterID(secondaryID.Int64),
			RowRef:          rowRef.String,
			Status:          core.Status(status),
			Step:            step.String,
			StatusCode:      int(statusCode.Int64),
			Message:         message.String,
			Body:            body.String,
			Recovered:       recovered != 0,
			LeftReactivated: left != 0,
			RequestedAt:     time.UnixMilli(requestedAt).UTC(),
			ResolvedAt:      time.UnixMilli(resolvedAt).UTC(),
		}
		if emails.Valid && emails.String != "" {
			if err := json.Unmarshal([]byte(emails.String), &outcome.Emails); err != nil {
				return nil, fmt.Errorf("decode emails for outcome %s: %w", id, err)
			}
		}
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}

	return outcomes, nil
}

// CountOutcomes returns the number of outcomes matching q. Limit is ignored.
func (s *Store) CountOutcomes(ctx context.Context, q OutcomeQuery) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args := q.whereClause()
	var count int
	if err := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM outcomes %s`, where), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count outcomes: %w", err)
	}
	return count, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT run_id, operation, input, started_at, finished_at, total, failures, aborted
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []RunEntry{}
	for rows.Next() {
		var (
			entry      RunEntry
			operation  string
			input      sql.NullString
			startedAt  int64
			finishedAt sql.NullInt64
			aborted    int
		)
		if err := rows.Scan(&entry.RunID, &operation, &input, &startedAt, &finishedAt, &entry.Total, &entry.Failures, &aborted); err != nil {
			return nil, fmt.Errorf("scan runs: %w", err)
		}
		entry.Operation = core.Operation(operation)
		entry.Input = input.String
		entry.StartedAt = time.UnixMilli(startedAt).UTC()
		if finishedAt.Valid {
			value := time.UnixMilli(finishedAt.Int64).UTC()
			entry.FinishedAt = &value
		}
		entry.Aborted = aborted != 0
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return entries, nil
}

// PruneBefore deletes outcomes and runs that finished before cutoff.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM outcomes WHERE resolved_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune outcomes: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune outcomes: %w", err)
	}

	if _, err := s.DB.ExecContext(ctx, `
		DELETE FROM runs
		WHERE started_at < ?
			AND run_id NOT IN (SELECT DISTINCT run_id FROM outcomes WHERE run_id IS NOT NULL)
	`, cutoff.UnixMilli()); err != nil {
		return affected, fmt.Errorf("prune runs: %w", err)
	}
	return affected, nil
}

func (s *Store) ready() error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	return nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullInt(value int64) sql.NullInt64 {
	return sql.NullInt64{Int64: value, Valid: value != 0}
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
