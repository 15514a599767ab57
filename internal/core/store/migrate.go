package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		input TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		total INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0,
		aborted INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS outcomes (
		id TEXT PRIMARY KEY,
		run_id TEXT,
		operation TEXT NOT NULL,
		requester_id INTEGER,
		secondary_id INTEGER,
		row_ref TEXT,
		status TEXT NOT NULL,
		step TEXT,
		status_code INTEGER,
		message TEXT,
		response_body TEXT,
		recovered INTEGER NOT NULL DEFAULT 0,
		left_reactivated INTEGER NOT NULL DEFAULT 0,
		requested_at INTEGER NOT NULL,
		resolved_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);`,
	`CREATE INDEX IF NOT EXISTS idx_outcomes_requester ON outcomes(requester_id);`,
	`CREATE INDEX IF NOT EXISTS idx_outcomes_resolved ON outcomes(resolved_at);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	if err := s.ensureColumn(ctx, "outcomes", "emails", "TEXT"); err != nil {
		return err
	}

	return nil
}

func (s *Store) ensureColumn(ctx context.Context, table, column, columnDef string) error {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s schema: %w", table, err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("inspect %s columns: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s columns: %w", table, err)
	}

	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, columnDef)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}

	return nil
}
