package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/deskops/requesterctl/internal/config"
	"github.com/deskops/requesterctl/internal/core"
	"github.com/deskops/requesterctl/internal/core/store"
	errwrap "github.com/deskops/requesterctl/internal/errors"
	"github.com/deskops/requesterctl/internal/output"
)

var (
	historyRun       string
	historyRequester int64
	historyStatus    string
	historyOperation string
	historySince     string
	historyLimit     int

	historyRunsLimit int

	historyPruneOlderThan string
	historyPruneYes       bool
	historyPruneDryRun    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the outcome journal",
	Long: `Inspect outcomes recorded by runs started with --journal.

The journal lives at journal.path (or journal.url for a remote libsql
database) and is shared by every run.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journaled outcomes, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return errwrap.WrapInvalidInput(ctx, err, "invalid --output-format")
		}

		query := store.OutcomeQuery{
			RunID:       strings.TrimSpace(historyRun),
			RequesterID: core.RequesterID(historyRequester),
			Limit:       historyLimit,
		}
		if value := strings.TrimSpace(historyStatus); value != "" {
			status, ok := parseStatus(value)
			if !ok {
				return errwrap.NewInvalidInputError(fmt.Sprintf("unknown status %q", value))
			}
			query.Status = status
		}
		if value := strings.TrimSpace(historyOperation); value != "" {
			op, ok := core.ParseOperation(strings.ReplaceAll(value, "-", "_"))
			if !ok {
				return errwrap.NewInvalidInputError(fmt.Sprintf("unknown operation %q", value))
			}
			query.Operation = op
		}
		if value := strings.TrimSpace(historySince); value != "" {
			since, err := parseCutoff(value, time.Now().UTC())
			if err != nil {
				return errwrap.WrapInvalidInput(ctx, err, "invalid --since")
			}
			query.Since = since
		}

		return withHistorySink(cmd, func(db *store.Store, w io.Writer) error {
			outcomes, err := db.ListOutcomes(ctx, query)
			if err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "failed to list outcomes")
			}
			rendered, err := output.NewFormatter(format).FormatOutcomes(outcomes)
			if err != nil {
				return err
			}
			return writeLine(w, rendered)
		})
	},
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List journaled runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return errwrap.WrapInvalidInput(ctx, err, "invalid --output-format")
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return errwrap.NewInvalidInputError(fmt.Sprintf("unsupported output format: %s", format))
		}

		return withHistorySink(cmd, func(db *store.Store, w io.Writer) error {
			entries, err := db.ListRuns(ctx, historyRunsLimit)
			if err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "failed to list runs")
			}
			return writeRuns(format, w, entries)
		})
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete journaled outcomes older than a cutoff",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return errwrap.WrapInvalidInput(ctx, err, "invalid --output-format")
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return errwrap.NewInvalidInputError(fmt.Sprintf("unsupported output format: %s", format))
		}

		value := strings.TrimSpace(historyPruneOlderThan)
		if value == "" {
			return errwrap.NewInvalidInputError("--older-than is required")
		}
		cutoff, err := parseCutoff(value, time.Now().UTC())
		if err != nil {
			return errwrap.WrapInvalidInput(ctx, err, "invalid --older-than")
		}
		if !historyPruneYes && !historyPruneDryRun {
			return errwrap.NewInvalidInputError("prune requires --yes (or use --dry-run)")
		}

		return withHistorySink(cmd, func(db *store.Store, w io.Writer) error {
			matched, err := db.CountOutcomes(ctx, store.OutcomeQuery{Before: cutoff})
			if err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "failed to count outcomes")
			}
			if historyPruneDryRun {
				return writePruneResult(format, w, cutoff, matched, 0, true)
			}
			deleted, err := db.PruneBefore(ctx, cutoff)
			if err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "failed to prune journal")
			}
			return writePruneResult(format, w, cutoff, matched, deleted, false)
		})
	},
}

func init() {
	historyListCmd.Flags().StringVar(&historyRun, "run", "", "Only outcomes from this run ID")
	historyListCmd.Flags().Int64Var(&historyRequester, "requester", 0, "Only outcomes touching this requester ID (primary or secondary)")
	historyListCmd.Flags().StringVar(&historyStatus, "status", "", "Only outcomes with this status")
	historyListCmd.Flags().StringVar(&historyOperation, "operation", "", "Only outcomes of this operation")
	historyListCmd.Flags().StringVar(&historySince, "since", "", "Only outcomes newer than a duration (72h, 7d) or RFC3339 time")
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 100, "Maximum outcomes to list (0 for all)")

	historyRunsCmd.Flags().IntVar(&historyRunsLimit, "limit", 20, "Maximum runs to list")

	historyPruneCmd.Flags().StringVar(&historyPruneOlderThan, "older-than", "", "Delete outcomes older than a duration (30d, 720h) or RFC3339 time")
	historyPruneCmd.Flags().BoolVar(&historyPruneYes, "yes", false, "Confirm destructive prune")
	historyPruneCmd.Flags().BoolVar(&historyPruneDryRun, "dry-run", false, "Show what would be deleted")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyRunsCmd)
	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

// withHistorySink opens the journal and the --out sink for one history command.
func withHistorySink(cmd *cobra.Command, fn func(db *store.Store, w io.Writer) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	outPath, err := resolveOutputPath(cmd)
	if err != nil {
		return err
	}

	db, err := openJournal(ctx, historyJournalConfig())
	if err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "failed to open outcome journal")
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	sink, err := openSink(outPath, cmd.OutOrStdout())
	if err != nil {
		return errwrap.WrapInvalidInput(ctx, err, "cannot open --out file")
	}
	defer func() { _ = sink.close() }()

	return fn(db, sink.writer)
}

func historyJournalConfig() config.JournalConfig {
	cfg := config.GetConfig()
	if cfg == nil {
		return config.JournalConfig{}
	}
	return cfg.Journal
}

func writeRuns(format output.Format, w io.Writer, entries []store.RunEntry) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	lines := []string{"Runs", ""}
	if len(entries) == 0 {
		lines = append(lines, "(no journaled runs)")
		_, err := fmt.Fprint(w, ascii.DrawBox(strings.Join(lines, "\n"), 0))
		return err
	}

	for _, entry := range entries {
		state := "running"
		if entry.FinishedAt != nil {
			state = "finished " + entry.FinishedAt.Format(time.RFC3339)
		}
		if entry.Aborted {
			state = "aborted"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s total=%d failures=%d (%s)",
			entry.StartedAt.Format(time.RFC3339), entry.RunID, entry.Operation,
			entry.Total, entry.Failures, state))
	}
	_, err := fmt.Fprint(w, ascii.DrawBox(strings.Join(lines, "\n"), 0))
	return err
}

func writePruneResult(format output.Format, w io.Writer, cutoff time.Time, matched int, deleted int64, dryRun bool) error {
	result := map[string]any{
		"cutoff":  cutoff.Format(time.RFC3339),
		"matched": matched,
		"deleted": deleted,
		"dry_run": dryRun,
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d outcome(s) older than %s\n", matched, cutoff.Format(time.RFC3339))
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d outcome(s) older than %s\n", deleted, matched, cutoff.Format(time.RFC3339))
	return err
}

// parseCutoff accepts an RFC3339 time or an age relative to now. Ages take Go
// duration syntax plus a whole-day "d" suffix.
func parseCutoff(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return time.Time{}, fmt.Errorf("invalid day count %q", value)
		}
		return now.Add(-time.Duration(n) * 24 * time.Hour), nil
	}
	age, err := time.ParseDuration(value)
	if err != nil {
		return time.Time{}, errors.New("expected a duration like 72h or 7d, or an RFC3339 time")
	}
	if age < 0 {
		return time.Time{}, fmt.Errorf("negative age %q", value)
	}
	return now.Add(-age), nil
}

func parseStatus(value string) (core.Status, bool) {
	normalized := strings.ReplaceAll(strings.ToLower(value), "-", "_")
	for _, status := range core.Statuses {
		if string(status) == normalized {
			return status, true
		}
	}
	return "", false
}

func writeLine(w io.Writer, rendered string) error {
	if !strings.HasSuffix(rendered, "\n") {
		rendered += "\n"
	}
	_, err := io.WriteString(w, rendered)
	return err
}
