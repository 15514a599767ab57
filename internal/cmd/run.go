package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deskops/requesterctl/internal/config"
	"github.com/deskops/requesterctl/internal/core"
	"github.com/deskops/requesterctl/internal/core/batch"
	"github.com/deskops/requesterctl/internal/core/engine"
	"github.com/deskops/requesterctl/internal/core/requester"
	"github.com/deskops/requesterctl/internal/core/store"
	errwrap "github.com/deskops/requesterctl/internal/errors"
	"github.com/deskops/requesterctl/internal/input"
	"github.com/deskops/requesterctl/internal/metrics"
	"github.com/deskops/requesterctl/internal/observability"
	"github.com/deskops/requesterctl/internal/output"
)

// runOptions carries everything a run needs besides the operation itself.
type runOptions struct {
	Config     *config.Config
	Format     output.Format
	Out        io.Writer
	Logger     *logging.Logger
	HTTPClient *http.Client
	Clock      func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error
}

// runOptionsFromFlags builds run options from the global flags. The returned
// close function releases the --out file.
func runOptionsFromFlags(cmd *cobra.Command) (runOptions, func() error, error) {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return runOptions{}, nil, errwrap.WrapInvalidInput(cmd.Context(), err, "invalid --output-format")
	}
	outPath, err := resolveOutputPath(cmd)
	if err != nil {
		return runOptions{}, nil, err
	}
	sink, err := openSink(outPath, cmd.OutOrStdout())
	if err != nil {
		return runOptions{}, nil, errwrap.WrapInvalidInput(cmd.Context(), err, "cannot open --out file")
	}
	return runOptions{
		Config: config.GetConfig(),
		Format: format,
		Out:    sink.writer,
		Logger: observability.CLILogger,
	}, sink.close, nil
}

// runOperation executes one batch: read the input, run every row through the
// requester client and report outcomes to the console, the journal, the
// metrics recorder and (for replace-secondary-emails) the CSV result logs.
func runOperation(ctx context.Context, spec operationSpec, path string, opts runOptions) (*core.RunSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, errwrap.WrapConfigInvalid(ctx, err, "configuration is incomplete")
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	runID := uuid.New().String()
	ctx = errwrap.WithRunID(ctx, runID)
	log := opts.Logger

	recorder, err := metrics.NewRecorder()
	if err != nil {
		return nil, err
	}

	reporters := batch.MultiReporter{consoleReporter{logger: log}, recorder}

	var journal *store.Store
	if cfg.Journal.Enabled {
		journal, err = openJournal(ctx, cfg.Journal)
		if err != nil {
			return nil, errwrap.WrapDatabaseError(ctx, err, "failed to open outcome journal")
		}
		defer journal.Close() // nolint:errcheck // best-effort cleanup
		reporters = append(reporters, journal)
	}

	var resultLogs *output.ResultLogs
	if spec.ResultLogs {
		resultLogs, err = output.OpenResultLogs(path)
		if err != nil {
			return nil, errwrap.WrapDataProcessing(ctx, err, "failed to open result logs")
		}
		defer resultLogs.Close() // nolint:errcheck // closed explicitly below; this covers early returns
		reporters = append(reporters, resultLogs)
		errorPath, successPath := output.ResultLogPaths(path)
		logInfo(log, "Writing result logs", zap.String("errors", errorPath), zap.String("successes", successPath))
	}

	runner := &batch.Runner{
		Operation: spec.Operation,
		Input:     path,
		Reporter:  reporters,
		Clock:     opts.Clock,
		RunID:     runID,
		OnReportError: func(outcome *core.Outcome, err error) {
			logWarn(log, "Failed to report outcome",
				zap.String("subject", outcome.Subject()),
				zap.Error(err))
		},
	}

	finish := func(summary *core.RunSummary) {
		if journal != nil {
			if err := journal.FinishRun(ctx, summary); err != nil {
				logWarn(log, "Failed to finish journal run", zap.Error(err))
			}
		}
		recorder.ObserveRun(summary)
		if err := recorder.WriteFile(cfg.Metrics.File); err != nil {
			logWarn(log, "Failed to write metrics file", zap.Error(err))
		}
		if resultLogs != nil {
			if err := resultLogs.Close(); err != nil {
				logWarn(log, "Failed to close result logs", zap.Error(err))
			}
		}
	}

	if journal != nil {
		if err := journal.BeginRun(ctx, &core.RunSummary{
			RunID:     runID,
			Operation: spec.Operation,
			Input:     path,
			StartedAt: now(opts.Clock),
		}); err != nil {
			logWarn(log, "Failed to record journal run", zap.Error(err))
		}
	}

	rows, readErr := readRows(spec, path)
	if readErr != nil {
		var fileErr *input.FileError
		if !stderrors.As(readErr, &fileErr) {
			return nil, errwrap.WrapDataProcessing(ctx, readErr, fmt.Sprintf("failed to read %s", path))
		}
		summary := runner.Reject(ctx, fileErr.Check, fileErr)
		finish(summary)
		if err := printSummary(opts, summary); err != nil {
			return summary, err
		}
		if fileErr.Check == input.CheckCSVExists {
			return summary, errwrap.WrapFileNotFound(ctx, fileErr, fmt.Sprintf("input file not found: %s", path))
		}
		return summary, errwrap.WrapDataProcessing(ctx, fileErr, fmt.Sprintf("input file rejected: %s", path))
	}

	logInfo(log, "Starting run",
		zap.String("run_id", runID),
		zap.String("operation", string(spec.Operation)),
		zap.String("input", path),
		zap.Int("rows", len(rows)))

	dispatcher := newDispatcher(cfg, opts, engine.ChainHooks(logHooks(log), recorder.Hooks()))
	client := &requester.Client{Dispatcher: dispatcher, Clock: opts.Clock}

	summary, runErr := runner.Run(ctx, rows, spec.Task(client))
	finish(summary)
	if err := printSummary(opts, summary); err != nil {
		return summary, err
	}
	if runErr != nil {
		return summary, errwrap.WrapInterrupted(ctx, runErr, "run aborted before all rows were processed")
	}

	logInfo(log, "Run finished",
		zap.String("run_id", runID),
		zap.Int("total", summary.Total()),
		zap.Int("failures", summary.Failures()),
		zap.Duration("duration", summary.Duration()))
	return summary, nil
}

func readRows(spec operationSpec, path string) ([]input.Row, error) {
	f, err := input.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() // nolint:errcheck // read-only file

	rows, err := spec.Read(f)
	if err != nil {
		var fileErr *input.FileError
		if stderrors.As(err, &fileErr) {
			fileErr.Path = path
			return nil, fileErr
		}
		if stderrors.Is(err, input.ErrNoIDs) {
			return nil, &input.FileError{Path: path, Check: input.CheckCSVFile, Err: err}
		}
		return nil, err
	}
	return rows, nil
}

func newDispatcher(cfg *config.Config, opts runOptions, hooks engine.Hooks) *engine.Dispatcher {
	rl := cfg.RateLimit

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.API.Timeout}
	}

	retry := engine.RetryPolicy{
		MaxTransportRetries: rl.MaxTransportRetries,
		MaxRateLimitRetries: rl.MaxRateLimitRetries,
	}
	if rl.TransportBackoff > 0 {
		retry.TransportBackoff = engine.FixedBackoff(rl.TransportBackoff)
	}

	signals := engine.DefaultSignalPolicy()
	signals.LowRemaining = rl.LowRemainingThreshold
	if rl.LowRemainingPause > 0 {
		signals.LowRemainingPause = rl.LowRemainingPause
	}
	if rl.DefaultRetryAfter > 0 {
		signals.DefaultRetryAfter = rl.DefaultRetryAfter
	}

	return &engine.Dispatcher{
		BaseURL: cfg.API.URL,
		APIKey:  cfg.API.Key,
		Client:  client,
		Budget:  engine.NewRateBudget(rl.MaxPerMinute, rl.Window),
		Retry:   retry,
		Signals: signals,
		Hooks:   hooks,
		Clock:   opts.Clock,
		Sleep:   opts.Sleep,
	}
}

func printSummary(opts runOptions, summary *core.RunSummary) error {
	rendered, err := output.NewFormatter(opts.Format).FormatSummary(summary)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(rendered, "\n") {
		rendered += "\n"
	}
	_, err = io.WriteString(opts.Out, rendered)
	return err
}

func now(clock func() time.Time) time.Time {
	if clock != nil {
		return clock()
	}
	return time.Now().UTC()
}
