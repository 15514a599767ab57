// Package errors builds gofulmen error envelopes for command failures and
// maps them to semantic exit codes.
package errors

import (
	"context"
	stderrors "errors"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
)

// Error codes used by requesterctl commands.
const (
	CodeInvalidInput    = "INVALID_INPUT"
	CodeFileNotFound    = "FILE_NOT_FOUND"
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeDatabase        = "DATABASE_ERROR"
	CodeDataProcessing  = "DATA_PROCESSING_ERROR"
	CodeExternalService = "EXTERNAL_SERVICE_ERROR"
	CodeBatchFailures   = "BATCH_FAILURES"
	CodeInterrupted     = "INTERRUPTED"
	CodeInternal        = "INTERNAL_ERROR"
)

type runIDKey struct{}

// WithRunID stores the batch run ID on ctx so envelopes can carry it.
func WithRunID(ctx context.Context, runID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the run ID stored on ctx, if any.
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if runID, ok := ctx.Value(runIDKey{}).(string); ok {
		return runID
	}
	return ""
}

func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeConfigInvalid, message)
}

func NewBatchFailuresError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeBatchFailures, message)
}

func WrapInvalidInput(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInvalidInput, err, message)
}

func WrapFileNotFound(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeFileNotFound, err, message)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeConfigInvalid, err, message)
}

func WrapDatabaseError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeDatabase, err, message)
}

func WrapDataProcessing(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeDataProcessing, err, message)
}

func WrapExternalService(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeExternalService, err, message)
}

func WrapInterrupted(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInterrupted, err, message)
}

func wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	envelope = envelope.WithTraceID(extractCorrelationID(ctx))
	return withWrappedError(envelope, err)
}

// extractCorrelationID uses the run ID when present and falls back to a new UUID.
func extractCorrelationID(ctx context.Context) string {
	if runID := RunID(ctx); runID != "" {
		return runID
	}
	return uuid.New().String()
}

// EnsureEnvelope normalizes any error into a gofulmen ErrorEnvelope.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}

	code := CodeInternal
	switch {
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		code = CodeInterrupted
	case stderrors.Is(err, os.ErrNotExist):
		code = CodeFileNotFound
	}

	env := errors.NewErrorEnvelope(code, err.Error())
	env = withWrappedError(env, err)
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// ExitCodeFor resolves the foundry exit code for an envelope.
func ExitCodeFor(envelope *errors.ErrorEnvelope) foundry.ExitCode {
	if envelope == nil {
		return foundry.ExitFailure
	}
	switch envelope.Code {
	case CodeConfigInvalid, CodeInvalidInput:
		return foundry.ExitConfigInvalid
	case CodeFileNotFound:
		return foundry.ExitFileNotFound
	case CodeExternalService:
		return foundry.ExitExternalServiceUnavailable
	default:
		return foundry.ExitFailure
	}
}

func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}

	updated, updateErr := envelope.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	if updateErr != nil {
		return envelope
	}
	return updated
}
