package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/deskops/requesterctl/internal/core"
	"github.com/deskops/requesterctl/internal/core/engine"
)

// consoleReporter writes one log line per outcome.
type consoleReporter struct {
	logger *logging.Logger
}

func (r consoleReporter) Report(_ context.Context, outcome *core.Outcome) error {
	if r.logger == nil || outcome == nil {
		return nil
	}

	fields := []zap.Field{
		zap.String("operation", string(outcome.Operation)),
		zap.String("requester", outcome.Subject()),
		zap.String("status", string(outcome.Status)),
	}
	if outcome.SecondaryID != 0 {
		fields = append(fields, zap.Int64("secondary_id", int64(outcome.SecondaryID)))
	}
	if outcome.Step != "" {
		fields = append(fields, zap.String("step", outcome.Step))
	}
	if outcome.StatusCode != 0 {
		fields = append(fields, zap.Int("status_code", outcome.StatusCode))
	}
	if outcome.Recovered {
		fields = append(fields, zap.Bool("recovered", true))
	}
	if outcome.LeftReactivated {
		fields = append(fields, zap.Bool("left_reactivated", true))
	}

	msg := outcome.Message
	if msg == "" {
		msg = string(outcome.Status)
	}

	switch {
	case outcome.Status.IsFailure():
		if outcome.Body != "" {
			fields = append(fields, zap.String("response", outcome.Body))
		}
		r.logger.Error(msg, fields...)
	case outcome.Status == core.StatusSuccess:
		r.logger.Info(msg, fields...)
	default:
		r.logger.Warn(msg, fields...)
	}
	return nil
}

// logHooks surfaces dispatcher waits and retries in the CLI log.
func logHooks(logger *logging.Logger) engine.Hooks {
	if logger == nil {
		return engine.Hooks{}
	}
	return engine.Hooks{
		OnPace: func(wait time.Duration, inWindow int) {
			logger.Info("Request budget exhausted, waiting",
				zap.Duration("wait", wait),
				zap.Int("in_window", inWindow))
		},
		OnResponse: func(req engine.Request, statusCode int, remaining int, elapsed time.Duration) {
			logger.Debug("API response",
				zap.String("method", req.Method),
				zap.String("path", req.Path),
				zap.Int("status_code", statusCode),
				zap.Int("ratelimit_remaining", remaining),
				zap.Duration("elapsed", elapsed))
		},
		OnLowRemaining: func(remaining int, pause time.Duration) {
			logger.Warn("Approaching the API rate limit, pausing",
				zap.Int("ratelimit_remaining", remaining),
				zap.Duration("pause", pause))
		},
		OnRateLimited: func(req engine.Request, retryAfter time.Duration) {
			logger.Warn("Rate limited, retrying after Retry-After",
				zap.String("method", req.Method),
				zap.String("path", req.Path),
				zap.Duration("retry_after", retryAfter))
		},
		OnTransportError: func(req engine.Request, err error, backoff time.Duration) {
			logger.Error("Request failed, retrying",
				zap.String("method", req.Method),
				zap.String("path", req.Path),
				zap.Duration("backoff", backoff),
				zap.Error(err))
		},
	}
}

func logInfo(logger *logging.Logger, msg string, fields ...zap.Field) {
	if logger != nil {
		logger.Info(msg, fields...)
	}
}

func logWarn(logger *logging.Logger, msg string, fields ...zap.Field) {
	if logger != nil {
		logger.Warn(msg, fields...)
	}
}
