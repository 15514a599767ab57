// Package metrics records batch run metrics with Prometheus collectors and
// exports them in the node-exporter textfile format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deskops/requesterctl/internal/core"
	"github.com/deskops/requesterctl/internal/core/engine"
)

// Namespace prefixes every metric name.
const Namespace = "requesterctl"

// Pause reasons recorded by the dispatcher hooks.
const (
	PauseBudget        = "budget"
	PauseLowRemaining  = "low_remaining"
	PauseRetryAfter    = "retry_after"
	PauseTransportWait = "transport_backoff"
)

// Recorder owns a private registry so one process can hold several runs.
type Recorder struct {
	registry *prometheus.Registry

	outcomes        *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     prometheus.Counter
	transportErrors prometheus.Counter
	pauses          *prometheus.CounterVec
	pauseSeconds    *prometheus.CounterVec
	remaining       prometheus.Gauge
	lastRun         *prometheus.GaugeVec
	runDuration     *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its collectors registered.
func NewRecorder() (*Recorder, error) {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "outcomes_total",
			Help:      "Per-row outcomes by operation and status",
		}, []string{"operation", "status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "api_requests_total",
			Help:      "API responses received by method and status code",
		}, []string{"method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Latency of API calls including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rate_limited_total",
			Help:      "429 responses received",
		}),
		transportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "transport_errors_total",
			Help:      "Requests that failed before a response arrived",
		}),
		pauses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pauses_total",
			Help:      "Dispatcher pauses by reason",
		}, []string{"reason"}),
		pauseSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pause_seconds_total",
			Help:      "Time spent paused by reason",
		}, []string{"reason"}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ratelimit_remaining",
			Help:      "Last x-ratelimit-remaining value seen",
		}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Finish time of the last run by operation",
		}, []string{"operation"}),
		runDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Duration of the last run by operation",
		}, []string{"operation"}),
	}

	collectors := []prometheus.Collector{
		r.outcomes, r.requests, r.requestDuration, r.rateLimited, r.transportErrors,
		r.pauses, r.pauseSeconds, r.remaining, r.lastRun, r.runDuration,
	}
	for _, c := range collectors {
		if err := r.registry.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, fmt.Errorf("register metrics: %w", err)
			}
		}
	}
	return r, nil
}

// Registry exposes the underlying gatherer.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Report counts one outcome.
func (r *Recorder) Report(_ context.Context, outcome *core.Outcome) error {
	if r == nil || outcome == nil {
		return nil
	}
	r.outcomes.WithLabelValues(string(outcome.Operation), string(outcome.Status)).Inc()
	return nil
}

// ObserveRun records the run's finish time and duration.
func (r *Recorder) ObserveRun(summary *core.RunSummary) {
	if r == nil || summary == nil || summary.FinishedAt.IsZero() {
		return
	}
	operation := string(summary.Operation)
	r.lastRun.WithLabelValues(operation).Set(float64(summary.FinishedAt.Unix()))
	r.runDuration.WithLabelValues(operation).Set(summary.Duration().Seconds())
}

// Hooks returns dispatcher hooks feeding this recorder.
func (r *Recorder) Hooks() engine.Hooks {
	if r == nil {
		return engine.Hooks{}
	}
	return engine.Hooks{
		OnPace: func(wait time.Duration, _ int) {
			r.pause(PauseBudget, wait)
		},
		OnResponse: func(req engine.Request, statusCode int, remaining int, elapsed time.Duration) {
			method := strings.ToUpper(req.Method)
			r.requests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
			r.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
			if remaining >= 0 {
				r.remaining.Set(float64(remaining))
			}
		},
		OnLowRemaining: func(_ int, pause time.Duration) {
			r.pause(PauseLowRemaining, pause)
		},
		OnRateLimited: func(_ engine.Request, retryAfter time.Duration) {
			r.rateLimited.Inc()
			r.pause(PauseRetryAfter, retryAfter)
		},
		OnTransportError: func(_ engine.Request, _ error, backoff time.Duration) {
			r.transportErrors.Inc()
			r.pause(PauseTransportWait, backoff)
		},
	}
}

func (r *Recorder) pause(reason string, wait time.Duration) {
	r.pauses.WithLabelValues(reason).Inc()
	r.pauseSeconds.WithLabelValues(reason).Add(wait.Seconds())
}

// WriteFile atomically writes the gathered metrics to path.
func (r *Recorder) WriteFile(path string) error {
	if r == nil || strings.TrimSpace(path) == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
