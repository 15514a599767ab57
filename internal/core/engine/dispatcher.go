package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/deskops/requesterctl/internal/core"
)

// ErrRetriesExhausted is returned when a bounded RetryPolicy gives up.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Request describes one call against the helpdesk API.
type Request struct {
	Method string
	// Path is resolved against the dispatcher's BaseURL.
	Path   string
	Query  url.Values
	Header http.Header
	// Body is JSON-encoded when non-nil.
	Body any
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Signal     core.RateLimitSignal
	// Attempts counts sends, including transport failures and 429 retries.
	Attempts int
}

// Text returns the response body as a string.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	if r == nil || len(r.Body) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// RetryPolicy bounds the dispatcher's retry loops. Zero values retry
// forever with a fixed five second transport backoff.
type RetryPolicy struct {
	// MaxTransportRetries caps consecutive transport failures (0 = unlimited).
	MaxTransportRetries int
	// MaxRateLimitRetries caps 429 retries for one request (0 = unlimited).
	MaxRateLimitRetries int
	// TransportBackoff returns the wait after the n-th transport failure.
	TransportBackoff func(attempt int) time.Duration
}

// DefaultTransportBackoff is the fixed wait after a transport failure.
const DefaultTransportBackoff = 5 * time.Second

// FixedBackoff returns a backoff function that always waits d.
func FixedBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.TransportBackoff == nil {
		return DefaultTransportBackoff
	}
	return p.TransportBackoff(attempt)
}

// Hooks observe dispatcher events. Every hook is optional.
type Hooks struct {
	OnPace           func(wait time.Duration, inWindow int)
	OnResponse       func(req Request, statusCode int, remaining int, elapsed time.Duration)
	OnLowRemaining   func(remaining int, pause time.Duration)
	OnRateLimited    func(req Request, retryAfter time.Duration)
	OnTransportError func(req Request, err error, backoff time.Duration)
}

// Dispatcher sends API requests while honouring the local request budget
// and the server's rate limit signals. Calls are serialized.
type Dispatcher struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Budget  *RateBudget
	Retry   RetryPolicy
	Signals SignalPolicy
	Hooks   Hooks
	Clock   func() time.Time
	Sleep   func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
}

// Dispatch sends req and returns the first response that is not a 429.
// Transport failures are retried after a backoff; waits honour ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Response, error) {
	if d == nil {
		return nil, errors.New("dispatcher is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	target, err := d.resolve(req)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if req.Body != nil {
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	var (
		attempts          int
		transportFailures int
		rateLimited       int
	)

	for {
		if err := d.pace(ctx); err != nil {
			return nil, err
		}

		attempts++
		startedAt := d.now()
		resp, err := d.send(ctx, req, target, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			transportFailures++
			if d.Retry.MaxTransportRetries > 0 && transportFailures > d.Retry.MaxTransportRetries {
				return nil, fmt.Errorf("%s %s: %w: %w", req.Method, req.Path, ErrRetriesExhausted, err)
			}
			backoff := d.Retry.backoff(transportFailures)
			if d.Hooks.OnTransportError != nil {
				d.Hooks.OnTransportError(req, err, backoff)
			}
			if err := d.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}
		transportFailures = 0

		policy := d.Signals.withDefaults()
		resp.Signal = ParseSignal(resp.Header, resp.StatusCode, policy, d.now())
		resp.Attempts = attempts
		if d.Hooks.OnResponse != nil {
			d.Hooks.OnResponse(req, resp.StatusCode, resp.Signal.Remaining, d.now().Sub(startedAt))
		}

		if resp.Signal.Remaining < policy.LowRemaining {
			if d.Hooks.OnLowRemaining != nil {
				d.Hooks.OnLowRemaining(resp.Signal.Remaining, policy.LowRemainingPause)
			}
			if err := d.sleep(ctx, policy.LowRemainingPause); err != nil {
				return nil, err
			}
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		rateLimited++
		if d.Retry.MaxRateLimitRetries > 0 && rateLimited > d.Retry.MaxRateLimitRetries {
			return nil, fmt.Errorf("%s %s: %w: still rate limited after %d retries", req.Method, req.Path, ErrRetriesExhausted, d.Retry.MaxRateLimitRetries)
		}
		if d.Hooks.OnRateLimited != nil {
			d.Hooks.OnRateLimited(req, resp.Signal.RetryAfter)
		}
		if err := d.sleep(ctx, resp.Signal.RetryAfter); err != nil {
			return nil, err
		}
	}
}

// pace blocks until the budget admits another send, then records it.
func (d *Dispatcher) pace(ctx context.Context) error {
	if d.Budget == nil {
		return nil
	}
	for {
		now := d.now()
		wait := d.Budget.Wait(now)
		if wait <= 0 {
			d.Budget.Record(now)
			return nil
		}
		if d.Hooks.OnPace != nil {
			d.Hooks.OnPace(wait, d.Budget.InWindow(now))
		}
		if err := d.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, req Request, target string, payload []byte) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if httpReq.Header.Get("Content-Type") == "" && (payload != nil || req.Method == http.MethodPut) {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.SetBasicAuth(d.APIKey, "")

	resp, err := d.client().Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (d *Dispatcher) resolve(req Request) (string, error) {
	if strings.TrimSpace(req.Method) == "" {
		return "", errors.New("request method is required")
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(d.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid base url %q", d.BaseURL)
	}

	target := *base
	target.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}
	return target.String(), nil
}

func (d *Dispatcher) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (d *Dispatcher) sleep(ctx context.Context, wait time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep(ctx, wait)
	}
	return SleepContext(ctx, wait)
}

func (d *Dispatcher) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now().UTC()
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ChainHooks returns Hooks that call each of hooks in order.
func ChainHooks(hooks ...Hooks) Hooks {
	return Hooks{
		OnPace: func(wait time.Duration, inWindow int) {
			for _, h := range hooks {
				if h.OnPace != nil {
					h.OnPace(wait, inWindow)
				}
			}
		},
		OnResponse: func(req Request, statusCode int, remaining int, elapsed time.Duration) {
			for _, h := range hooks {
				if h.OnResponse != nil {
					h.OnResponse(req, statusCode, remaining, elapsed)
				}
			}
		},
		OnLowRemaining: func(remaining int, pause time.Duration) {
			for _, h := range hooks {
				if h.OnLowRemaining != nil {
					h.OnLowRemaining(remaining, pause)
				}
			}
		},
		OnRateLimited: func(req Request, retryAfter time.Duration) {
			for _, h := range hooks {
				if h.OnRateLimited != nil {
					h.OnRateLimited(req, retryAfter)
				}
			}
		},
		OnTransportError: func(req Request, err error, backoff time.Duration) {
			for _, h := range hooks {
				if h.OnTransportError != nil {
					h.OnTransportError(req, err, backoff)
				}
			}
		},
	}
}
