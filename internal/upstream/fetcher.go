package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/resmoray/nomad-weather-map/internal/circuitbreaker"
	"github.com/resmoray/nomad-weather-map/internal/observability"
)

var (
	// ErrRateLimited marks a 429 response. Seeing it aborts the baseline-year
	// loop in the summary builder.
	ErrRateLimited = errors.New("rate limited by upstream")

	// ErrBadRequest marks a 400 response. The climate loader uses it to fall
	// back to alternate field-name variants instead of retrying.
	ErrBadRequest = errors.New("upstream rejected request")

	// ErrUpstream marks transient upstream failures (retryable 5xx, timeouts,
	// network resets).
	ErrUpstream = errors.New("upstream failure")
)

// retryableStatuses are retried with exponential backoff.
var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusTooEarly:            true, // 425
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// Fetcher performs one upstream JSON GET per call, paced through the shared
// Scheduler, with per-attempt timeout and bounded retry.
type Fetcher struct {
	scheduler           *Scheduler
	client              *http.Client
	breaker             *circuitbreaker.CircuitBreaker
	timeout             time.Duration
	attempts            int
	baseDelay           time.Duration
	minRateLimitBackoff time.Duration
	logger              *zap.Logger
}

// FetcherOptions configures retry policy. Zero values use the defaults from
// the configuration table.
type FetcherOptions struct {
	Timeout             time.Duration
	Attempts            int
	BaseDelay           time.Duration
	MinRateLimitBackoff time.Duration
}

// NewFetcher creates a Fetcher on top of the shared scheduler.
func NewFetcher(scheduler *Scheduler, opts FetcherOptions, logger *zap.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 12 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 900 * time.Millisecond
	}
	if opts.MinRateLimitBackoff <= 0 {
		opts.MinRateLimitBackoff = 45 * time.Second
	}
	return &Fetcher{
		scheduler:           scheduler,
		client:              &http.Client{},
		timeout:             opts.Timeout,
		attempts:            opts.Attempts,
		baseDelay:           opts.BaseDelay,
		minRateLimitBackoff: opts.MinRateLimitBackoff,
		logger:              logger,
	}
}

// SetCircuitBreaker installs a breaker in front of the scheduler so an open
// circuit fails fast without consuming the outbound slot.
func (f *Fetcher) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	f.breaker = cb
}

// Scheduler returns the shared scheduler (the loaders never need it, but the
// health surface reports its cooldown).
func (f *Fetcher) Scheduler() *Scheduler {
	return f.scheduler
}

// FetchJSON performs a GET against rawURL and decodes the JSON body into out.
// family is the stable metrics label (climate, air, marine); label names the
// family and range for error messages, e.g. "Climate API (2024-06)".
func (f *Fetcher) FetchJSON(ctx context.Context, family, label, rawURL string, out any) error {
	var lastErr error
	var retryAfter time.Duration

	for attempt := 1; attempt <= f.attempts; attempt++ {
		if attempt > 1 {
			observability.UpstreamRetriesTotal.Inc()
			delay := f.backoff(attempt - 1)
			if retryAfter > delay {
				delay = retryAfter
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		retryAfter = 0

		err := f.attempt(ctx, family, label, rawURL, out, &retryAfter)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		if f.logger != nil {
			f.logger.Debug("upstream attempt failed",
				zap.String("label", label),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}
	return fmt.Errorf("exhausted retries: %w", lastErr)
}

// attempt runs one scheduled request. A positive retryAfter is reported back
// so the retry delay honors the Retry-After header.
func (f *Fetcher) attempt(ctx context.Context, family, label, rawURL string, out any, retryAfter *time.Duration) error {
	run := func() error {
		return f.doRequest(ctx, family, label, rawURL, out, retryAfter)
	}
	if f.breaker != nil {
		return f.breaker.Call(ctx, func() error {
			return f.scheduler.Run(ctx, run)
		})
	}
	return f.scheduler.Run(ctx, run)
}

func (f *Fetcher) doRequest(ctx context.Context, family, label, rawURL string, out any, retryAfter *time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", label, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.UpstreamRequestsTotal.WithLabelValues(family, "error").Inc()
		observability.UpstreamRequestDuration.WithLabelValues(family, "error").Observe(duration)
		if ctx.Err() != nil {
			// Parent cancellation is not an upstream fault.
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: request timeout after %s: %w", label, f.timeout, ErrUpstream)
		}
		return fmt.Errorf("%s: request failed: %v: %w", label, err, ErrUpstream)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamRequestsTotal.WithLabelValues(family, status).Inc()
	observability.UpstreamRequestDuration.WithLabelValues(family, status).Observe(duration)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s: read response body: %v: %w", label, err, ErrUpstream)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s: parse response: %w", label, err)
		}
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		ra := parseRetryAfter(resp.Header.Get("Retry-After"))
		cooldown := ra
		if cooldown < f.minRateLimitBackoff {
			cooldown = f.minRateLimitBackoff
		}
		f.scheduler.ExtendCooldown(cooldown)
		*retryAfter = ra
		if f.logger != nil {
			f.logger.Warn("upstream rate limit",
				zap.String("label", label),
				zap.Duration("retry_after", ra),
				zap.Duration("cooldown", cooldown))
		}
		return fmt.Errorf("%s failed with status 429: %w", label, ErrRateLimited)

	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%s failed with status 400: %w", label, ErrBadRequest)

	case retryableStatuses[resp.StatusCode]:
		return fmt.Errorf("%s failed with status %d: %w", label, resp.StatusCode, ErrUpstream)

	default:
		return fmt.Errorf("%s failed with status %d", label, resp.StatusCode)
	}
}

// backoff returns base × 2^(retries−1) plus uniform jitter in [0, base).
func (f *Fetcher) backoff(retries int) time.Duration {
	delay := float64(f.baseDelay) * math.Pow(2, float64(retries-1))
	jitter := float64(f.baseDelay) * rand.Float64()
	return time.Duration(delay + jitter)
}

// isRetryable reports whether the error is transient.
func isRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstream)
}

// parseRetryAfter accepts seconds or an HTTP date. Returns 0 when absent or
// unparseable.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}
