package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestFetcher(t *testing.T, opts FetcherOptions) *Fetcher {
	t.Helper()
	if opts.BaseDelay == 0 {
		opts.BaseDelay = time.Millisecond
	}
	if opts.MinRateLimitBackoff == 0 {
		opts.MinRateLimitBackoff = 10 * time.Millisecond
	}
	return NewFetcher(NewScheduler(0), opts, zap.NewNop())
}

// TestFetchJSONSuccess verifies a 200 response decodes into out.
func TestFetchJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value": 42}`))
	}))
	defer srv.Close()

	f := newTestFetcher(t, FetcherOptions{})
	var out struct {
		Value int `json:"value"`
	}
	if err := f.FetchJSON(context.Background(), "climate", "Climate API (2024-06)", srv.URL, &out); err != nil {
		t.Fatalf("FetchJSON() error = %v", err)
	}
	if out.Value != 42 {
		t.Errorf("decoded value = %d, want 42", out.Value)
	}
}

// TestFetchJSONRetriesTransient verifies 503 then 200 succeeds on retry.
func TestFetchJSONRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newTestFetcher(t, FetcherOptions{Attempts: 3})
	var out map[string]any
	if err := f.FetchJSON(context.Background(), "climate", "Climate API (2024-06)", srv.URL, &out); err != nil {
		t.Fatalf("FetchJSON() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

// TestFetchJSONBadRequestNotRetried verifies 400 surfaces immediately with
// ErrBadRequest so the climate loader can fall back to alternate field names.
func TestFetchJSONBadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f := newTestFetcher(t, FetcherOptions{Attempts: 3})
	var out map[string]any
	err := f.FetchJSON(context.Background(), "climate", "Climate API (2024-06)", srv.URL, &out)
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("FetchJSON() error = %v, want ErrBadRequest", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (no retry on 400)", got)
	}
}

// TestFetchJSONNonRetryable4xx verifies other 4xx surface without retry or sentinel.
func TestFetchJSONNonRetryable4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := newTestFetcher(t, FetcherOptions{Attempts: 3})
	var out map[string]any
	err := f.FetchJSON(context.Background(), "air", "Air API (2024-06)", srv.URL, &out)
	if err == nil {
		t.Fatal("FetchJSON() = nil, want error")
	}
	if errors.Is(err, ErrUpstream) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrBadRequest) {
		t.Errorf("403 wrongly classified: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

// TestFetchJSONRateLimitExtendsCooldown verifies a 429 with Retry-After
// extends the shared cooldown to at least the advertised duration.
func TestFetchJSONRateLimitExtendsCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sched := NewScheduler(0)
	f := NewFetcher(sched, FetcherOptions{
		Attempts:            1,
		BaseDelay:           time.Millisecond,
		MinRateLimitBackoff: 10 * time.Millisecond,
	}, zap.NewNop())

	var out map[string]any
	err := f.FetchJSON(context.Background(), "climate", "Climate API (2024-06)", srv.URL, &out)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("FetchJSON() error = %v, want ErrRateLimited", err)
	}
	if rem := sched.CooldownRemaining(); rem < 55*time.Second {
		t.Errorf("CooldownRemaining() = %v, want >= ~60s from Retry-After", rem)
	}
}

// TestFetchJSONRateLimitMinBackoff verifies the minimum cooldown applies when
// Retry-After is missing.
func TestFetchJSONRateLimitMinBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sched := NewScheduler(0)
	f := NewFetcher(sched, FetcherOptions{
		Attempts:            1,
		BaseDelay:           time.Millisecond,
		MinRateLimitBackoff: 30 * time.Second,
	}, zap.NewNop())

	var out map[string]any
	if err := f.FetchJSON(context.Background(), "climate", "x", srv.URL, &out); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if rem := sched.CooldownRemaining(); rem < 25*time.Second {
		t.Errorf("CooldownRemaining() = %v, want >= ~30s min backoff", rem)
	}
}

// TestFetchJSONExhaustsRetries verifies the last error surfaces after the
// attempt budget.
func TestFetchJSONExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newTestFetcher(t, FetcherOptions{Attempts: 3})
	var out map[string]any
	err := f.FetchJSON(context.Background(), "marine", "Marine API (2024-06)", srv.URL, &out)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("FetchJSON() error = %v, want ErrUpstream", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("upstream calls = %d, want 3", got)
	}
}

// TestParseRetryAfter verifies both seconds and HTTP-date forms.
func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("60"); d != 60*time.Second {
		t.Errorf("parseRetryAfter(60) = %v, want 60s", d)
	}
	if d := parseRetryAfter(""); d != 0 {
		t.Errorf("parseRetryAfter(empty) = %v, want 0", d)
	}
	if d := parseRetryAfter("-5"); d != 0 {
		t.Errorf("parseRetryAfter(-5) = %v, want 0", d)
	}
	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	if d := parseRetryAfter(future); d < 80*time.Second || d > 91*time.Second {
		t.Errorf("parseRetryAfter(date) = %v, want ~90s", d)
	}
	if d := parseRetryAfter("not-a-time"); d != 0 {
		t.Errorf("parseRetryAfter(garbage) = %v, want 0", d)
	}
}
