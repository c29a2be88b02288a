package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Outbound Open-Meteo call rate by family (climate, air, marine). Watch for: error vs success ratio.
	UpstreamRequestsTotal *prometheus.CounterVec

	// Upstream latency per request. Watch for: p95 > 2s (upstream degradation), p99 > 5s (timeout risk).
	UpstreamRequestDuration *prometheus.HistogramVec

	// Retry attempts for upstream calls. Watch for: high retries = unstable upstream.
	UpstreamRetriesTotal prometheus.Counter

	// Rate-limit cooldown extensions. Watch for: we are being throttled by IP.
	UpstreamCooldownExtendedTotal prometheus.Counter

	// Summary cache hits by tier (memory, memcached, disk).
	SummaryCacheHitsTotal *prometheus.CounterVec

	// Summary cache misses (all tiers missed or entry rejected on validation).
	SummaryCacheMissesTotal prometheus.Counter

	// Snapshot entries classified stale, by reason.
	SnapshotStaleTotal *prometheus.CounterVec

	// Resolver outcomes by source (refreshed, snapshot_fresh, snapshot_stale).
	ResolveResultsTotal *prometheus.CounterVec

	// Resolver failures by category.
	ResolveErrorsTotal *prometheus.CounterVec

	// Single-flight builds that attached to an existing in-flight build.
	CoalescedBuildsTotal prometheus.Counter

	// Auto-update sweeps and their per-target outcomes.
	AutoUpdateSweepsTotal    prometheus.Counter
	AutoUpdateRefreshedTotal prometheus.Counter
	AutoUpdateErrorsTotal    prometheus.Counter

	// Inbound rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	cooldownGaugeOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamRequestsTotal",
			Help: "Total number of Open-Meteo API calls by family",
		},
		[]string{"family", "status"},
	)
	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamRequestDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"family", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for upstream calls",
		},
	)
	UpstreamCooldownExtendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upstreamCooldownExtendedTotal",
			Help: "Times the process-wide upstream cooldown was extended after a rate-limit signal",
		},
	)
	SummaryCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summaryCacheHitsTotal",
			Help: "Content-addressed summary cache hits by tier",
		},
		[]string{"tier"},
	)
	SummaryCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "summaryCacheMissesTotal",
			Help: "Content-addressed summary cache misses (includes entries rejected on validation)",
		},
	)
	SnapshotStaleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshotStaleTotal",
			Help: "Snapshot month entries classified stale, by reason",
		},
		[]string{"reason"},
	)
	ResolveResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolveResultsTotal",
			Help: "Resolver outcomes by source",
		},
		[]string{"source"},
	)
	ResolveErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolveErrorsTotal",
			Help: "Resolver failures by category",
		},
		[]string{"category"},
	)
	CoalescedBuildsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coalescedBuildsTotal",
			Help: "Summary builds that attached to an identical in-flight build",
		},
	)
	AutoUpdateSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autoUpdateSweepsTotal",
			Help: "Auto-update sweep batches started",
		},
	)
	AutoUpdateRefreshedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autoUpdateRefreshedTotal",
			Help: "Snapshot rows refreshed by the auto-updater",
		},
	)
	AutoUpdateErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autoUpdateErrorsTotal",
			Help: "Auto-update refresh failures",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by the inbound rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamRequestsTotal, UpstreamRequestDuration, UpstreamRetriesTotal,
		UpstreamCooldownExtendedTotal,
		SummaryCacheHitsTotal, SummaryCacheMissesTotal,
		SnapshotStaleTotal,
		ResolveResultsTotal, ResolveErrorsTotal, CoalescedBuildsTotal,
		AutoUpdateSweepsTotal, AutoUpdateRefreshedTotal, AutoUpdateErrorsTotal,
		RateLimitDeniedTotal,
	)
}

// RegisterCooldownGauge exposes the remaining upstream cooldown in seconds.
// Call from main once the scheduler exists.
func RegisterCooldownGauge(remaining func() float64) {
	cooldownGaugeOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "upstreamCooldownRemainingSeconds",
					Help: "Seconds until outbound upstream requests may proceed; 0 when no cooldown is active",
				},
				remaining,
			),
		)
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
