// Package metrics exposes Prometheus collectors for the extractor service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	jobsTotal          *prometheus.CounterVec
	jobAttemptsTotal   *prometheus.CounterVec
	queueDepth         prometheus.Gauge
	activeWorkers      prometheus.Gauge
	rateLimitDeniedTotal *prometheus.CounterVec
	cookieValidationFailuresTotal *prometheus.CounterVec
	reaperBytesReclaimedTotal prometheus.Counter
	reaperFilesDeletedTotal   prometheus.Counter

	once    sync.Once
	enabled atomic.Bool
)

// Init initializes the Prometheus metrics collectors. Safe to call more
// than once.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_jobs_total",
				Help: "Total number of download jobs, labeled by terminal state and provider.",
			},
			[]string{"state", "provider"},
		)

		jobAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_job_attempts_total",
				Help: "Total number of extractor invocation attempts, labeled by provider.",
			},
			[]string{"provider"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "extractor_queue_depth",
				Help: "Current number of jobs waiting in the scheduler queue.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "extractor_active_workers",
				Help: "Number of worker contexts currently running an extractor subprocess.",
			},
		)

		rateLimitDeniedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_rate_limit_denied_total",
				Help: "Total number of admission requests denied by the token bucket limiter, labeled by category.",
			},
			[]string{"category"},
		)

		cookieValidationFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_cookie_validation_failures_total",
				Help: "Total number of failed cookie validation probes, labeled by provider.",
			},
			[]string{"provider"},
		)

		reaperBytesReclaimedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "extractor_reaper_bytes_reclaimed_total",
				Help: "Total bytes reclaimed by the storage reaper.",
			},
		)

		reaperFilesDeletedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "extractor_reaper_files_deleted_total",
				Help: "Total files deleted by the storage reaper.",
			},
		)

		enabled.Store(true)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics. A no-op until
// Init has run, so callers need not gate on monitoring being enabled.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if !enabled.Load() {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJobTerminal records a job reaching COMPLETED or FAILED.
func ObserveJobTerminal(state, provider string) {
	if !enabled.Load() {
		return
	}
	jobsTotal.WithLabelValues(state, provider).Inc()
}

// ObserveJobAttempt records one extractor invocation attempt.
func ObserveJobAttempt(provider string) {
	if !enabled.Load() {
		return
	}
	jobAttemptsTotal.WithLabelValues(provider).Inc()
}

// SetQueueDepth reports the scheduler's current queue depth.
func SetQueueDepth(depth int) {
	if !enabled.Load() {
		return
	}
	queueDepth.Set(float64(depth))
}

// IncActiveWorkers increments the active-worker gauge.
func IncActiveWorkers() {
	if !enabled.Load() {
		return
	}
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active-worker gauge.
func DecActiveWorkers() {
	if !enabled.Load() {
		return
	}
	activeWorkers.Dec()
}

// ObserveRateLimitDenied records one admission denial for category.
func ObserveRateLimitDenied(category string) {
	if !enabled.Load() {
		return
	}
	rateLimitDeniedTotal.WithLabelValues(category).Inc()
}

// ObserveCookieValidationFailure records one failed liveness probe for
// provider.
func ObserveCookieValidationFailure(provider string) {
	if !enabled.Load() {
		return
	}
	cookieValidationFailuresTotal.WithLabelValues(provider).Inc()
}

// ObserveReap records the outcome of one StorageReaper run.
func ObserveReap(filesDeleted int, bytesReclaimed int64) {
	if !enabled.Load() {
		return
	}
	reaperFilesDeletedTotal.Add(float64(filesDeleted))
	reaperBytesReclaimedTotal.Add(float64(bytesReclaimed))
}
