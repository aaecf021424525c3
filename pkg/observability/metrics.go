// Package observability exposes Prometheus metrics and health checks
// for the orchestrator.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coval_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coval_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Generation metrics
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coval_generations_total",
			Help: "Total number of generation runs",
		},
		[]string{"outcome"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coval_generation_duration_seconds",
			Help:    "Generation run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	generationSteps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coval_generation_steps",
			Help:    "Steps completed per generation run",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 50},
		},
	)

	activeGenerations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coval_active_generations",
			Help: "Number of generation runs in progress",
		},
	)

	// Handle cache metrics
	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coval_sandbox_cache_hits_total",
			Help: "Total number of sandbox handle cache hits",
		},
	)

	cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coval_sandbox_cache_misses_total",
			Help: "Total number of sandbox handle cache misses",
		},
	)

	cacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coval_sandbox_cache_evictions_total",
			Help: "Total number of sandbox handles evicted by the sweep",
		},
	)

	// Tool metrics
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coval_tool_calls_total",
			Help: "Total number of tool calls executed against sandboxes",
		},
		[]string{"tool", "status"},
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coval_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			generationsTotal,
			generationDuration,
			generationSteps,
			activeGenerations,
			cacheHitsTotal,
			cacheMissesTotal,
			cacheEvictionsTotal,
			toolCallsTotal,
			toolCallDuration,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGeneration records one finished generation run
func RecordGeneration(outcome string, steps int, duration time.Duration) {
	generationsTotal.WithLabelValues(outcome).Inc()
	generationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	generationSteps.Observe(float64(steps))
}

// GenerationStarted increments the active generation gauge
func GenerationStarted() {
	activeGenerations.Inc()
}

// GenerationFinished decrements the active generation gauge
func GenerationFinished() {
	activeGenerations.Dec()
}

// RecordCacheHit records a sandbox handle cache hit
func RecordCacheHit() {
	cacheHitsTotal.Inc()
}

// RecordCacheMiss records a sandbox handle cache miss
func RecordCacheMiss() {
	cacheMissesTotal.Inc()
}

// RecordCacheEvictions records handles removed by a sweep
func RecordCacheEvictions(n int) {
	cacheEvictionsTotal.Add(float64(n))
}

// RecordToolCall records one tool call executed against a sandbox
func RecordToolCall(tool, status string, duration time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
