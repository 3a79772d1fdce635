// Package middleware provides HTTP middleware components for the chat relay server.
// This file contains Prometheus metrics middleware for observability.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// httpRequestsTotal counts the total number of HTTP requests processed.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDurationSeconds tracks the duration of HTTP requests, including the full stream.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path"},
	)

	// httpRequestSizeBytes tracks the size of HTTP request bodies.
	httpRequestSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_request_size_bytes",
			Help:    "Size of HTTP request bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 7), // 100B to 100MB
		},
		[]string{"method", "path"},
	)

	// activeConnections tracks the number of currently active connections.
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_active_connections",
			Help: "Number of currently active HTTP connections",
		},
	)

	activeConnectionsCount int64

	// upstreamRequests counts calls to the model provider by operation and outcome.
	upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_upstream_requests_total",
			Help: "Total upstream model calls grouped by operation and outcome",
		},
		[]string{"operation", "model", "outcome"},
	)

	// tokenUsage tracks estimated token volume for relayed turns.
	tokenUsage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_token_usage_total",
			Help: "Estimated tokens relayed to and from the model",
		},
		[]string{"model", "type"}, // type: input or output
	)

	// eventsEmitted counts stream events written to clients.
	eventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_events_emitted_total",
			Help: "Total stream events written to clients by event type",
		},
		[]string{"type"},
	)

	// speechUnits counts synthesis units by outcome.
	speechUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_speech_units_total",
			Help: "Total speech synthesis units by outcome",
		},
		[]string{"outcome"},
	)

	// cacheLookups counts in-process cache lookups.
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_cache_lookups_total",
			Help: "Total cache lookups grouped by cache and result",
		},
		[]string{"cache", "result"},
	)
	cacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatrelay_cache_size",
			Help: "Current number of entries in an in-process cache",
		},
		[]string{"cache"},
	)

	// historyWrites counts transcript persistence attempts.
	historyWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_history_writes_total",
			Help: "Transcript persistence attempts grouped by outcome",
		},
		[]string{"outcome"}, // ok, failed, coalesced
	)
	historyWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_history_write_duration_seconds",
			Help:    "Latency of transcript writes to the KV store",
			Buckets: prometheus.DefBuckets,
		},
	)

	metricsRegistered atomic.Bool
	metricsEnabled    atomic.Bool
)

// SetMetricsEnabled toggles Prometheus metrics collection.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// IsMetricsEnabled reports whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// RegisterMetrics registers all Prometheus metrics.
// It is safe to call multiple times; metrics will only be registered once.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}

	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpRequestSizeBytes,
		activeConnections,
		upstreamRequests,
		tokenUsage,
		eventsEmitted,
		speechUnits,
		cacheLookups,
		cacheSize,
		historyWrites,
		historyWriteDuration,
	)
}

// PrometheusMiddleware returns a Gin middleware that collects request count,
// duration and active connection metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.Next()
			return
		}
		RegisterMetrics()

		// Skip metrics endpoint to avoid self-referential metrics
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		atomic.AddInt64(&activeConnectionsCount, 1)
		activeConnections.Inc()
		defer func() {
			atomic.AddInt64(&activeConnectionsCount, -1)
			activeConnections.Dec()
		}()

		path := normalizePath(c.Request.URL.Path)
		method := c.Request.Method

		if c.Request.ContentLength > 0 {
			httpRequestSizeBytes.WithLabelValues(method, path).Observe(float64(c.Request.ContentLength))
		}

		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// normalizePath collapses dynamic path segments to keep label cardinality bounded.
func normalizePath(path string) string {
	switch {
	case path == "/", path == "/healthz", path == "/metrics":
		return path
	case path == "/api/chat", path == "/api/chat/ws":
		return path
	case strings.HasPrefix(path, "/api/history/"):
		return "/api/history/:sessionId"
	default:
		if len(path) > 50 {
			return path[:50] + "..."
		}
		return path
	}
}

// MetricsHandler returns the Prometheus HTTP handler for the /metrics endpoint.
func MetricsHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		RegisterMetrics()
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// GetActiveConnections returns the current number of active connections.
func GetActiveConnections() int64 {
	return atomic.LoadInt64(&activeConnectionsCount)
}

// RecordUpstreamRequest records one call to the model provider.
// operation is generate, transcribe or synthesize; outcome is ok or error.
func RecordUpstreamRequest(operation, model, outcome string) {
	if !IsMetricsEnabled() {
		return
	}
	upstreamRequests.WithLabelValues(operation, model, outcome).Inc()
}

// RecordTokenUsage records token volume. tokenType is "input" or "output" for
// upstream-reported counts and "estimated_input" or "estimated_output" for local
// tokenizer estimates.
func RecordTokenUsage(model, tokenType string, tokens int) {
	if !IsMetricsEnabled() {
		return
	}
	if tokens > 0 {
		tokenUsage.WithLabelValues(model, tokenType).Add(float64(tokens))
	}
}

// RecordEvent counts one stream event written to a client.
func RecordEvent(eventType string) {
	if !IsMetricsEnabled() {
		return
	}
	eventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordSpeechUnit counts one synthesis unit by outcome (ok, failed, empty).
func RecordSpeechUnit(outcome string) {
	if !IsMetricsEnabled() {
		return
	}
	speechUnits.WithLabelValues(outcome).Inc()
}

// RecordCacheLookup counts a hit or miss on the named cache.
func RecordCacheLookup(cache string, hit bool) {
	if !IsMetricsEnabled() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(cache, result).Inc()
}

// SetCacheSize sets the size gauge of the named cache.
func SetCacheSize(cache string, size int) {
	if !IsMetricsEnabled() {
		return
	}
	cacheSize.WithLabelValues(cache).Set(float64(size))
}

// RecordHistoryWrite records one transcript persistence outcome.
func RecordHistoryWrite(outcome string, elapsed time.Duration) {
	if !IsMetricsEnabled() {
		return
	}
	historyWrites.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		historyWriteDuration.Observe(elapsed.Seconds())
	}
}
