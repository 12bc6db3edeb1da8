// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Database query performance (DuckDB)
// - API endpoint latency and throughput
// - Ingest pipeline throughput and failures
// - Cache efficiency
// - WebSocket connections
// - Auth outcomes and lockouts

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Ingest Pipeline Metrics
	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_run_duration_seconds",
			Help:    "Duration of ingest runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"trigger"},
	)

	IngestRecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_processed_total",
			Help: "Total number of records upserted by the ingest pipeline",
		},
		[]string{"record_type"}, // event, race, lap, weather
	)

	IngestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_errors_total",
			Help: "Total number of ingest errors by category",
		},
		[]string{"error_type"},
	)

	IngestLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_last_success_timestamp",
			Help: "Unix timestamp of the last successful ingest run",
		},
	)

	IngestRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_running",
			Help: "Whether an ingest run is currently in flight (0 or 1)",
		},
	)

	// Timing Provider Client Metrics
	TimingAPICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timing_api_call_duration_seconds",
			Help:    "Duration of upstream timing provider API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Auth Metrics
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"}, // success, invalid_credentials, locked_out, disabled
	)

	AuthLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_lockouts_total",
			Help: "Total number of account lockouts triggered",
		},
	)

	AuthActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auth_active_sessions",
			Help: "Current number of active refresh sessions",
		},
	)

	// Audit Metrics
	AuditEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Total number of audit events dropped due to a full buffer",
		},
	)

	// Event Bus Metrics
	BusMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_messages_published_total",
			Help: "Total number of messages published to the event bus",
		},
		[]string{"topic"},
	)

	BusMessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_messages_dropped_total",
			Help: "Total number of event bus messages dropped by consumers",
		},
		[]string{"topic"},
	)
)

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		// Truncate long error messages to keep cardinality sane.
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordIngestRun records an ingest run's duration and outcome.
func RecordIngestRun(trigger string, duration time.Duration, err error) {
	IngestDuration.WithLabelValues(trigger).Observe(duration.Seconds())
	if err != nil {
		errorType := "other"
		msg := err.Error()
		switch {
		case strings.Contains(msg, "circuit breaker"):
			errorType = "circuit_breaker"
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
			errorType = "timeout"
		case strings.Contains(msg, "database"):
			errorType = "database"
		case strings.Contains(msg, "decode") || strings.Contains(msg, "unmarshal"):
			errorType = "decode"
		}
		IngestErrors.WithLabelValues(errorType).Inc()
	} else {
		IngestLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordIngestCounts records per-type record counts from a finished run.
func RecordIngestCounts(events, races, laps, weather int) {
	IngestRecordsProcessed.WithLabelValues("event").Add(float64(events))
	IngestRecordsProcessed.WithLabelValues("race").Add(float64(races))
	IngestRecordsProcessed.WithLabelValues("lap").Add(float64(laps))
	IngestRecordsProcessed.WithLabelValues("weather").Add(float64(weather))
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordAuthAttempt records a login attempt outcome.
func RecordAuthAttempt(result string) {
	AuthAttempts.WithLabelValues(result).Inc()
}
