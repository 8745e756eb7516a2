// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

// Package metrics registers the Prometheus instrumentation for the
// refresh pipeline, the ingestion client, the storage layer, the
// response cache and the HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Refresh pipeline metrics
	RefreshRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govsense_refresh_runs_total",
			Help: "Total number of refresh runs by terminal status",
		},
		[]string{"status"},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "govsense_refresh_duration_seconds",
			Help:    "Duration of complete refresh runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	RefreshRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "govsense_refresh_running",
			Help: "1 while a refresh run is in flight, 0 otherwise",
		},
	)

	RefreshSkippedTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "govsense_refresh_skipped_ticks_total",
			Help: "Scheduler ticks skipped because the previous run had not finished",
		},
	)

	DatasetRowsKept = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "govsense_dataset_rows_kept",
			Help: "Rows kept per dataset in the most recent refresh run",
		},
		[]string{"dataset"},
	)

	DatasetRowsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govsense_dataset_rows_rejected_total",
			Help: "Rows rejected during cleaning by reason",
		},
		[]string{"dataset", "reason"}, // "coercion", "missing", "duplicate"
	)

	DatasetFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govsense_dataset_failures_total",
			Help: "Dataset-level fetch or schema failures by error class",
		},
		[]string{"dataset", "class"}, // "source_unavailable", "schema_mismatch"
	)

	// Ingestion client metrics
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "govsense_fetch_duration_seconds",
			Help:    "Duration of dataset downloads in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"dataset"},
	)

	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govsense_fetch_retries_total",
			Help: "Retry attempts against the data.gouv.fr API",
		},
		[]string{"dataset"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "govsense_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govsense_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by outcome",
		},
		[]string{"name", "outcome"}, // "success", "failure", "rejected"
	)

	// Storage metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "govsense_db_query_duration_seconds",
			Help:    "Duration of DuckDB operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBUpsertRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govsense_db_upsert_rows_total",
			Help: "Rows committed by upsert batches per table",
		},
		[]string{"table"},
	)

	DBCommitFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govsense_db_commit_failures_total",
			Help: "Upsert batches rolled back per table",
		},
		[]string{"table"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "govsense_cache_hits_total",
			Help: "Response cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "govsense_cache_misses_total",
			Help: "Response cache misses",
		},
	)

	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "govsense_cache_invalidations_total",
			Help: "Wholesale cache invalidations (refresh commits and manual clears)",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "govsense_cache_entries",
			Help: "Current number of cache entries",
		},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "govsense_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govsense_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	HTTPRequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, code).Inc()
}

// ObserveDBQuery records one storage operation.
func ObserveDBQuery(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}
