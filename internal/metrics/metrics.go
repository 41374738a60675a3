// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest results.
const (
	IngestEnqueued  = "enqueued"
	IngestIgnored   = "ignored"
	IngestEcho      = "echo"
	IngestFiltered  = "filtered"
	IngestDuplicate = "duplicate"
)

var (
	// Ingest Metrics
	IngestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodsync_ingest_events_total",
			Help: "Change-log entries seen by the ingestors, by outcome",
		},
		[]string{"source", "result"}, // enqueued, ignored, echo, filtered, duplicate
	)

	IngestPollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prodsync_ingest_poll_duration_seconds",
			Help:    "Duration of one ingest poll cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	IngestPollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodsync_ingest_poll_errors_total",
			Help: "Poll cycles that failed and left the watermark unchanged",
		},
		[]string{"source"},
	)

	IngestWatermark = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prodsync_watermark",
			Help: "Highest persisted change-log position per source",
		},
		[]string{"source"},
	)

	// Dispatch Metrics
	DispatchPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prodsync_dispatch_pending",
			Help: "Events waiting in the dispatch queue",
		},
	)

	DispatchInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prodsync_dispatch_inflight",
			Help: "Projects with a reconciliation in progress",
		},
	)

	DispatchDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodsync_dispatch_dropped_total",
			Help: "Events dropped by the dispatch queue before reconciliation",
		},
		[]string{"source", "reason"}, // stale, duplicate
	)

	// Reconcile Metrics
	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodsync_reconcile_total",
			Help: "Reconciliations by operation and terminal outcome",
		},
		[]string{"operation", "outcome"}, // committed, failed, skipped
	)

	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prodsync_reconcile_duration_seconds",
			Help:    "Time from Received to a terminal state",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	ReconcileRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prodsync_reconcile_retries_total",
			Help: "Transient failures that were retried",
		},
	)

	ApplyOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodsync_apply_ops_total",
			Help: "Edit operations applied to a target store",
		},
		[]string{"target", "op"}, // create, rename, update
	)

	SchemaMismatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodsync_schema_mismatch_total",
			Help: "Payload fields skipped for lack of a configured equivalent",
		},
		[]string{"target"},
	)

	// Identity Map Metrics
	IdentityPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prodsync_identity_purged_total",
			Help: "Tombstoned identity entries purged after the grace period",
		},
	)

	IdentityConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prodsync_identity_conflicts_total",
			Help: "Links rejected because the id was already mapped elsewhere",
		},
	)

	// Failure Metrics
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodsync_failures_total",
			Help: "Failure records written, by error kind",
		},
		[]string{"kind"},
	)

	FailuresOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prodsync_failures_open",
			Help: "Failure records awaiting inspection",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prodsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodsync_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prodsync_circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodsync_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Store client metrics
	StoreRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prodsync_store_request_duration_seconds",
			Help:    "Outbound store API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "method", "status"},
	)

	StoreRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodsync_store_rate_limited_total",
			Help: "HTTP 429 responses received from a store",
		},
		[]string{"store"},
	)

	// Admin API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodsync_api_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prodsync_api_request_duration_seconds",
			Help:    "Duration of admin API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordIngest counts one change-log entry outcome.
func RecordIngest(source, result string) {
	IngestEventsTotal.WithLabelValues(source, result).Inc()
}

// RecordPoll records a poll cycle. Failed cycles also bump the error counter.
func RecordPoll(source string, duration time.Duration, err error) {
	IngestPollDuration.WithLabelValues(source).Observe(duration.Seconds())
	if err != nil {
		IngestPollErrors.WithLabelValues(source).Inc()
	}
}

func SetWatermark(source string, position int64) {
	IngestWatermark.WithLabelValues(source).Set(float64(position))
}

func RecordReconcile(operation, outcome string, duration time.Duration) {
	ReconcileTotal.WithLabelValues(operation, outcome).Inc()
	ReconcileDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordApply(target, op string) {
	ApplyOpsTotal.WithLabelValues(target, op).Inc()
}

func RecordStoreRequest(store, method string, status int, duration time.Duration) {
	StoreRequestDuration.WithLabelValues(store, method, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordAPIRequest records an admin API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
