// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

/*
Package metrics defines the Prometheus metrics exported by prodsync.

All collectors are registered on the default registry through promauto and
exposed by the admin API at /metrics.

# Available Metrics

Ingest:
  - prodsync_ingest_events_total{source,result}: enqueued, ignored, echo, filtered, duplicate
  - prodsync_ingest_poll_duration_seconds{source}
  - prodsync_ingest_poll_errors_total{source}
  - prodsync_watermark{source}

Dispatch and reconciliation:
  - prodsync_dispatch_pending, prodsync_dispatch_inflight
  - prodsync_dispatch_dropped_total{source,reason}
  - prodsync_reconcile_total{operation,outcome}
  - prodsync_reconcile_duration_seconds{operation}
  - prodsync_reconcile_retries_total
  - prodsync_apply_ops_total{target,op}
  - prodsync_schema_mismatch_total{target}

Identity Map and failures:
  - prodsync_identity_purged_total, prodsync_identity_conflicts_total
  - prodsync_failures_total{kind}, prodsync_failures_open

Store clients:
  - prodsync_circuit_breaker_state{name} (0=closed, 1=half-open, 2=open)
  - prodsync_circuit_breaker_requests_total{name,result}
  - prodsync_circuit_breaker_consecutive_failures{name}
  - prodsync_circuit_breaker_state_transitions_total{name,from_state,to_state}
  - prodsync_store_request_duration_seconds{store,method,status}
  - prodsync_store_rate_limited_total{store}

Admin API:
  - prodsync_api_requests_total{method,endpoint,status_code}
  - prodsync_api_request_duration_seconds{method,endpoint}

Backlog metrics (prodsync_backlog_*) live in the wal package next to the
store they describe.

# Example Alerts

	groups:
	  - name: prodsync
	    rules:
	      - alert: ProjectStalled
	        expr: increase(prodsync_failures_total[30m]) > 0 and increase(prodsync_reconcile_total{outcome="committed"}[30m]) == 0
	        for: 30m
	      - alert: StoreCircuitOpen
	        expr: prodsync_circuit_breaker_state == 2
	        for: 5m
*/
package metrics
