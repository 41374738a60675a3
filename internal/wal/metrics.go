// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package wal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backlogWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prodsync_backlog_writes_total",
		Help: "Total number of backlog write operations",
	})

	backlogConfirmsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prodsync_backlog_confirms_total",
		Help: "Total number of backlog confirm operations",
	})

	backlogPendingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prodsync_backlog_pending_entries",
		Help: "Current number of pending backlog entries",
	})

	backlogWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prodsync_backlog_write_latency_seconds",
		Help:    "Backlog write latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	backlogDBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prodsync_store_db_size_bytes",
		Help: "BadgerDB database size in bytes",
	})

	backlogCompactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prodsync_backlog_compactions_total",
		Help: "Total number of backlog compaction runs",
	})

	backlogEntriesCompacted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prodsync_backlog_entries_compacted_total",
		Help: "Total number of confirmed entries removed during compaction",
	})

	backlogCompactionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prodsync_backlog_compaction_latency_seconds",
		Help:    "Backlog compaction latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})

	backlogGCLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prodsync_store_gc_latency_seconds",
		Help:    "BadgerDB value-log GC latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

// RecordBacklogWrite increments the write counter.
func RecordBacklogWrite() { backlogWritesTotal.Inc() }

// RecordBacklogConfirm increments the confirm counter.
func RecordBacklogConfirm() { backlogConfirmsTotal.Inc() }

// RecordBacklogWriteLatency observes a write latency.
func RecordBacklogWriteLatency(seconds float64) { backlogWriteLatency.Observe(seconds) }

// RecordBacklogGCLatency observes a GC run latency.
func RecordBacklogGCLatency(seconds float64) { backlogGCLatency.Observe(seconds) }

// UpdateBacklogPendingEntries sets the pending gauge.
func UpdateBacklogPendingEntries(count int64) { backlogPendingEntries.Set(float64(count)) }

// UpdateBacklogDBSize sets the DB size gauge.
func UpdateBacklogDBSize(bytes int64) { backlogDBSizeBytes.Set(float64(bytes)) }

// RecordBacklogCompaction records one compaction run.
func RecordBacklogCompaction(deleted int64, seconds float64) {
	backlogCompactionsTotal.Inc()
	backlogCompactionLatency.Observe(seconds)
	if deleted > 0 {
		backlogEntriesCompacted.Add(float64(deleted))
	}
}
