// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package wal

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/prodsync/internal/logging"
)

// Compactor deletes confirmed backlog entries and reclaims value-log space
// on an interval. Pending entries are never touched: they leave the backlog
// only when the reconciler reaches a terminal outcome.
type Compactor struct {
	wal      *BadgerWAL
	interval time.Duration

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
	last CompactorStats
}

// CompactorStats describes the most recent run.
type CompactorStats struct {
	LastRun          time.Time
	LastEntriesCount int64
}

// NewCompactor creates a compactor for w. It does nothing until Start.
func NewCompactor(w *BadgerWAL) *Compactor {
	interval := w.GetConfig().CompactInterval
	if interval <= 0 {
		interval = DefaultConfig().CompactInterval
	}
	return &Compactor{wal: w, interval: interval}
}

// Start launches the loop. A second Start while running is a no-op.
func (c *Compactor) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	c.done = make(chan struct{})
	go c.loop(runCtx, c.done)

	logging.Info().Dur("interval", c.interval).Msg("Backlog compactor started")
	return nil
}

// Stop ends the loop and waits for an in-flight run to finish.
func (c *Compactor) Stop() error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return nil
	}
	stop()
	<-done
	logging.Info().Msg("Backlog compactor stopped")
	return nil
}

func (c *Compactor) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunNow()
		}
	}
}

// RunNow compacts immediately on the caller's goroutine.
func (c *Compactor) RunNow() {
	start := time.Now()

	deleted, err := c.purgeConfirmed()
	if err != nil {
		logging.Error().Err(err).Int64("deleted", deleted).Msg("Backlog compaction failed to delete confirmed entries")
	}
	if err := c.wal.RunGC(); err != nil {
		logging.Error().Err(err).Msg("Backlog value-log GC failed")
	}

	finished := time.Now()
	c.wal.markCompacted(finished)

	c.mu.Lock()
	c.last = CompactorStats{LastRun: finished, LastEntriesCount: deleted}
	c.mu.Unlock()

	elapsed := finished.Sub(start)
	RecordBacklogCompaction(deleted, elapsed.Seconds())
	if deleted > 0 {
		logging.Info().Int64("deleted", deleted).Dur("duration", elapsed).Msg("Backlog compaction removed entries")
	}
}

// purgeConfirmed collects confirmed keys first and deletes them after the
// iterator is closed, as BadgerDB forbids writes under an open iterator.
func (c *Compactor) purgeConfirmed() (int64, error) {
	var deleted int64
	err := c.wal.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixConfirmed)

		var keys [][]byte
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// GetStats returns the most recent run.
func (c *Compactor) GetStats() CompactorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
