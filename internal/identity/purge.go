// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package identity

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/prodsync/internal/logging"
)

// Purger periodically removes tombstoned entries whose grace period has
// elapsed.
type Purger struct {
	m        *Map
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewPurger creates a purger for m using the map's PurgeInterval.
func NewPurger(m *Map) *Purger {
	return &Purger{m: m, interval: m.config.PurgeInterval}
}

// Start begins the purge loop.
func (p *Purger) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go p.run(runCtx)

	logging.Info().
		Dur("interval", p.interval).
		Dur("grace", p.m.config.TombstoneGrace).
		Msg("Identity tombstone purger started")
	return nil
}

// Stop stops the loop and waits for it to exit.
func (p *Purger) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Purger) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunNow(ctx)
		}
	}
}

// RunNow purges immediately and returns the number of removed entries.
func (p *Purger) RunNow(ctx context.Context) int {
	n, err := p.m.Purge(ctx)
	if err != nil {
		logging.Error().Err(err).Int("purged", n).Msg("Identity purge failed")
		return n
	}
	if n > 0 {
		logging.Info().Int("purged", n).Msg("Purged tombstoned identity entries")
	}
	return n
}
