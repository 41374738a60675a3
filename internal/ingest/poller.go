// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/prodsync/internal/logging"
	"github.com/tomtom215/prodsync/internal/metrics"
	"github.com/tomtom215/prodsync/internal/models"
)

// Sink receives the events of one poll cycle, in change-log order.
type Sink interface {
	Enqueue(ctx context.Context, events []models.ChangeEvent) (int, error)
}

// Config controls one poller.
type Config struct {
	// Interval between ticks.
	Interval time.Duration
	// PageSize is the number of change-log entries requested per page.
	PageSize int
	// MaxPages caps the pages read in one tick; the next tick resumes.
	MaxPages int
}

// DefaultConfig returns the default poller configuration.
func DefaultConfig() Config {
	return Config{Interval: 10 * time.Second, PageSize: 50, MaxPages: 20}
}

// Poller pulls one store's change log on a fixed interval and hands the
// normalized events to the dispatch queue.
type Poller struct {
	feed  Feed
	dir   *Directory
	echo  *EchoFilter
	store *WatermarkStore
	sink  Sink
	cfg   Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	wmMu   sync.RWMutex
	wm     Watermark
	loaded bool
}

// NewPoller wires a poller. echo may be nil.
func NewPoller(feed Feed, dir *Directory, echo *EchoFilter, store *WatermarkStore, sink Sink, cfg Config) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	return &Poller{feed: feed, dir: dir, echo: echo, store: store, sink: sink, cfg: cfg}
}

// Name identifies the poller in logs and the supervisor tree.
func (p *Poller) Name() string { return string(p.feed.Source()) + "-poller" }

// Watermark returns the last persisted watermark.
func (p *Poller) Watermark() Watermark {
	p.wmMu.RLock()
	defer p.wmMu.RUnlock()
	return p.wm
}

// Poll reads every page after wm, up to MaxPages, and returns the advanced
// watermark together with the events the sync policies admit. A failure on
// any page returns wm unchanged and no events.
func (p *Poller) Poll(ctx context.Context, wm Watermark) (Watermark, []models.ChangeEvent, error) {
	source := p.feed.Source()
	position := wm.Position

	var fetched []models.ChangeEvent
	for page := 0; page < p.cfg.MaxPages; page++ {
		batch, err := p.feed.Fetch(ctx, position, p.cfg.PageSize)
		if err != nil {
			return wm, nil, fmt.Errorf("fetch %s page after %d: %w", source, position, err)
		}
		if batch.Size == 0 {
			break
		}
		fetched = append(fetched, batch.Events...)
		if batch.Last > position {
			position = batch.Last
		}
		if batch.Size < p.cfg.PageSize {
			break
		}
	}

	events := make([]models.ChangeEvent, 0, len(fetched))
	for i := range fetched {
		ev := &fetched[i]
		policy, ok := p.dir.Policy(ev.ProjectKey)
		if !ok || !policy.Allows(source) {
			metrics.RecordIngest(string(source), metrics.IngestFiltered)
			continue
		}
		if p.echo != nil && p.echo.IsEcho(ctx, ev) {
			metrics.RecordIngest(string(source), metrics.IngestEcho)
			logging.Debug().Str("event", ev.String()).Str("origin", ev.Origin).Msg("Echo of a hub write skipped")
			continue
		}
		events = append(events, *ev)
	}

	next := wm
	next.Source = source
	if position > wm.Position {
		next.Position = position
		next.UpdatedAt = time.Now()
	}
	return next, events, nil
}

// Tick runs one poll cycle: refresh project policies, poll, enqueue, and
// persist the watermark. The watermark only moves once the whole batch has
// been accepted by the sink.
func (p *Poller) Tick(ctx context.Context) error {
	source := string(p.feed.Source())
	start := time.Now()

	err := p.tick(ctx)
	metrics.RecordPoll(source, time.Since(start), err)
	if err != nil {
		logging.Error().Err(err).Str("source", source).Msg("Poll cycle failed, retrying next tick")
	}
	return err
}

func (p *Poller) tick(ctx context.Context) error {
	if err := p.dir.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh projects: %w", err)
	}

	wm, err := p.current(ctx)
	if err != nil {
		return err
	}

	next, events, err := p.Poll(ctx, wm)
	if err != nil {
		return err
	}

	if len(events) > 0 {
		accepted, err := p.sink.Enqueue(ctx, events)
		if err != nil {
			return fmt.Errorf("enqueue %d events: %w", len(events), err)
		}
		logging.Debug().
			Str("source", string(next.Source)).
			Int("events", len(events)).
			Int("accepted", accepted).
			Int64("watermark", next.Position).
			Msg("Poll cycle enqueued events")
	}

	if next.Position == wm.Position {
		return nil
	}
	if err := p.store.Save(ctx, next); err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	p.wmMu.Lock()
	p.wm = next
	p.wmMu.Unlock()
	metrics.SetWatermark(string(next.Source), next.Position)
	return nil
}

func (p *Poller) current(ctx context.Context) (Watermark, error) {
	p.wmMu.RLock()
	wm, loaded := p.wm, p.loaded
	p.wmMu.RUnlock()
	if loaded {
		return wm, nil
	}

	wm, err := p.store.Load(ctx, p.feed.Source())
	if err != nil {
		return Watermark{}, err
	}
	p.wmMu.Lock()
	p.wm, p.loaded = wm, true
	p.wmMu.Unlock()
	metrics.SetWatermark(string(wm.Source), wm.Position)
	return wm, nil
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("%s is already running", p.Name())
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go p.loop(runCtx)

	logging.Info().Str("poller", p.Name()).Dur("interval", p.cfg.Interval).Msg("Poller started")
	return nil
}

// Stop stops the loop and waits for the current tick to finish.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	logging.Info().Str("poller", p.Name()).Msg("Poller stopped")
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	_ = p.Tick(ctx) //nolint:errcheck // logged in Tick

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.Tick(ctx) //nolint:errcheck // logged in Tick
		}
	}
}
