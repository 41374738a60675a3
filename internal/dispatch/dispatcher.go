// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/prodsync/internal/logging"
	"github.com/tomtom215/prodsync/internal/metrics"
	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/wal"
)

// Drop reasons.
const (
	DropStale     = "stale"
	DropDuplicate = "duplicate"
	DropInvalid   = "invalid"
)

// Reconciler runs one event to a terminal state. A returned error means the
// event ended Failed and a failure record exists; the queue moves on either way.
type Reconciler interface {
	Reconcile(ctx context.Context, ev models.ChangeEvent) error
}

// Config controls the worker pool.
type Config struct {
	Workers int
}

// DefaultConfig returns the default dispatch configuration.
func DefaultConfig() Config {
	return Config{Workers: 4}
}

// Stats is a snapshot of the queue.
type Stats struct {
	Pending  int            `json:"pending"`
	Inflight int            `json:"inflight"`
	Projects []ProjectStats `json:"projects"`
}

// ProjectStats is the queue state of one project.
type ProjectStats struct {
	ProjectKey string         `json:"project_key"`
	Pending    int            `json:"pending"`
	Lanes      map[string]int `json:"lanes,omitempty"`
	Active     bool           `json:"active"`
}

// Dispatcher is the per-project single-flight work queue in front of the
// reconciler. Every accepted event is written to the backlog first and only
// confirmed there once the reconciler has returned.
type Dispatcher struct {
	backlog wal.WAL
	marks   *MarkStore
	rec     Reconciler
	cfg     Config

	mu       sync.Mutex
	projects map[string]*project
	ready    []string
	pending  int
	inflight int
	seq      uint64

	signal chan struct{}

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a dispatcher. Call Recover before Start to reload the backlog.
func New(backlog wal.WAL, marks *MarkStore, rec Reconciler, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	return &Dispatcher{
		backlog:  backlog,
		marks:    marks,
		rec:      rec,
		cfg:      cfg,
		projects: make(map[string]*project),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue accepts events in change-log order. Events at or below the
// committed high-water mark of their (source, project), and exact repeats of
// a queued event, are dropped. It returns the number of accepted events.
func (d *Dispatcher) Enqueue(ctx context.Context, events []models.ChangeEvent) (int, error) {
	accepted := 0
	for i := range events {
		ok, err := d.enqueue(ctx, events[i])
		if err != nil {
			return accepted, err
		}
		if ok {
			accepted++
		}
	}
	return accepted, nil
}

// Submit enqueues a synthetic event (full resync, failure retry) and
// returns its id. Synthetic events bypass the high-water dedup.
func (d *Dispatcher) Submit(ctx context.Context, ev models.ChangeEvent) (string, error) {
	ev.Synthetic = true
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if _, err := d.enqueue(ctx, ev); err != nil {
		return "", err
	}
	return ev.ID, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, ev models.ChangeEvent) (bool, error) {
	source := string(ev.Source)
	if err := ev.Validate(); err != nil {
		d.drop(ev, DropInvalid, err)
		return false, nil
	}

	if !ev.Synthetic {
		mark, err := d.marks.Get(ev.Source, ev.ProjectKey)
		if err != nil {
			return false, fmt.Errorf("read high-water mark: %w", err)
		}
		if ev.ObservedAt <= mark {
			d.drop(ev, DropStale, nil)
			metrics.RecordIngest(source, metrics.IngestDuplicate)
			return false, nil
		}
		d.mu.Lock()
		p, ok := d.projects[ev.ProjectKey]
		dup := ok && p.has(ev.Source, ev.ObservedAt)
		d.mu.Unlock()
		if dup {
			d.drop(ev, DropDuplicate, nil)
			metrics.RecordIngest(source, metrics.IngestDuplicate)
			return false, nil
		}
	}

	entryID, err := d.backlog.Write(ctx, ev.ProjectKey, ev)
	if err != nil {
		return false, fmt.Errorf("write backlog entry: %w", err)
	}
	d.add(item{entryID: entryID, event: ev})
	if !ev.Synthetic {
		metrics.RecordIngest(source, metrics.IngestEnqueued)
	}
	return true, nil
}

func (d *Dispatcher) drop(ev models.ChangeEvent, reason string, err error) {
	metrics.DispatchDropped.WithLabelValues(string(ev.Source), reason).Inc()
	e := logging.Debug()
	if err != nil {
		e = logging.Warn().Err(err)
	}
	e.Str("event", ev.String()).Str("reason", reason).Msg("Event dropped before reconciliation")
}

func (d *Dispatcher) add(it item) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	it.seq = d.seq
	p, ok := d.projects[it.event.ProjectKey]
	if !ok {
		p = newProject(it.event.ProjectKey)
		d.projects[p.key] = p
	}
	p.push(it)
	d.pending++
	metrics.DispatchPending.Set(float64(d.pending))
	d.markReadyLocked(p)
}

func (d *Dispatcher) markReadyLocked(p *project) {
	if p.ready || p.active {
		return
	}
	p.ready = true
	d.ready = append(d.ready, p.key)
	d.notify()
}

func (d *Dispatcher) notify() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// next hands out the next event of a ready project and marks the project
// active so no other worker touches it until done.
func (d *Dispatcher) next() (item, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.ready) > 0 {
		key := d.ready[0]
		d.ready = d.ready[1:]
		p, ok := d.projects[key]
		if !ok {
			continue
		}
		p.ready = false
		it, ok := p.pop()
		if !ok {
			delete(d.projects, key)
			continue
		}
		p.active = true
		d.pending--
		d.inflight++
		metrics.DispatchPending.Set(float64(d.pending))
		metrics.DispatchInflight.Set(float64(d.inflight))
		if len(d.ready) > 0 {
			d.notify()
		}
		return it, true
	}
	return item{}, false
}

func (d *Dispatcher) done(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.inflight--
	metrics.DispatchInflight.Set(float64(d.inflight))
	p, ok := d.projects[key]
	if !ok {
		return
	}
	p.active = false
	if p.len() == 0 {
		delete(d.projects, key)
		return
	}
	d.markReadyLocked(p)
}

// process runs one event to completion. The reconciliation is detached from
// ctx so a shutdown lets it finish.
func (d *Dispatcher) process(ctx context.Context, it item) {
	ev := it.event
	defer d.done(ev.ProjectKey)

	runCtx := context.WithoutCancel(ctx)
	log := logging.Ctx(runCtx).With().Str("event", ev.String()).Str("entry_id", it.entryID).Logger()

	if !ev.Synthetic {
		mark, err := d.marks.Get(ev.Source, ev.ProjectKey)
		if err != nil {
			log.Error().Err(err).Msg("Cannot read high-water mark, processing anyway")
		} else if ev.ObservedAt <= mark {
			d.drop(ev, DropStale, nil)
			d.confirm(runCtx, it.entryID)
			return
		}
	}

	if err := d.backlog.UpdateAttempt(runCtx, it.entryID, ""); err != nil {
		log.Warn().Err(err).Msg("Cannot record backlog attempt")
	}

	if err := d.rec.Reconcile(runCtx, ev); err != nil {
		if uerr := d.backlog.UpdateAttempt(runCtx, it.entryID, err.Error()); uerr != nil {
			log.Warn().Err(uerr).Msg("Cannot record backlog error")
		}
	}

	if !ev.Synthetic {
		if err := d.marks.Advance(ev.Source, ev.ProjectKey, ev.ObservedAt); err != nil {
			log.Error().Err(err).Msg("Cannot advance high-water mark")
		}
	}
	d.confirm(runCtx, it.entryID)
}

func (d *Dispatcher) confirm(ctx context.Context, entryID string) {
	if err := d.backlog.Confirm(ctx, entryID); err != nil {
		logging.Error().Err(err).Str("entry_id", entryID).Msg("Cannot confirm backlog entry")
	}
}

// Recover reloads unconfirmed backlog entries. An entry that was handed to
// a worker before a crash is delivered again; the reconciler tolerates it.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	entries, err := d.backlog.GetPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("load backlog: %w", err)
	}

	restored := 0
	for _, entry := range entries {
		var ev models.ChangeEvent
		if err := entry.UnmarshalPayload(&ev); err != nil {
			logging.Error().Err(err).Str("entry_id", entry.ID).Msg("Dropping unreadable backlog entry")
			d.confirm(ctx, entry.ID)
			continue
		}
		if !ev.Synthetic {
			mark, err := d.marks.Get(ev.Source, ev.ProjectKey)
			if err != nil {
				return restored, fmt.Errorf("read high-water mark: %w", err)
			}
			d.mu.Lock()
			p, ok := d.projects[ev.ProjectKey]
			dup := ok && p.has(ev.Source, ev.ObservedAt)
			d.mu.Unlock()
			if ev.ObservedAt <= mark || dup {
				d.confirm(ctx, entry.ID)
				continue
			}
		}
		if entry.Attempts > 0 {
			logging.Info().Str("event", ev.String()).Int("attempts", entry.Attempts).Msg("Redelivering interrupted event")
		}
		d.add(item{entryID: entry.ID, event: ev})
		restored++
	}

	if restored > 0 {
		logging.Info().Int("events", restored).Msg("Dispatch backlog recovered")
	}
	return restored, nil
}

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher is already running")
	}
	d.running = true
	d.stopCh = make(chan struct{})

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	logging.Info().Int("workers", d.cfg.Workers).Msg("Dispatcher started")
	return nil
}

// Stop stops taking new events and waits for in-flight reconciliations.
func (d *Dispatcher) Stop() error {
	d.runMu.Lock()
	if !d.running {
		d.runMu.Unlock()
		return nil
	}
	d.running = false
	close(d.stopCh)
	d.runMu.Unlock()

	d.wg.Wait()
	logging.Info().Msg("Dispatcher stopped")
	return nil
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}

		it, ok := d.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-d.signal:
			}
			continue
		}
		d.process(ctx, it)
	}
}

// Stats returns a snapshot of the queue.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{Pending: d.pending, Inflight: d.inflight, Projects: make([]ProjectStats, 0, len(d.projects))}
	for _, p := range d.projects {
		s.Projects = append(s.Projects, ProjectStats{
			ProjectKey: p.key,
			Pending:    p.len(),
			Lanes:      p.counts(),
			Active:     p.active,
		})
	}
	sort.Slice(s.Projects, func(i, j int) bool { return s.Projects[i].ProjectKey < s.Projects[j].ProjectKey })
	return s
}

// WaitIdle blocks until nothing is pending or in flight.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		d.mu.Lock()
		idle := d.pending == 0 && d.inflight == 0
		d.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
