// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/tomtom215/prodsync/internal/failures"
	"github.com/tomtom215/prodsync/internal/fieldmap"
	"github.com/tomtom215/prodsync/internal/identity"
	"github.com/tomtom215/prodsync/internal/logging"
	"github.com/tomtom215/prodsync/internal/metrics"
	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/syncerr"
)

// Values written to the project sync-status field after a full resync.
const (
	SyncStatusSynced = "Synced"
	SyncStatusFailed = "Failed"
)

// Reconcile outcomes used in metrics.
const (
	OutcomeCommitted = "committed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// FailureSink stores the record of an event that ended Failed.
type FailureSink interface {
	Add(ctx context.Context, rec failures.Record) (*failures.Record, error)
}

// PolicySource returns the sync policy, and with it the root ids, of a project.
type PolicySource interface {
	Policy(projectKey string) (models.SyncPolicy, bool)
}

// StatusWriter records the outcome of a full resync on the project.
type StatusWriter interface {
	SetProjectSyncStatus(ctx context.Context, projectKey, status string) error
}

// Config controls retries and full-resync reads.
type Config struct {
	// MaxAttempts bounds how often a transient failure is retried,
	// first attempt included.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// ResyncDepth is the read_tree depth used by full-resync.
	ResyncDepth int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		ResyncDepth:    models.MaxHierarchyDepth,
	}
}

// Deps are the collaborators of a Reconciler. Status is optional.
type Deps struct {
	Local    models.Store
	Remote   models.Store
	Identity *identity.Map
	Fields   *fieldmap.Map
	Projects PolicySource
	Failures FailureSink
	Status   StatusWriter
}

// Reconciler applies ChangeEvents from one store to the other.
type Reconciler struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// New creates a reconciler.
func New(deps Deps, cfg Config) (*Reconciler, error) {
	switch {
	case deps.Local == nil || deps.Remote == nil:
		return nil, errors.New("reconciler requires both stores")
	case deps.Identity == nil:
		return nil, errors.New("reconciler requires an identity map")
	case deps.Fields == nil:
		return nil, errors.New("reconciler requires a field map")
	case deps.Projects == nil:
		return nil, errors.New("reconciler requires a project policy source")
	case deps.Failures == nil:
		return nil, errors.New("reconciler requires a failure sink")
	}

	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.ResyncDepth <= 0 || cfg.ResyncDepth > models.MaxHierarchyDepth {
		cfg.ResyncDepth = def.ResyncDepth
	}
	return &Reconciler{deps: deps, cfg: cfg, now: time.Now}, nil
}

func (r *Reconciler) store(s models.Source) models.Store {
	if s == models.SourceLocal {
		return r.deps.Local
	}
	return r.deps.Remote
}

// Reconcile runs ev through Received, Resolving, Diffing, Applying and
// ends in Committed or Failed. Transient store errors are retried with
// exponential backoff up to MaxAttempts; any other error, or an exhausted
// budget, ends the event Failed with a durable failure record and is
// returned.
func (r *Reconciler) Reconcile(ctx context.Context, ev models.ChangeEvent) error {
	start := r.now()
	ctx = logging.ContextWithNewCorrelationID(ctx)
	ctx = logging.ContextWithProject(ctx, ev.ProjectKey)

	x := &run{
		r:   r,
		ev:  ev,
		m:   newMachine(),
		log: logging.Ctx(ctx).With().Str("event", ev.String()).Logger(),
	}
	if ev.Source.Valid() {
		x.src = r.store(ev.Source)
		x.dst = r.store(ev.Target())
	}

	err := r.retry(ctx, x)
	if ev.Operation == models.OpFullResync {
		r.writeSyncStatus(ctx, ev.ProjectKey, err)
	}

	op := string(ev.Operation)
	if err != nil {
		_ = x.m.To(StateFailed)
		r.recordFailure(ctx, x, err)
		metrics.RecordReconcile(op, OutcomeFailed, r.now().Sub(start))
		return err
	}

	outcome := OutcomeCommitted
	if x.skipped != "" {
		outcome = OutcomeSkipped
		x.log.Debug().Str("reason", x.skipped).Msg("Nothing to apply")
	}
	metrics.RecordReconcile(op, outcome, r.now().Sub(start))
	x.log.Debug().
		Int("attempts", x.attempts).
		Int("writes", x.writes).
		Dur("duration", r.now().Sub(start)).
		Msg("Reconciliation committed")
	return nil
}

// retry runs attempts until one succeeds, a permanent error occurs or the
// budget is spent.
func (r *Reconciler) retry(ctx context.Context, x *run) error {
	if err := x.ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(r.cfg.InitialBackoff),
		backoff.WithMaxInterval(r.cfg.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.cfg.MaxAttempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		x.attempts++
		err := x.attempt(ctx)
		if err == nil || syncerr.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		metrics.ReconcileRetries.Inc()
		x.log.Warn().
			Err(err).
			Int("attempt", x.attempts).
			Int("max_attempts", r.cfg.MaxAttempts).
			Dur("delay", wait).
			Msg("Transient store error, retrying")
	})
}

func (r *Reconciler) recordFailure(ctx context.Context, x *run, err error) {
	rec := failures.Record{
		Event:         x.ev,
		Kind:          syncerr.Kind(err),
		Error:         err.Error(),
		State:         string(x.m.LastActive()),
		Attempts:      x.attempts,
		CorrelationID: logging.CorrelationIDFromContext(ctx),
	}

	x.log.Error().
		Err(err).
		Str("kind", rec.Kind).
		Str("state", rec.State).
		Int("attempts", rec.Attempts).
		Str("origin_id", x.ev.OriginID).
		Int64("observed_at", x.ev.ObservedAt).
		Interface("payload", x.ev.Payload).
		Msg("Reconciliation failed")

	if _, ferr := r.deps.Failures.Add(ctx, rec); ferr != nil {
		x.log.Error().Err(ferr).Msg("Cannot store failure record")
	}
}

func (r *Reconciler) writeSyncStatus(ctx context.Context, projectKey string, err error) {
	if r.deps.Status == nil {
		return
	}
	status := SyncStatusSynced
	if err != nil {
		status = SyncStatusFailed
	}
	if serr := r.deps.Status.SetProjectSyncStatus(ctx, projectKey, status); serr != nil {
		logging.Ctx(ctx).Warn().Err(serr).Str("status", status).Msg("Cannot write project sync status")
	}
}

// run is the working state of one Reconcile call.
type run struct {
	r        *Reconciler
	ev       models.ChangeEvent
	m        *Machine
	log      zerolog.Logger
	src, dst models.Store

	attempts int
	writes   int
	skipped  string

	// reviving is set while a revived entity's snapshot is being applied.
	reviving bool
}

func (x *run) source() models.Source { return x.ev.Source }
func (x *run) target() models.Source { return x.ev.Source.Opposite() }

// attempt runs the state machine once from Resolving.
func (x *run) attempt(ctx context.Context) error {
	if err := x.m.To(StateResolving); err != nil {
		return err
	}
	x.skipped = ""
	x.reviving = false

	switch x.ev.Operation {
	case models.OpCreated:
		return x.created(ctx)
	case models.OpUpdated, models.OpRenamed:
		return x.updated(ctx)
	case models.OpRemoved:
		return x.removed(ctx)
	case models.OpFullResync:
		return x.fullResync(ctx)
	default:
		return fmt.Errorf("unsupported operation %q", x.ev.Operation)
	}
}

func (x *run) skip(reason string) error {
	x.skipped = reason
	return x.m.To(StateCommitted)
}
