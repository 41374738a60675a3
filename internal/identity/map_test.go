// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/syncerr"
)

func openTestMap(t *testing.T) *Map {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Config{TombstoneGrace: time.Hour, PurgeInterval: time.Minute})
}

func TestLinkAndLookupBothDirections(t *testing.T) {
	m := openTestMap(t)
	ctx := context.Background()
	now := time.Now()

	entry, err := m.Link(ctx, "demo", models.EntityEpisode, "loc-e1", "5", models.SourceRemote, now)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}

	byRemote, err := m.Lookup(ctx, "demo", models.SourceRemote, models.EntityEpisode, "5")
	if err != nil {
		t.Fatalf("Lookup remote: %v", err)
	}
	byLocal, err := m.Lookup(ctx, "demo", models.SourceLocal, models.EntityEpisode, "loc-e1")
	if err != nil {
		t.Fatalf("Lookup local: %v", err)
	}
	if byRemote.ID != entry.ID || byLocal.ID != entry.ID {
		t.Errorf("expected both lookups to return entry %s, got %s and %s", entry.ID, byRemote.ID, byLocal.ID)
	}
	if byRemote.Counterpart(models.SourceRemote) != "loc-e1" {
		t.Errorf("expected counterpart loc-e1, got %q", byRemote.Counterpart(models.SourceRemote))
	}
	if !byLocal.LastSyncedAt.Equal(now) {
		t.Errorf("expected last_synced_at %v, got %v", now, byLocal.LastSyncedAt)
	}
}

func TestLookupScopedByProjectAndType(t *testing.T) {
	m := openTestMap(t)
	ctx := context.Background()

	if _, err := m.Link(ctx, "demo", models.EntityShot, "loc-1", "10", models.SourceRemote, time.Now()); err != nil {
		t.Fatalf("Link: %v", err)
	}

	tests := []struct {
		name    string
		project string
		typ     models.EntityType
		id      string
	}{
		{"other project", "other", models.EntityShot, "10"},
		{"other type", "demo", models.EntityTask, "10"},
		{"unknown id", "demo", models.EntityShot, "11"},
		{"empty id", "demo", models.EntityShot, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Lookup(ctx, tt.project, models.SourceRemote, tt.typ, tt.id)
			if !errors.Is(err, syncerr.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestLinkCompletesHalfKnownEntry(t *testing.T) {
	m := openTestMap(t)
	ctx := context.Background()

	first, err := m.Link(ctx, "demo", models.EntityProject, "demo", "", "", time.Now())
	if err != nil {
		t.Fatalf("Link local only: %v", err)
	}
	second, err := m.Link(ctx, "demo", models.EntityProject, "demo", "77", models.SourceRemote, time.Now())
	if err != nil {
		t.Fatalf("Link completion: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected link to extend entry %s, got new entry %s", first.ID, second.ID)
	}
	if second.RemoteID != "77" {
		t.Errorf("expected remote id 77, got %q", second.RemoteID)
	}
}

func TestLinkIsIdempotent(t *testing.T) {
	m := openTestMap(t)
	ctx := context.Background()

	a, _ := m.Link(ctx, "demo", models.EntityShot, "loc-1", "10", models.SourceRemote, time.Now())
	b, err := m.Link(ctx, "demo", models.EntityShot, "loc-1", "10", models.SourceRemote, time.Now())
	if err != nil {
		t.Fatalf("second Link: %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("expected same entry on relink, got %s and %s", a.ID, b.ID)
	}
	if n, _ := m.Count(ctx, "demo"); n != 1 {
		t.Errorf("expected 1 entry, got %d", n)
	}
}

func TestLinkConflict(t *testing.T) {
	m := openTestMap(t)
	ctx := context.Background()

	if _, err := m.Link(ctx, "demo", models.EntityShot, "loc-1", "10", models.SourceRemote, time.Now()); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if _, err := m.Link(ctx, "demo", models.EntityShot, "loc-2", "20", models.SourceRemote, time.Now()); err != nil {
		t.Fatalf("Link: %v", err)
	}

	tests := []struct {
		name     string
		localID  string
		remoteID string
	}{
		{"remote already mapped", "loc-3", "10"},
		{"local already mapped", "loc-1", "30"},
		{"both mapped to different entries", "loc-1", "20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Link(ctx, "demo", models.EntityShot, tt.localID, tt.remoteID, models.SourceRemote, time.Now())
			var conflict *syncerr.IdentityConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("expected IdentityConflictError, got %v", err)
			}
		})
	}

	// Nothing changed.
	e, _ := m.Lookup(ctx, "demo", models.SourceRemote, models.EntityShot, "10")
	if e.LocalID != "loc-1" {
		t.Errorf("expected loc-1 to stay mapped to 10, got %q", e.LocalID)
	}
	if _, err := m.Lookup(ctx, "demo", models.SourceLocal, models.EntityShot, "loc-3"); !errors.Is(err, syncerr.ErrNotFound) {
		t.Errorf("expected loc-3 to stay unmapped, got %v", err)
	}
}

func TestMarkRemovedTombstonesAndPurges(t *testing.T) {
	m := openTestMap(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	if _, err := m.Link(ctx, "demo", models.EntityShot, "loc-1", "10", models.SourceRemote, base); err != nil {
		t.Fatalf("Link: %v", err)
	}

	e, err := m.MarkRemoved(ctx, "demo", models.SourceRemote, models.EntityShot, "10")
	if err != nil {
		t.Fatalf("MarkRemoved remote: %v", err)
	}
	if !e.RemoteRemoved || e.Tombstoned {
		t.Errorf("expected remote removed without tombstone, got %+v", e)
	}

	e, err = m.MarkRemoved(ctx, "demo", models.SourceLocal, models.EntityShot, "loc-1")
	if err != nil {
		t.Fatalf("MarkRemoved local: %v", err)
	}
	if !e.Tombstoned || e.TombstonedAt == nil {
		t.Fatalf("expected tombstone once both sides removed, got %+v", e)
	}

	// Inside the grace period: still resolvable, nothing purged.
	if n, _ := m.Purge(ctx); n != 0 {
		t.Errorf("expected no purge inside grace, got %d", n)
	}
	if _, err := m.Lookup(ctx, "demo", models.SourceRemote, models.EntityShot, "10"); err != nil {
		t.Errorf("expected tombstoned entry to stay resolvable, got %v", err)
	}

	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	if n, err := m.Purge(ctx); err != nil || n != 1 {
		t.Fatalf("expected 1 purged entry, got %d (%v)", n, err)
	}
	if _, err := m.Lookup(ctx, "demo", models.SourceRemote, models.EntityShot, "10"); !errors.Is(err, syncerr.ErrNotFound) {
		t.Errorf("expected purged entry to be gone, got %v", err)
	}
	if _, err := m.Lookup(ctx, "demo", models.SourceLocal, models.EntityShot, "loc-1"); !errors.Is(err, syncerr.ErrNotFound) {
		t.Errorf("expected local index to be gone, got %v", err)
	}
}

func TestPurgeEntryRechecksTombstone(t *testing.T) {
	m := openTestMap(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	cutoff := base.Add(time.Hour)

	tombstone := func(localID, remoteID string) *Entry {
		t.Helper()
		if _, err := m.Link(ctx, "demo", models.EntityShot, localID, remoteID, models.SourceRemote, base); err != nil {
			t.Fatalf("Link: %v", err)
		}
		if _, err := m.MarkRemoved(ctx, "demo", models.SourceRemote, models.EntityShot, remoteID); err != nil {
			t.Fatalf("MarkRemoved remote: %v", err)
		}
		e, err := m.MarkRemoved(ctx, "demo", models.SourceLocal, models.EntityShot, localID)
		if err != nil {
			t.Fatalf("MarkRemoved local: %v", err)
		}
		return e
	}

	// Revived after the purge scan picked it.
	revived := tombstone("loc-1", "10")
	if err := m.Revive(ctx, revived, models.SourceRemote); err != nil {
		t.Fatalf("Revive: %v", err)
	}
	deleted, err := m.purgeEntry(revived.ID, cutoff)
	if err != nil || deleted {
		t.Errorf("expected revived entry to be kept, got deleted=%v err=%v", deleted, err)
	}
	if _, err := m.Lookup(ctx, "demo", models.SourceRemote, models.EntityShot, "10"); err != nil {
		t.Errorf("expected revived entry to stay resolvable, got %v", err)
	}

	stale := tombstone("loc-2", "20")
	deleted, err = m.purgeEntry(stale.ID, cutoff)
	if err != nil || !deleted {
		t.Errorf("expected tombstoned entry to be deleted, got deleted=%v err=%v", deleted, err)
	}

	// Already gone.
	deleted, err = m.purgeEntry(stale.ID, cutoff)
	if err != nil || deleted {
		t.Errorf("expected missing entry to be a no-op, got deleted=%v err=%v", deleted, err)
	}
}

func TestReviveClearsRemoval(t *testing.T) {
	m := openTestMap(t)
	ctx := context.Background()

	if _, err := m.Link(ctx, "demo", models.EntityShot, "loc-1", "10", models.SourceRemote, time.Now()); err != nil {
		t.Fatalf("Link: %v", err)
	}
	e, _ := m.MarkRemoved(ctx, "demo", models.SourceRemote, models.EntityShot, "10")
	if err := m.Revive(ctx, e, models.SourceRemote); err != nil {
		t.Fatalf("Revive: %v", err)
	}

	got, _ := m.Lookup(ctx, "demo", models.SourceRemote, models.EntityShot, "10")
	if got.Removed(models.SourceRemote) {
		t.Error("expected removal mark to be cleared")
	}
}

func TestSavePersistsStamps(t *testing.T) {
	m := openTestMap(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	e, _ := m.Link(ctx, "demo", models.EntityShot, "loc-1", "10", models.SourceRemote, at)
	e.Stamp("status", models.SourceRemote, at, 42, "ip")
	if err := m.Save(ctx, e); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, _ := m.Get(ctx, e.ID)
	st, ok := got.Stamps["status"]
	if !ok || st.Value != "ip" || st.Source != models.SourceRemote || st.ObservedAt != 42 {
		t.Errorf("expected stored stamp, got %+v", got.Stamps)
	}

	got.RemoteID = "99"
	if err := m.Save(ctx, got); err == nil {
		t.Error("expected Save to reject id changes")
	}
}

func TestEnsureProject(t *testing.T) {
	m := openTestMap(t)
	ctx := context.Background()

	a, err := m.EnsureProject(ctx, "demo", "demo", "42")
	if err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	b, err := m.EnsureProject(ctx, "demo", "demo", "42")
	if err != nil {
		t.Fatalf("EnsureProject again: %v", err)
	}
	if a.ID != b.ID || !a.LastSyncedAt.Equal(b.LastSyncedAt) {
		t.Errorf("expected second call to be a no-op, got %+v vs %+v", a, b)
	}

	_, err = m.EnsureProject(ctx, "demo", "demo", "43")
	var conflict *syncerr.IdentityConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("expected conflict when the remote project id changes, got %v", err)
	}
}

func TestConcurrentLinksOfSameParent(t *testing.T) {
	m := openTestMap(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock(LockKey("demo", models.EntitySequence, models.SourceRemote, "3"))
			defer unlock()
			if _, err := m.Lookup(ctx, "demo", models.SourceRemote, models.EntitySequence, "3"); err == nil {
				return
			}
			_, err := m.Link(ctx, "demo", models.EntitySequence, "loc-seq", "3", models.SourceRemote, time.Now())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected link error: %v", err)
		}
	}
	if n, _ := m.Count(ctx, "demo"); n != 1 {
		t.Errorf("expected exactly one entry, got %d", n)
	}
}
