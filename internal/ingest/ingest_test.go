// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/prodsync/internal/fieldmap"
	"github.com/tomtom215/prodsync/internal/identity"
	"github.com/tomtom215/prodsync/internal/local"
	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/normalize"
	"github.com/tomtom215/prodsync/internal/remote"
)

type fakeLister struct {
	projects []models.ProjectInfo
	err      error
}

func (f *fakeLister) ListProjects(context.Context) ([]models.ProjectInfo, error) {
	return f.projects, f.err
}

type fakeLocalLog struct {
	mu     sync.Mutex
	events []local.Event
	failAt int64
	calls  int
}

func (f *fakeLocalLog) Events(_ context.Context, after int64, limit int) ([]local.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt != 0 && after >= f.failAt {
		return nil, errors.New("boom")
	}
	var out []local.Event
	for _, ev := range f.events {
		if ev.Sequence > after && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeRemoteLog struct {
	entries []remote.EventLogEntry
}

func (f *fakeRemoteLog) EventLog(_ context.Context, after int64, limit int) ([]remote.EventLogEntry, error) {
	var out []remote.EventLogEntry
	for _, e := range f.entries {
		if e.ID > after && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []models.ChangeEvent
	err    error
}

func (f *fakeSink) Enqueue(_ context.Context, events []models.ChangeEvent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.events = append(f.events, events...)
	return len(events), nil
}

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func folderEvent(seq int64, project, id, action string) local.Event {
	return local.Event{
		ID:        fmt.Sprintf("ev%d", seq),
		Sequence:  seq,
		Topic:     "entity.folder." + action,
		Project:   project,
		Summary:   local.EventSummary{EntityID: id, FolderType: "Episode"},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, int(seq), 0, time.UTC),
	}
}

type harness struct {
	db     *badger.DB
	ids    *identity.Map
	dir    *Directory
	store  *WatermarkStore
	sink   *fakeSink
	log    *fakeLocalLog
	poller *Poller
}

func newLocalHarness(t *testing.T, events []local.Event, cfg Config) *harness {
	t.Helper()
	db := openTestDB(t)
	ids := identity.New(db, identity.DefaultConfig())
	dir := NewDirectory(
		&fakeLister{projects: []models.ProjectInfo{
			{Key: "demo", RootID: "70", Enabled: true},
			{Key: "quiet", RootID: "71", Enabled: true},
		}},
		&fakeLister{projects: []models.ProjectInfo{
			{Key: "demo", RootID: "demo", Enabled: true},
			{Key: "quiet", RootID: "quiet", Enabled: false},
		}},
		ids,
	)
	h := &harness{
		db:    db,
		ids:   ids,
		dir:   dir,
		store: NewWatermarkStore(db),
		sink:  &fakeSink{},
		log:   &fakeLocalLog{events: events},
	}
	feed := NewLocalFeed(h.log, normalize.NewLocal(fieldmap.MustNew(fieldmap.DefaultPairs())))
	h.poller = NewPoller(feed, dir, NewEchoFilter(ids, "prodsync", time.Minute), h.store, h.sink, cfg)
	return h
}

func TestPollAdvancesWatermarkAndFilters(t *testing.T) {
	echo := folderEvent(4, "demo", "f4", "created")
	echo.SenderType = "prodsync"
	h := newLocalHarness(t, []local.Event{
		folderEvent(1, "demo", "f1", "created"),
		folderEvent(2, "quiet", "f2", "created"),
		{ID: "ev3", Sequence: 3, Topic: "entity.product.created", Project: "demo"},
		echo,
		folderEvent(5, "unknown", "f5", "created"),
	}, Config{PageSize: 10, MaxPages: 5})
	ctx := context.Background()

	if err := h.dir.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	next, events, err := h.poller.Poll(ctx, Watermark{Source: models.SourceLocal})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if next.Position != 5 {
		t.Errorf("expected watermark 5, got %d", next.Position)
	}
	if len(events) != 1 || events[0].OriginID != "f1" {
		t.Fatalf("expected only f1, got %+v", events)
	}
}

func TestPollPagesUntilCap(t *testing.T) {
	var events []local.Event
	for i := int64(1); i <= 10; i++ {
		events = append(events, folderEvent(i, "demo", fmt.Sprintf("f%d", i), "created"))
	}
	h := newLocalHarness(t, events, Config{PageSize: 3, MaxPages: 2})
	ctx := context.Background()
	if err := h.dir.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	next, got, err := h.poller.Poll(ctx, Watermark{Source: models.SourceLocal})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if next.Position != 6 || len(got) != 6 {
		t.Errorf("expected 6 events up to position 6, got %d up to %d", len(got), next.Position)
	}

	next, got, err = h.poller.Poll(ctx, next)
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if next.Position != 10 || len(got) != 4 {
		t.Errorf("expected resume to position 10 with 4 events, got %d up to %d", len(got), next.Position)
	}
}

func TestPollFailureIsAllOrNothing(t *testing.T) {
	var events []local.Event
	for i := int64(1); i <= 6; i++ {
		events = append(events, folderEvent(i, "demo", fmt.Sprintf("f%d", i), "created"))
	}
	h := newLocalHarness(t, events, Config{PageSize: 3, MaxPages: 5})
	h.log.failAt = 3
	ctx := context.Background()
	if err := h.dir.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	start := Watermark{Source: models.SourceLocal, Position: 0}
	next, got, err := h.poller.Poll(ctx, start)
	if err == nil {
		t.Fatal("expected error from second page")
	}
	if next != start || got != nil {
		t.Errorf("expected unchanged watermark and no events, got %+v %d", next, len(got))
	}
}

func TestTickPersistsWatermarkAfterEnqueue(t *testing.T) {
	h := newLocalHarness(t, []local.Event{
		folderEvent(1, "demo", "f1", "created"),
		folderEvent(2, "demo", "f2", "created"),
	}, Config{PageSize: 10, MaxPages: 1})
	ctx := context.Background()

	h.sink.err = errors.New("queue unavailable")
	if err := h.poller.Tick(ctx); err == nil {
		t.Fatal("expected tick to fail")
	}
	wm, err := h.store.Load(ctx, models.SourceLocal)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if wm.Position != 0 {
		t.Errorf("expected watermark to stay at 0, got %d", wm.Position)
	}

	h.sink.err = nil
	if err := h.poller.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	wm, err = h.store.Load(ctx, models.SourceLocal)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if wm.Position != 2 || h.poller.Watermark().Position != 2 {
		t.Errorf("expected watermark 2, got %d", wm.Position)
	}
	if len(h.sink.events) != 2 {
		t.Errorf("expected 2 enqueued events, got %d", len(h.sink.events))
	}

	// A restart starts from the persisted position.
	if err := h.poller.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(h.sink.events) != 2 {
		t.Errorf("expected no reprocessing, got %d events", len(h.sink.events))
	}
}

func TestTickFailsWhenDirectoryUnavailable(t *testing.T) {
	h := newLocalHarness(t, []local.Event{folderEvent(1, "demo", "f1", "created")}, Config{})
	h.dir.remote = &fakeLister{err: errors.New("remote down")}

	if err := h.poller.Tick(context.Background()); err == nil {
		t.Fatal("expected tick to fail")
	}
	if h.log.calls != 0 {
		t.Errorf("expected no change-log fetch, got %d", h.log.calls)
	}
}

func TestDirectoryRefresh(t *testing.T) {
	db := openTestDB(t)
	ids := identity.New(db, identity.DefaultConfig())
	dir := NewDirectory(
		&fakeLister{projects: []models.ProjectInfo{
			{Key: "demo", RootID: "70", Enabled: true},
			{Key: "remote-only", RootID: "80", Enabled: true},
		}},
		&fakeLister{projects: []models.ProjectInfo{
			{Key: "demo", RootID: "demo", Enabled: false},
			{Key: "local-only", RootID: "local-only", Enabled: true},
		}},
		ids,
	)
	ctx := context.Background()
	if err := dir.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	policies := dir.Policies()
	if len(policies) != 1 {
		t.Fatalf("expected 1 linked project, got %+v", policies)
	}
	p := policies[0]
	if !p.AutoSyncFromRemote || p.PushToRemote || p.RemoteRootID != "70" || p.LocalRootID != "demo" {
		t.Errorf("unexpected policy %+v", p)
	}
	if key, ok := dir.ProjectForRemoteRoot("70"); !ok || key != "demo" {
		t.Errorf("expected remote root 70 to map to demo, got %q %v", key, ok)
	}

	entry, err := ids.Lookup(ctx, "demo", models.SourceRemote, models.EntityProject, "70")
	if err != nil {
		t.Fatalf("expected project roots to be linked: %v", err)
	}
	if entry.LocalID != "demo" {
		t.Errorf("expected local root demo, got %q", entry.LocalID)
	}
	if dir.RefreshedAt().IsZero() {
		t.Error("expected refresh time to be set")
	}
}

func TestRemoteFeedResolvesProjects(t *testing.T) {
	db := openTestDB(t)
	dir := NewDirectory(
		&fakeLister{projects: []models.ProjectInfo{{Key: "demo", RootID: "70", Enabled: true}}},
		&fakeLister{projects: []models.ProjectInfo{{Key: "demo", RootID: "demo", Enabled: true}}},
		identity.New(db, identity.DefaultConfig()),
	)
	if err := dir.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	log := &fakeRemoteLog{entries: []remote.EventLogEntry{
		{ID: 11, EventType: "Shotgun_Episode_New", Project: &remote.EntityLink{Type: "Project", ID: 70}, Entity: &remote.EntityLink{Type: "Episode", ID: 5}},
		{ID: 12, EventType: "Shotgun_Episode_New", Project: &remote.EntityLink{Type: "Project", ID: 99}, Entity: &remote.EntityLink{Type: "Episode", ID: 6}},
		{ID: 13, EventType: "Shotgun_Asset_New", Project: &remote.EntityLink{Type: "Project", ID: 70}, Entity: &remote.EntityLink{Type: "Asset", ID: 7}},
	}}
	feed := NewRemoteFeed(log, normalize.NewRemote(fieldmap.MustNew(fieldmap.DefaultPairs())), dir)

	batch, err := feed.Fetch(context.Background(), 10, 50)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if batch.Size != 3 || batch.Last != 13 {
		t.Errorf("expected size 3 last 13, got %d %d", batch.Size, batch.Last)
	}
	if len(batch.Events) != 1 || batch.Events[0].ProjectKey != "demo" || batch.Events[0].OriginID != "5" {
		t.Errorf("unexpected events %+v", batch.Events)
	}
}

func TestEchoFilter(t *testing.T) {
	db := openTestDB(t)
	ids := identity.New(db, identity.DefaultConfig())
	ctx := context.Background()
	now := time.Now()

	entry, err := ids.Link(ctx, "demo", models.EntityShot, "f9", "9", models.SourceLocal, now)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	entry.Stamp("status", models.SourceLocal, now, 1, "ip")
	if err := ids.Save(ctx, entry); err != nil {
		t.Fatalf("Save: %v", err)
	}

	f := NewEchoFilter(ids, "prodsync", time.Minute)
	tests := []struct {
		name string
		ev   models.ChangeEvent
		want bool
	}{
		{"tagged", models.ChangeEvent{Source: models.SourceRemote, Origin: "prodsync", Operation: models.OpUpdated}, true},
		{"copied value", models.ChangeEvent{Source: models.SourceRemote, ProjectKey: "demo", EntityType: models.EntityShot,
			OriginID: "9", Operation: models.OpUpdated, Payload: map[string]any{"status": "ip"}}, true},
		{"new value", models.ChangeEvent{Source: models.SourceRemote, ProjectKey: "demo", EntityType: models.EntityShot,
			OriginID: "9", Operation: models.OpUpdated, Payload: map[string]any{"status": "fin"}}, false},
		{"same side", models.ChangeEvent{Source: models.SourceLocal, ProjectKey: "demo", EntityType: models.EntityShot,
			OriginID: "f9", Operation: models.OpUpdated, Payload: map[string]any{"status": "ip"}}, false},
		{"create of mapped", models.ChangeEvent{Source: models.SourceRemote, ProjectKey: "demo", EntityType: models.EntityShot,
			OriginID: "9", Operation: models.OpCreated}, true},
		{"create of unknown", models.ChangeEvent{Source: models.SourceRemote, ProjectKey: "demo", EntityType: models.EntityShot,
			OriginID: "10", Operation: models.OpCreated}, false},
		{"removal", models.ChangeEvent{Source: models.SourceRemote, ProjectKey: "demo", EntityType: models.EntityShot,
			OriginID: "9", Operation: models.OpRemoved}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := tt.ev
			if got := f.IsEcho(ctx, &ev); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	f.now = func() time.Time { return now.Add(2 * time.Minute) }
	late := models.ChangeEvent{Source: models.SourceRemote, ProjectKey: "demo", EntityType: models.EntityShot,
		OriginID: "9", Operation: models.OpUpdated, Payload: map[string]any{"status": "ip"}}
	if f.IsEcho(ctx, &late) {
		t.Error("expected change outside the echo window to pass")
	}
}

func TestWatermarkStoreDefaultsToZero(t *testing.T) {
	store := NewWatermarkStore(openTestDB(t))
	ctx := context.Background()

	wm, err := store.Load(ctx, models.SourceRemote)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if wm.Position != 0 || wm.Source != models.SourceRemote {
		t.Errorf("expected zero remote watermark, got %+v", wm)
	}

	if err := store.Save(ctx, Watermark{Source: models.SourceRemote, Position: 42}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	wm, _ = store.Load(ctx, models.SourceRemote)
	if wm.Position != 42 {
		t.Errorf("expected 42, got %d", wm.Position)
	}
	other, _ := store.Load(ctx, models.SourceLocal)
	if other.Position != 0 {
		t.Errorf("expected sources to be independent, got %d", other.Position)
	}
}
