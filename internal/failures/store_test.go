// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package failures

import (
	"context"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/syncerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func failedEvent(project, originID string) models.ChangeEvent {
	return models.ChangeEvent{
		ID:         "remote-" + originID,
		Source:     models.SourceRemote,
		ProjectKey: project,
		EntityType: models.EntityShot,
		Operation:  models.OpUpdated,
		OriginID:   originID,
		ObservedAt: 42,
		Payload:    map[string]any{"status": "ip"},
	}
}

type fakeSubmitter struct {
	events []models.ChangeEvent
	err    error
}

func (f *fakeSubmitter) Submit(_ context.Context, ev models.ChangeEvent) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.events = append(f.events, ev)
	return "retry-1", nil
}

func TestAddAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.Add(ctx, Record{Event: failedEvent("demo", "7"), Kind: syncerr.KindResolution, Error: "parent missing", State: "diffing", Attempts: 1})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Errorf("expected id and creation time, got %+v", rec)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kind != syncerr.KindResolution || got.Event.OriginID != "7" || got.Event.Payload["status"] != "ip" {
		t.Errorf("unexpected record: %+v", got)
	}

	if _, err := s.Get(ctx, "missing"); !syncerr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestAddDefaultsKind(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.Add(context.Background(), Record{Event: failedEvent("demo", "1")})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if rec.Kind != syncerr.KindInternal {
		t.Errorf("expected kind %s, got %s", syncerr.KindInternal, rec.Kind)
	}
}

func TestListNewestFirstWithFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, p := range []string{"demo", "other", "demo", "demo"} {
		rec, err := s.Add(ctx, Record{Event: failedEvent(p, "1")})
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		ids = append(ids, rec.ID)
	}

	all, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 4 || all[0].ID != ids[3] || all[3].ID != ids[0] {
		t.Errorf("expected newest first, got %v", recordIDs(all))
	}

	demo, err := s.List(ctx, Filter{ProjectKey: "demo", Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(demo) != 2 || demo[0].ID != ids[3] || demo[1].ID != ids[2] {
		t.Errorf("expected the two newest demo records, got %v", recordIDs(demo))
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 records, got %d", n)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec, _ := s.Add(ctx, Record{Event: failedEvent("demo", "1")})

	if err := s.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, rec.ID); !syncerr.IsNotFound(err) {
		t.Errorf("expected record gone, got %v", err)
	}
	if err := s.Delete(ctx, rec.ID); !syncerr.IsNotFound(err) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

func TestRetryResubmitsAndRemoves(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec, _ := s.Add(ctx, Record{Event: failedEvent("demo", "7")})
	q := &fakeSubmitter{}

	id, err := s.Retry(ctx, rec.ID, q)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if id != "retry-1" {
		t.Errorf("expected new event id retry-1, got %s", id)
	}
	if len(q.events) != 1 || q.events[0].OriginID != "7" || q.events[0].ID != "" {
		t.Errorf("expected the failed event resubmitted without its old id, got %+v", q.events)
	}
	if _, err := s.Get(ctx, rec.ID); !syncerr.IsNotFound(err) {
		t.Errorf("expected record removed after retry, got %v", err)
	}
}

func TestRetryKeepsRecordWhenSubmitFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec, _ := s.Add(ctx, Record{Event: failedEvent("demo", "7")})

	if _, err := s.Retry(ctx, rec.ID, &fakeSubmitter{err: errors.New("queue closed")}); err == nil {
		t.Fatal("expected an error")
	}
	if _, err := s.Get(ctx, rec.ID); err != nil {
		t.Errorf("expected record kept, got %v", err)
	}
}

func recordIDs(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
