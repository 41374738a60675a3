// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package failures

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/prodsync/internal/metrics"
	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/syncerr"
)

const prefixFailure = "failure:"

// Record is the durable trace of an event that ended in the Failed state.
type Record struct {
	ID            string             `json:"id"`
	Event         models.ChangeEvent `json:"event"`
	Kind          string             `json:"kind"`
	Error         string             `json:"error"`
	State         string             `json:"state"`
	Attempts      int                `json:"attempts"`
	CorrelationID string             `json:"correlation_id,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Filter narrows List.
type Filter struct {
	ProjectKey string
	Limit      int
}

// Submitter re-enqueues an event; implemented by the dispatcher.
type Submitter interface {
	Submit(ctx context.Context, ev models.ChangeEvent) (string, error)
}

// Store keeps failure records in BadgerDB under the failure: prefix.
// Record ids are UUIDv7, so key order is creation order.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

// NewStore creates a store over db.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func recordKey(id string) []byte {
	return []byte(prefixFailure + id)
}

// Add persists a new record and returns it with its id set.
func (s *Store) Add(ctx context.Context, rec Record) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate failure id: %w", err)
	}
	rec.ID = id.String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.Kind == "" {
		rec.Kind = syncerr.KindInternal
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal failure record: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.ID), data)
	}); err != nil {
		return nil, fmt.Errorf("store failure record: %w", err)
	}

	metrics.FailuresTotal.WithLabelValues(rec.Kind).Inc()
	metrics.FailuresOpen.Inc()
	return &rec, nil
}

// Get returns one record or syncerr.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failure %s: %w", id, syncerr.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns records newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixFailure)
		// Reverse iteration starts after the last key with the prefix.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode failure record: %w", err)
			}
			if f.ProjectKey != "" && rec.Event.ProjectKey != f.ProjectKey {
				continue
			}
			out = append(out, rec)
			if f.Limit > 0 && len(out) >= f.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Count returns the number of open records.
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixFailure)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// SyncGauge resets the open-failures gauge from storage.
func (s *Store) SyncGauge(ctx context.Context) error {
	n, err := s.Count(ctx)
	if err != nil {
		return err
	}
	metrics.FailuresOpen.Set(float64(n))
	return nil
}

// Delete removes a record. Unknown ids return syncerr.ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(id))
	}); err != nil {
		return fmt.Errorf("delete failure record: %w", err)
	}
	metrics.FailuresOpen.Dec()
	return nil
}

// Retry re-enqueues the failed event as a synthetic event and removes the
// record. It returns the id of the new event.
func (s *Store) Retry(ctx context.Context, id string, q Submitter) (string, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	ev := rec.Event
	ev.ID = ""
	eventID, err := q.Submit(ctx, ev)
	if err != nil {
		return "", fmt.Errorf("resubmit failed event: %w", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		return eventID, err
	}
	return eventID, nil
}
