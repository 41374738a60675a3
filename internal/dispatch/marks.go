// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package dispatch

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/prodsync/internal/models"
)

const prefixMark = "dispatch:hwm:"

// MarkStore persists the committed high-water mark per (source, project):
// the highest observed_at that reached a terminal state.
type MarkStore struct {
	db *badger.DB
}

// NewMarkStore creates a store over db.
func NewMarkStore(db *badger.DB) *MarkStore {
	return &MarkStore{db: db}
}

func markKey(s models.Source, projectKey string) []byte {
	return []byte(prefixMark + string(s) + ":" + projectKey)
}

// Get returns the mark, 0 when none is stored.
func (m *MarkStore) Get(s models.Source, projectKey string) (int64, error) {
	var mark int64
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(markKey(s, projectKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt high-water mark for %s/%s", s, projectKey)
			}
			mark = int64(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	return mark, err
}

// Advance raises the mark to position. Lower positions are ignored.
func (m *MarkStore) Advance(s models.Source, projectKey string, position int64) error {
	for attempt := 0; ; attempt++ {
		err := m.db.Update(func(txn *badger.Txn) error {
			key := markKey(s, projectKey)
			item, err := txn.Get(key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				var current int64
				if verr := item.Value(func(val []byte) error {
					if len(val) == 8 {
						current = int64(binary.BigEndian.Uint64(val))
					}
					return nil
				}); verr != nil {
					return verr
				}
				if current >= position {
					return nil
				}
			}
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(position))
			return txn.Set(key, buf)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < 3 {
			continue
		}
		return err
	}
}
