// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/prodsync/internal/models"
)

const prefixWatermark = "watermark:"

// Watermark is the highest change-log position an ingestor has handed to
// the dispatch queue. It is passed into and returned from every poll cycle.
type Watermark struct {
	Source    models.Source `json:"source"`
	Position  int64         `json:"position"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// WatermarkStore persists watermarks in BadgerDB.
type WatermarkStore struct {
	db *badger.DB
}

// NewWatermarkStore creates a store over db.
func NewWatermarkStore(db *badger.DB) *WatermarkStore {
	return &WatermarkStore{db: db}
}

func watermarkKey(s models.Source) []byte {
	return []byte(prefixWatermark + string(s))
}

// Load returns the stored watermark for s, or position 0 when none exists.
func (w *WatermarkStore) Load(ctx context.Context, s models.Source) (Watermark, error) {
	if err := ctx.Err(); err != nil {
		return Watermark{}, err
	}
	wm := Watermark{Source: s}
	err := w.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(watermarkKey(s))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &wm)
		})
	})
	if err != nil {
		return Watermark{}, fmt.Errorf("load %s watermark: %w", s, err)
	}
	return wm, nil
}

// Save persists wm.
func (w *WatermarkStore) Save(ctx context.Context, wm Watermark) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(wm)
	if err != nil {
		return fmt.Errorf("marshal watermark: %w", err)
	}
	return w.db.Update(func(txn *badger.Txn) error {
		return txn.Set(watermarkKey(wm.Source), data)
	})
}
