// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package wal

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/prodsync/internal/logging"
)

// WAL is the durable backlog behind the dispatch queue. An event stays
// pending from the moment it is accepted until the reconciler reports a
// terminal outcome for it.
type WAL interface {
	// Write persists event under lane (the project key) and returns its entry id.
	Write(ctx context.Context, lane string, event any) (entryID string, err error)

	// Confirm marks an entry done. The compactor deletes it later.
	Confirm(ctx context.Context, entryID string) error

	// GetPending returns every unconfirmed entry in write order.
	GetPending(ctx context.Context) ([]*Entry, error)

	// UpdateAttempt counts an attempt and records its error, if any.
	UpdateAttempt(ctx context.Context, entryID string, lastError string) error

	Stats() Stats
	Close() error
}

// Entry is one backlog record.
type Entry struct {
	ID string `json:"id"`

	// Lane groups entries that replay in order.
	Lane string `json:"lane"`

	Payload json.RawMessage `json:"payload"`

	CreatedAt     time.Time  `json:"created_at"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt time.Time  `json:"last_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Confirmed     bool       `json:"confirmed"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
}

// UnmarshalPayload decodes the stored event into v.
func (e *Entry) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Stats is a point-in-time view of the backlog.
type Stats struct {
	PendingCount   int64     `json:"pending_count"`
	ConfirmedCount int64     `json:"confirmed_count"`
	TotalWrites    int64     `json:"total_writes"`
	TotalConfirms  int64     `json:"total_confirms"`
	TotalAttempts  int64     `json:"total_attempts"`
	LastCompaction time.Time `json:"last_compaction"`
	DBSizeBytes    int64     `json:"db_size_bytes"`
}

// BadgerWAL implements WAL on BadgerDB. The database is shared with the
// identity map, watermarks, marks and failure records through DB(); each
// of them owns its own key prefix.
type BadgerWAL struct {
	db     *badger.DB
	config Config

	closed atomic.Bool

	writes   atomic.Int64
	confirms atomic.Int64
	attempts atomic.Int64

	// unix nanoseconds of the last compaction
	compactedAt atomic.Int64
}

const (
	prefixPending   = "backlog:pending:"
	prefixConfirmed = "backlog:confirmed:"
)

func pendingKey(id string) []byte   { return []byte(prefixPending + id) }
func confirmedKey(id string) []byte { return []byte(prefixConfirmed + id) }

// Open validates cfg and opens the database.
func Open(cfg *Config) (*BadgerWAL, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	w, err := open(cfg)
	if err != nil {
		return nil, err
	}
	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Bool("compression", cfg.Compression).
		Msg("Backlog store opened")
	return w, nil
}

// OpenForTesting opens without validation and fills in the few settings
// BadgerDB refuses to run without. InMemory keeps everything off disk.
func OpenForTesting(cfg *Config) (*BadgerWAL, error) {
	cfg.NumCompactors = max(cfg.NumCompactors, 2)
	if cfg.GCRatio == 0 {
		cfg.GCRatio = 0.5
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 10 * time.Second
	}
	return open(cfg)
}

func open(cfg *Config) (*BadgerWAL, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumCompactors(cfg.NumCompactors).
		WithLogger(nil)
	// Zero sizes keep BadgerDB's defaults.
	if cfg.MemTableSize > 0 {
		opts = opts.WithMemTableSize(cfg.MemTableSize)
	}
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}
	if cfg.Compression {
		opts = opts.WithCompression(options.Snappy)
	}
	if cfg.BlockCacheSize > 0 {
		opts = opts.WithBlockCacheSize(cfg.BlockCacheSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	w := &BadgerWAL{db: db, config: *cfg}
	w.compactedAt.Store(time.Now().UnixNano())
	return w, nil
}

// Write stores event as a new pending entry. Entry ids are UUIDv7, so key
// order is write order.
func (w *BadgerWAL) Write(_ context.Context, lane string, event any) (string, error) {
	start := time.Now()
	defer func() { RecordBacklogWriteLatency(time.Since(start).Seconds()) }()

	if w.closed.Load() {
		return "", ErrWALClosed
	}
	if event == nil {
		return "", ErrNilEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate entry id: %w", err)
	}

	entry := Entry{ID: id.String(), Lane: lane, Payload: payload, CreatedAt: time.Now().UTC()}
	if err := w.db.Update(func(txn *badger.Txn) error {
		return putEntry(txn, pendingKey(entry.ID), &entry)
	}); err != nil {
		return "", fmt.Errorf("write to BadgerDB: %w", err)
	}

	w.writes.Add(1)
	RecordBacklogWrite()
	return entry.ID, nil
}

// Confirm moves an entry from pending to confirmed in one transaction.
func (w *BadgerWAL) Confirm(_ context.Context, entryID string) error {
	if w.closed.Load() {
		return ErrWALClosed
	}
	if entryID == "" {
		return ErrEmptyEntryID
	}

	err := w.db.Update(func(txn *badger.Txn) error {
		entry, err := getEntry(txn, pendingKey(entryID))
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		entry.Confirmed = true
		entry.ConfirmedAt = &now
		if err := putEntry(txn, confirmedKey(entryID), entry); err != nil {
			return err
		}
		return txn.Delete(pendingKey(entryID))
	})
	if err != nil {
		return err
	}

	w.confirms.Add(1)
	RecordBacklogConfirm()
	return nil
}

// GetPending reads every pending entry from one snapshot. Entries that no
// longer decode are logged and skipped.
func (w *BadgerWAL) GetPending(ctx context.Context) ([]*Entry, error) {
	if w.closed.Load() {
		return nil, ErrWALClosed
	}

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry := new(Entry)
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, entry)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Backlog entry unreadable, skipping")
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}
	return entries, nil
}

// UpdateAttempt bumps the attempt counter of a pending entry.
func (w *BadgerWAL) UpdateAttempt(_ context.Context, entryID string, lastError string) error {
	if w.closed.Load() {
		return ErrWALClosed
	}

	err := w.db.Update(func(txn *badger.Txn) error {
		key := pendingKey(entryID)
		entry, err := getEntry(txn, key)
		if err != nil {
			return err
		}
		entry.Attempts++
		entry.LastAttemptAt = time.Now().UTC()
		entry.LastError = lastError
		return putEntry(txn, key, entry)
	})
	if err != nil {
		return err
	}

	w.attempts.Add(1)
	return nil
}

// DeleteEntry removes an entry whatever its state.
func (w *BadgerWAL) DeleteEntry(_ context.Context, entryID string) error {
	if w.closed.Load() {
		return ErrWALClosed
	}

	return w.db.Update(func(txn *badger.Txn) error {
		removed := 0
		for _, key := range [][]byte{pendingKey(entryID), confirmedKey(entryID)} {
			if _, err := txn.Get(key); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return fmt.Errorf("lookup entry: %w", err)
			}
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete entry: %w", err)
			}
			removed++
		}
		if removed == 0 {
			return ErrEntryNotFound
		}
		return nil
	})
}

func getEntry(txn *badger.Txn, key []byte) (*Entry, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	entry := new(Entry)
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, entry) }); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return entry, nil
}

func putEntry(txn *badger.Txn, key []byte, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return txn.Set(key, data)
}

func countPrefix(txn *badger.Txn, prefix string) int64 {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var n int64
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n
}

// Stats counts entries by state and refreshes the size gauges.
func (w *BadgerWAL) Stats() Stats {
	if w.closed.Load() {
		return Stats{}
	}

	var pending, confirmed int64
	if err := w.db.View(func(txn *badger.Txn) error {
		pending = countPrefix(txn, prefixPending)
		confirmed = countPrefix(txn, prefixConfirmed)
		return nil
	}); err != nil {
		logging.Warn().Err(err).Msg("Backlog stats failed to count entries")
	}

	lsm, vlog := w.db.Size()
	UpdateBacklogPendingEntries(pending)
	UpdateBacklogDBSize(lsm + vlog)

	return Stats{
		PendingCount:   pending,
		ConfirmedCount: confirmed,
		TotalWrites:    w.writes.Load(),
		TotalConfirms:  w.confirms.Load(),
		TotalAttempts:  w.attempts.Load(),
		LastCompaction: time.Unix(0, w.compactedAt.Load()),
		DBSizeBytes:    lsm + vlog,
	}
}

// DB returns the shared BadgerDB handle. Callers must not close it.
func (w *BadgerWAL) DB() *badger.DB {
	return w.db
}

// GetConfig returns the store configuration.
func (w *BadgerWAL) GetConfig() Config {
	return w.config
}

func (w *BadgerWAL) markCompacted(t time.Time) {
	w.compactedAt.Store(t.UnixNano())
}

// RunGC rewrites value-log files until BadgerDB reports nothing left to
// reclaim. In-memory stores have no value log.
func (w *BadgerWAL) RunGC() error {
	if w.closed.Load() {
		return ErrWALClosed
	}
	if w.config.InMemory {
		return nil
	}

	start := time.Now()
	defer func() { RecordBacklogGCLatency(time.Since(start).Seconds()) }()

	for {
		switch err := w.db.RunValueLogGC(w.config.GCRatio); {
		case err == nil:
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
			return nil
		default:
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close closes the database, giving up after CloseTimeout. Only the first
// call does anything.
func (w *BadgerWAL) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	timeout := w.config.CloseTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	done := make(chan error, 1)
	go func() { done <- w.db.Close() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Backlog store closed")
		return nil
	case <-timer.C:
		logging.Warn().Dur("timeout", timeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}

var (
	ErrWALClosed     = errors.New("backlog store is closed")
	ErrNilEvent      = errors.New("event cannot be nil")
	ErrEmptyEntryID  = errors.New("entry ID cannot be empty")
	ErrEntryNotFound = errors.New("entry not found")
)
