// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package identity

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

const (
	prefixEntry       = "ident:e:"
	prefixLocalIndex  = "ident:l:"
	prefixRemoteIndex = "ident:r:"

	// maxTxnRetries bounds retries of a transaction that lost a badger
	// optimistic-concurrency race.
	maxTxnRetries = 3
)

// Config controls tombstone retention.
type Config struct {
	// TombstoneGrace is how long a tombstoned entry is kept to absorb late
	// duplicate events before it is purged.
	TombstoneGrace time.Duration

	// PurgeInterval is the time between purge runs.
	PurgeInterval time.Duration
}

// DefaultConfig returns the default identity configuration.
func DefaultConfig() Config {
	return Config{
		TombstoneGrace: 72 * time.Hour,
		PurgeInterval:  time.Hour,
	}
}

// Map is the persistent Identity Map. It shares the BadgerDB instance of
// the backlog and owns the ident: key space.
type Map struct {
	db     *badger.DB
	config Config
	locks  *keyLocks
	now    func() time.Time
}

// New creates an Identity Map over db.
func New(db *badger.DB, cfg Config) *Map {
	if cfg.TombstoneGrace <= 0 {
		cfg.TombstoneGrace = DefaultConfig().TombstoneGrace
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = DefaultConfig().PurgeInterval
	}
	return &Map{db: db, config: cfg, locks: newKeyLocks(), now: time.Now}
}

// LockKey names the scoped lock for one entity on one side.
func LockKey(projectKey string, t models.EntityType, s models.Source, id string) string {
	return projectKey + "/" + string(t) + "/" + string(s) + "/" + id
}

// Lock acquires the scoped locks for keys and returns the release func.
// Callers defer the release so it runs on every exit path.
func (m *Map) Lock(keys ...string) (unlock func()) {
	return m.locks.lock(keys...)
}

func indexKey(s models.Source, projectKey string, t models.EntityType, id string) []byte {
	prefix := prefixRemoteIndex
	if s == models.SourceLocal {
		prefix = prefixLocalIndex
	}
	return []byte(prefix + projectKey + ":" + string(t) + ":" + id)
}

func entryKey(id string) []byte {
	return []byte(prefixEntry + id)
}

// Lookup resolves the id of an entity on side s to its entry.
// Returns syncerr.ErrNotFound when the entity has never been reconciled.
func (m *Map) Lookup(ctx context.Context, projectKey string, s models.Source, t models.EntityType, id string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, syncerr.ErrNotFound
	}

	var entry *Entry
	err := m.db.View(func(txn *badger.Txn) error {
		entryID, err := readIndex(txn, indexKey(s, projectKey, t, id))
		if err != nil {
			return err
		}
		entry, err = readEntry(txn, entryID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Get loads an entry by its own id.
func (m *Map) Get(ctx context.Context, entryID string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entry *Entry
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		entry, err = readEntry(txn, entryID)
		return err
	})
	return entry, err
}

// Link records that localID and remoteID are the same entity and stamps the
// entry as synced at `at`. Either id may be empty when only one side is
// known. Linking an id already paired with a different counterpart fails
// with *syncerr.IdentityConflictError and changes nothing.
func (m *Map) Link(ctx context.Context, projectKey string, t models.EntityType, localID, remoteID string, from models.Source, at time.Time) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if localID == "" && remoteID == "" {
		return nil, errors.New("identity link requires at least one id")
	}

	var linked *Entry
	err := m.update(func(txn *badger.Txn) error {
		var (
			byLocal, byRemote *Entry
			err               error
		)
		if localID != "" {
			byLocal, err = lookupTxn(txn, models.SourceLocal, projectKey, t, localID)
			if err != nil && !errors.Is(err, syncerr.ErrNotFound) {
				return err
			}
		}
		if remoteID != "" {
			byRemote, err = lookupTxn(txn, models.SourceRemote, projectKey, t, remoteID)
			if err != nil && !errors.Is(err, syncerr.ErrNotFound) {
				return err
			}
		}

		entry, err := mergeLink(projectKey, t, localID, remoteID, byLocal, byRemote)
		if err != nil {
			return err
		}
		if entry == nil {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("generate identity id: %w", err)
			}
			entry = &Entry{ID: id.String(), ProjectKey: projectKey, Type: t}
		}

		if localID != "" {
			entry.LocalID = localID
		}
		if remoteID != "" {
			entry.RemoteID = remoteID
		}
		entry.LastSyncedAt = at
		entry.LastSyncedFrom = from
		entry.Tombstoned = false
		entry.TombstonedAt = nil

		if err := writeEntry(txn, entry); err != nil {
			return err
		}
		linked = entry
		return nil
	})
	if err != nil {
		var conflict *syncerr.IdentityConflictError
		if errors.As(err, &conflict) {
			metrics.IdentityConflicts.Inc()
		}
		return nil, err
	}
	return linked, nil
}

// mergeLink decides which existing entry, if any, a link extends.
func mergeLink(projectKey string, t models.EntityType, localID, remoteID string, byLocal, byRemote *Entry) (*Entry, error) {
	conflict := func(existing string) error {
		return &syncerr.IdentityConflictError{
			ProjectKey: projectKey,
			EntityType: string(t),
			LocalID:    localID,
			RemoteID:   remoteID,
			Existing:   existing,
		}
	}

	switch {
	case byLocal != nil && byRemote != nil:
		if byLocal.ID != byRemote.ID {
			return nil, conflict(fmt.Sprintf("local:%s/remote:%s", byRemote.LocalID, byLocal.RemoteID))
		}
		return byLocal, nil
	case byLocal != nil:
		if remoteID != "" && byLocal.RemoteID != "" && byLocal.RemoteID != remoteID {
			return nil, conflict("remote:" + byLocal.RemoteID)
		}
		return byLocal, nil
	case byRemote != nil:
		if localID != "" && byRemote.LocalID != "" && byRemote.LocalID != localID {
			return nil, conflict("local:" + byRemote.LocalID)
		}
		return byRemote, nil
	default:
		return nil, nil
	}
}

// Save persists changes to an existing entry's bookkeeping (stamps, removal
// marks, last_synced_at). Ids are only changed through Link.
func (m *Map) Save(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry == nil || entry.ID == "" {
		return errors.New("identity save requires a stored entry")
	}
	return m.update(func(txn *badger.Txn) error {
		stored, err := readEntry(txn, entry.ID)
		if err != nil {
			return err
		}
		if stored.LocalID != entry.LocalID || stored.RemoteID != entry.RemoteID {
			return fmt.Errorf("identity entry %s ids changed outside Link", entry.ID)
		}
		return writeEntry(txn, entry)
	})
}

// MarkRemoved records that side s reported the entity removed. Once both
// sides have reported removal the entry is tombstoned. Nothing is deleted in
// either store.
func (m *Map) MarkRemoved(ctx context.Context, projectKey string, s models.Source, t models.EntityType, id string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var marked *Entry
	err := m.update(func(txn *badger.Txn) error {
		entry, err := lookupTxn(txn, s, projectKey, t, id)
		if err != nil {
			return err
		}
		entry.setRemoved(s, true)
		if entry.LocalRemoved && entry.RemoteRemoved && !entry.Tombstoned {
			now := m.now()
			entry.Tombstoned = true
			entry.TombstonedAt = &now
		}
		if err := writeEntry(txn, entry); err != nil {
			return err
		}
		marked = entry
		return nil
	})
	return marked, err
}

// Revive clears the removal mark of side s, for a source entity that came
// back after being removed.
func (m *Map) Revive(ctx context.Context, entry *Entry, s models.Source) error {
	entry.Revive(s)
	return m.Save(ctx, entry)
}

// EnsureProject seeds the project-level entry that anchors every hierarchy
// lookup. It is a no-op when the pair is already recorded.
func (m *Map) EnsureProject(ctx context.Context, projectKey, localRoot, remoteRoot string) (*Entry, error) {
	existing, err := m.Lookup(ctx, projectKey, models.SourceLocal, models.EntityProject, localRoot)
	if err == nil && (remoteRoot == "" || existing.RemoteID == remoteRoot) {
		return existing, nil
	}
	if err != nil && !errors.Is(err, syncerr.ErrNotFound) {
		return nil, err
	}
	return m.Link(ctx, projectKey, models.EntityProject, localRoot, remoteRoot, "", m.now())
}

// Purge deletes tombstoned entries older than the grace period together
// with their index keys. It returns the number of entries removed.
func (m *Map) Purge(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.config.TombstoneGrace)

	var expired []*Entry
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixEntry)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			if expiredBefore(&entry, cutoff) {
				e := entry
				expired = append(expired, &e)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, candidate := range expired {
		deleted, err := m.purgeEntry(candidate.ID, cutoff)
		if err != nil {
			return purged, fmt.Errorf("purge identity %s: %w", candidate.ID, err)
		}
		if deleted {
			purged++
		}
	}

	metrics.IdentityPurged.Add(float64(purged))
	return purged, nil
}

// Count returns the number of entries with a Local id for a project
// ("" for all projects).
func (m *Map) Count(ctx context.Context, projectKey string) (int, error) {
	count := 0
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixLocalIndex)
		if projectKey != "" {
			prefix = []byte(prefixLocalIndex + projectKey + ":")
		}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// purgeEntry deletes one entry and its index keys if it is still expired.
// The entry is re-read in the write txn, so a revival or relink that landed
// after the scan keeps it.
func (m *Map) purgeEntry(entryID string, cutoff time.Time) (bool, error) {
	var deleted bool
	err := m.update(func(txn *badger.Txn) error {
		deleted = false
		entry, err := readEntry(txn, entryID)
		if errors.Is(err, syncerr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !expiredBefore(entry, cutoff) {
			return nil
		}
		if err := txn.Delete(entryKey(entry.ID)); err != nil {
			return err
		}
		if entry.LocalID != "" {
			if err := txn.Delete(indexKey(models.SourceLocal, entry.ProjectKey, entry.Type, entry.LocalID)); err != nil {
				return err
			}
		}
		if entry.RemoteID != "" {
			if err := txn.Delete(indexKey(models.SourceRemote, entry.ProjectKey, entry.Type, entry.RemoteID)); err != nil {
				return err
			}
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func expiredBefore(e *Entry, cutoff time.Time) bool {
	return e.Tombstoned && e.TombstonedAt != nil && e.TombstonedAt.Before(cutoff)
}

func (m *Map) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = m.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func lookupTxn(txn *badger.Txn, s models.Source, projectKey string, t models.EntityType, id string) (*Entry, error) {
	entryID, err := readIndex(txn, indexKey(s, projectKey, t, id))
	if err != nil {
		return nil, err
	}
	return readEntry(txn, entryID)
}

func readIndex(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", syncerr.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func readEntry(txn *badger.Txn, entryID string) (*Entry, error) {
	item, err := txn.Get(entryKey(entryID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, syncerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return nil, fmt.Errorf("decode identity entry %s: %w", entryID, err)
	}
	return &entry, nil
}

// writeEntry stores the entry and its index keys.
func writeEntry(txn *badger.Txn, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode identity entry: %w", err)
	}
	if err := txn.Set(entryKey(entry.ID), data); err != nil {
		return err
	}
	if entry.LocalID != "" {
		if err := txn.Set(indexKey(models.SourceLocal, entry.ProjectKey, entry.Type, entry.LocalID), []byte(entry.ID)); err != nil {
			return err
		}
	}
	if entry.RemoteID != "" {
		if err := txn.Set(indexKey(models.SourceRemote, entry.ProjectKey, entry.Type, entry.RemoteID), []byte(entry.ID)); err != nil {
			return err
		}
	}
	return nil
}
