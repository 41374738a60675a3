// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package identity

import (
	"time"

	"github.com/tomtom215/prodsync/internal/models"
)

// FieldStamp records the last write of one canonical attribute. ObservedAt
// is the change-log position of the event that wrote it, so an older event
// of the same source replayed later can be told apart from a newer one.
type FieldStamp struct {
	At         time.Time     `json:"at"`
	ObservedAt int64         `json:"observed_at,omitempty"`
	Source     models.Source `json:"source"`
	Value      any           `json:"value,omitempty"`
}

// Entry is one Identity Map record: the cross-reference between a Local and
// a Remote entity of the same type inside one project.
type Entry struct {
	ID         string            `json:"id"`
	ProjectKey string            `json:"project_key"`
	Type       models.EntityType `json:"entity_type"`
	LocalID    string            `json:"local_id,omitempty"`
	RemoteID   string            `json:"remote_id,omitempty"`

	LastSyncedAt   time.Time     `json:"last_synced_at"`
	LastSyncedFrom models.Source `json:"last_synced_from,omitempty"`

	LocalRemoved  bool       `json:"local_removed,omitempty"`
	RemoteRemoved bool       `json:"remote_removed,omitempty"`
	Tombstoned    bool       `json:"tombstoned,omitempty"`
	TombstonedAt  *time.Time `json:"tombstoned_at,omitempty"`

	// Stamps is keyed by canonical attribute name, including "name".
	Stamps map[string]FieldStamp `json:"stamps,omitempty"`
}

// IDFor returns the id on side s ("" if not yet reconciled there).
func (e *Entry) IDFor(s models.Source) string {
	if s == models.SourceLocal {
		return e.LocalID
	}
	return e.RemoteID
}

// Counterpart returns the id opposite to side s.
func (e *Entry) Counterpart(s models.Source) string {
	return e.IDFor(s.Opposite())
}

// Removed reports whether side s reported the entity removed.
func (e *Entry) Removed(s models.Source) bool {
	if s == models.SourceLocal {
		return e.LocalRemoved
	}
	return e.RemoteRemoved
}

func (e *Entry) setRemoved(s models.Source, v bool) {
	if s == models.SourceLocal {
		e.LocalRemoved = v
	} else {
		e.RemoteRemoved = v
	}
}

// Revive clears the removal mark of side s and any tombstone, in memory
// only. The caller persists it with Save.
func (e *Entry) Revive(s models.Source) {
	e.setRemoved(s, false)
	e.Tombstoned = false
	e.TombstonedAt = nil
}

// Stamp records a write of field from source s by the event that occurred
// at and sits at observedAt in the source change log. A same-source stamp
// never moves its change-log position backwards: a full resync (position
// 0) reads the current state, which is at least as new as what it replaces.
func (e *Entry) Stamp(field string, s models.Source, at time.Time, observedAt int64, value any) {
	if e.Stamps == nil {
		e.Stamps = make(map[string]FieldStamp)
	}
	if prev, ok := e.Stamps[field]; ok && prev.Source == s && prev.ObservedAt > observedAt {
		observedAt = prev.ObservedAt
	}
	e.Stamps[field] = FieldStamp{At: at, ObservedAt: observedAt, Source: s, Value: value}
}

// Supersedes reports whether a write of field from source s must be
// discarded. Against the opposite side it is last-writer-wins on the
// occurrence time at. Against the same side the change-log position
// decides, so an older event retried after a newer one has committed is a
// no-op.
func (e *Entry) Supersedes(field string, s models.Source, at time.Time, observedAt int64) bool {
	st, ok := e.Stamps[field]
	if !ok {
		return false
	}
	if st.Source == s {
		return st.ObservedAt > observedAt
	}
	return st.At.After(at)
}

// Echoes reports whether attrs, observed on side source, only repeats
// values the hub copied there from the opposite side within window of now.
func (e *Entry) Echoes(source models.Source, attrs map[string]any, now time.Time, window time.Duration) bool {
	if len(attrs) == 0 || e.LastSyncedAt.IsZero() || now.Sub(e.LastSyncedAt) > window {
		return false
	}
	for field, v := range attrs {
		st, ok := e.Stamps[field]
		if !ok || st.Source == source || !models.SameValue(st.Value, v) {
			return false
		}
	}
	return true
}
