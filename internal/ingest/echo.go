// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package ingest

import (
	"context"
	"time"

	"github.com/tomtom215/prodsync/internal/identity"
	"github.com/tomtom215/prodsync/internal/models"
)

// EchoFilter recognizes changes that the hub itself wrote into a store.
type EchoFilter struct {
	ids    *identity.Map
	origin string
	window time.Duration
	now    func() time.Time
}

// NewEchoFilter creates a filter. origin is the writer tag the hub sends
// with every write; window bounds how long after a reconciliation an
// untagged change is still compared against the values the hub wrote.
func NewEchoFilter(ids *identity.Map, origin string, window time.Duration) *EchoFilter {
	return &EchoFilter{ids: ids, origin: origin, window: window, now: time.Now}
}

// IsEcho reports whether ev is the observation of a hub write.
func (f *EchoFilter) IsEcho(ctx context.Context, ev *models.ChangeEvent) bool {
	if f.origin != "" && ev.Origin == f.origin {
		return true
	}
	if f.ids == nil || ev.Synthetic {
		return false
	}

	entry, err := f.ids.Lookup(ctx, ev.ProjectKey, ev.Source, ev.EntityType, ev.OriginID)
	if err != nil {
		return false
	}
	now := f.now()

	switch ev.Operation {
	case models.OpCreated:
		return entry.Counterpart(ev.Source) != "" &&
			!entry.Removed(ev.Source) &&
			!entry.LastSyncedAt.IsZero() &&
			now.Sub(entry.LastSyncedAt) <= f.window
	case models.OpUpdated, models.OpRenamed:
		return entry.Echoes(ev.Source, ev.Payload, now, f.window)
	default:
		return false
	}
}
