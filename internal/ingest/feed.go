// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package ingest

import (
	"context"

	"github.com/tomtom215/prodsync/internal/local"
	"github.com/tomtom215/prodsync/internal/logging"
	"github.com/tomtom215/prodsync/internal/metrics"
	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/normalize"
	"github.com/tomtom215/prodsync/internal/remote"
)

// Batch is one page of a change log after normalization.
type Batch struct {
	Events []models.ChangeEvent
	// Last is the position of the last raw entry in the page.
	Last int64
	// Size is the number of raw entries, ignored ones included.
	Size int
}

// Feed reads one store's change log.
type Feed interface {
	Source() models.Source
	Fetch(ctx context.Context, after int64, limit int) (Batch, error)
}

// RemoteEventLog is the read side of the Remote client used by RemoteFeed.
type RemoteEventLog interface {
	EventLog(ctx context.Context, afterID int64, limit int) ([]remote.EventLogEntry, error)
}

// RemoteFeed normalizes the Remote event log.
type RemoteFeed struct {
	log  RemoteEventLog
	norm *normalize.Remote
	dir  *Directory
}

// NewRemoteFeed creates a Remote feed.
func NewRemoteFeed(log RemoteEventLog, norm *normalize.Remote, dir *Directory) *RemoteFeed {
	return &RemoteFeed{log: log, norm: norm, dir: dir}
}

// Source implements Feed.
func (f *RemoteFeed) Source() models.Source { return models.SourceRemote }

// Fetch implements Feed.
func (f *RemoteFeed) Fetch(ctx context.Context, after int64, limit int) (Batch, error) {
	entries, err := f.log.EventLog(ctx, after, limit)
	if err != nil {
		return Batch{}, err
	}

	batch := Batch{Size: len(entries), Last: after}
	for i := range entries {
		entry := entries[i]
		if entry.ID > batch.Last {
			batch.Last = entry.ID
		}
		if entry.Project == nil {
			metrics.RecordIngest(string(models.SourceRemote), metrics.IngestIgnored)
			continue
		}
		key, ok := f.dir.ProjectForRemoteRoot(remote.FormatID(entry.Project.ID))
		if !ok {
			metrics.RecordIngest(string(models.SourceRemote), metrics.IngestFiltered)
			continue
		}
		ev, err := f.norm.Normalize(entry, key)
		if err != nil {
			metrics.RecordIngest(string(models.SourceRemote), metrics.IngestIgnored)
			logging.Debug().Err(err).Int64("entry_id", entry.ID).Str("event_type", entry.EventType).Msg("Remote entry ignored")
			continue
		}
		batch.Events = append(batch.Events, ev)
	}
	return batch, nil
}

// LocalEventLog is the read side of the Local client used by LocalFeed.
type LocalEventLog interface {
	Events(ctx context.Context, after int64, limit int) ([]local.Event, error)
}

// LocalFeed normalizes the Local topic event log.
type LocalFeed struct {
	log  LocalEventLog
	norm *normalize.Local
}

// NewLocalFeed creates a Local feed.
func NewLocalFeed(log LocalEventLog, norm *normalize.Local) *LocalFeed {
	return &LocalFeed{log: log, norm: norm}
}

// Source implements Feed.
func (f *LocalFeed) Source() models.Source { return models.SourceLocal }

// Fetch implements Feed.
func (f *LocalFeed) Fetch(ctx context.Context, after int64, limit int) (Batch, error) {
	events, err := f.log.Events(ctx, after, limit)
	if err != nil {
		return Batch{}, err
	}

	batch := Batch{Size: len(events), Last: after}
	for i := range events {
		raw := events[i]
		if raw.Sequence > batch.Last {
			batch.Last = raw.Sequence
		}
		ev, err := f.norm.Normalize(raw)
		if err != nil {
			metrics.RecordIngest(string(models.SourceLocal), metrics.IngestIgnored)
			logging.Debug().Err(err).Int64("sequence", raw.Sequence).Str("topic", raw.Topic).Msg("Local event ignored")
			continue
		}
		batch.Events = append(batch.Events, ev)
	}
	return batch, nil
}
