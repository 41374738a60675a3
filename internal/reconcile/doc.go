// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

/*
Package reconcile applies one ChangeEvent from its source store to the
opposite store.

# State machine

Every event moves through

	Received -> Resolving -> Diffing -> Applying -> Committed | Failed

Resolving looks the entity up in the Identity Map. Diffing computes the
target parent, creating unmapped ancestors top-down, or the minimal set of
rename and update ops for a mapped entity. Applying issues the writes and
Committed stamps the Identity Map entry.

# Operations

  - created: create the counterpart (adopting a same-named node under the
    same parent) and link the pair. A create for an entity whose source side
    was marked removed revives it.
  - updated, renamed: apply only changed fields. An update for an entity
    never reconciled first creates it from a source snapshot.
  - removed: never deletes. The source side is marked removed in the
    Identity Map and the entry is tombstoned once both sides agree.
  - full-resync: diff the whole source tree onto the target.

# Conflicts

Each Identity Map entry stamps every canonical field with the time and
source of its last write. A field is dropped from an update when the other
store wrote it at a later wall-clock time.

# Errors

Transient store errors are retried with exponential backoff up to
Config.MaxAttempts. Any other error ends the event Failed and writes a
failure record; the caller moves on to the next event either way.
*/
package reconcile
