// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

/*
Package identity implements the Identity Map: the persistent cross-reference
between Local and Remote ids of the same entity.

# Storage layout

The map lives in the shared BadgerDB instance under its own prefixes:

	ident:e:{entry_id}                          -> Entry (JSON)
	ident:l:{project}:{entity_type}:{local_id}  -> entry_id
	ident:r:{project}:{entity_type}:{remote_id} -> entry_id

Both index keys are written in the same transaction as the entry, so a
lookup from either side always finds the same record. Entity equality across
stores is decided only by these records, never by name.

# Links and conflicts

Link pairs a Local id with a Remote id. If either id is already paired with
a different counterpart the link is rejected with
*syncerr.IdentityConflictError and nothing is written.

# Removal

Removal never deletes. MarkRemoved flags the reporting side; once both sides
have reported removal the entry is tombstoned. The Purger deletes tombstoned
entries after the configured grace period, which absorbs late duplicate
events for the same ids.

# Locking

Lock hands out per-key scoped locks, keyed by LockKey(project, type, side,
id). Workers hold them across a read-modify-write of an entry and release
them with defer.

# Field stamps

Every entry keeps the time, origin side and value of the last write of each
canonical attribute. The reconciler uses them for per-field last-writer-wins
and for recognising echoes of its own writes.
*/
package identity
