// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

// Package wal is the durable backlog behind the dispatch queue, built on BadgerDB.
//
// Every ChangeEvent accepted by the dispatch queue is written here before a
// worker may pick it up, and is confirmed only after the reconciler reports
// a terminal outcome (Committed or Failed). A crash between dequeue and
// completion therefore replays the event on restart:
//
//	Enqueue → WAL Write (fsync) → Reconcile → WAL Confirm
//	                                  ↓ (crash)
//	                      entry still pending, replayed by dispatch.Recover
//
// # Components
//
//   - BadgerWAL: pending/confirmed entries, keyed by UUIDv7 so iteration
//     follows write order
//   - Compactor: background removal of confirmed entries plus value-log GC
//
// The same BadgerDB handle (DB) is shared with the identity map, the ingest
// watermarks, the dispatch high-water marks and the failure records. Each of
// them owns a distinct key prefix.
package wal
