// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

/*
Package dispatch serializes ChangeEvents in front of the reconciler.

Guarantees:
  - at most one event per project is reconciled at any instant, whatever
    its source
  - within a project and source, events run in observed_at order; an event
    arriving after a later one already reached a terminal state is a stale
    no-op
  - different projects run concurrently, bounded by the worker pool
  - an event leaves the durable backlog only after the reconciler returned,
    so a crash causes at most one redundant re-application

Across the two sources of one project, the lane whose head has the earliest
occurred_at goes first. Synthetic events (full resync, failure retry) use a
third FIFO lane and bypass the high-water dedup.
*/
package dispatch
