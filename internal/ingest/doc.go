// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

/*
Package ingest pulls change notifications from both stores.

One Poller runs per store. Every tick it refreshes the project Directory
(sync policies and project-root links), reads the store's change log after
the persisted Watermark page by page, normalizes each entry, drops events
of projects whose policy does not admit the source, drops echoes of the
hub's own writes, and hands the rest to the dispatch queue.

A tick is all-or-nothing: when a page fetch or the enqueue fails, the
watermark is not advanced and the next tick starts from the same position.
Paging stops at an empty or short page, or at MaxPages; the next tick
resumes from there.

Echo detection uses two signals. Writes tagged with the hub's origin are
always echoes. Untagged changes are echoes when the Identity Map shows the
hub wrote exactly these values to this side within the echo window.
*/
package ingest
