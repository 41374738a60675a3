// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

// Package remote is the adapter for the Remote production-tracking store.
//
// It reads projects and the event log for the Remote ingestor, and
// implements models.Store for the reconciler. Numeric Remote ids are carried
// as decimal strings. Attribute names are translated through the field map
// so that callers only ever see canonical (Local) names; the name field is
// "code" for most entity types and "content" for tasks.
package remote
