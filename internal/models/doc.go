// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

// Package models holds the canonical types shared by every sync component:
// the closed entity-type hierarchy, change events, sync policies and the
// read/write contract the two store adapters implement.
package models
