// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

// Package differ computes the minimal hierarchy edits that align a target
// store onto a source subtree. It is pure: every input is a snapshot taken
// by the caller and nothing here performs I/O.
//
// The differ never emits a delete. Target nodes without a source
// counterpart are left alone.
package differ
