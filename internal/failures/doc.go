// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

// Package failures stores a durable, inspectable record for every event
// that ended in the Failed state, so a stalled project is visible and a
// failed event can be retried by an operator.
package failures
