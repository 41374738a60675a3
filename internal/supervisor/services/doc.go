// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

// Package services adapts long-running components to suture.Service.
//
// LoopService wraps anything with Start(ctx)/Stop(): the two pollers, the
// dispatcher, the backlog compactor and the identity purger.
// HTTPServerService wraps the admin *http.Server and shuts it down
// gracefully on cancellation.
package services
