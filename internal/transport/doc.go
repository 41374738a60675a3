// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

/*
Package transport provides the HTTP client shared by the Remote and Local
store adapters.

Every request goes through the same pipeline:

	rate.Limiter.Wait -> circuit breaker -> HTTP (429 retry loop) -> classify

Classification feeds the error taxonomy used by the reconciler:

  - network errors, 408, 429 after the retry budget, 5xx and rejected calls
    on an open circuit become *syncerr.TransientIOError
  - 404 becomes a *StatusError that unwraps to syncerr.ErrNotFound
  - 409 becomes a *StatusError (see IsConflict); store adapters decode its
    body to adopt the id of the existing entity
  - other 4xx are *StatusError and are not retried

Only transient failures count against the circuit breaker.

Writes carry the configured origin header so that the opposite ingestor can
recognise the hub's own changes when they reappear in a change log.
*/
package transport
