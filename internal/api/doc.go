// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

/*
Package api serves the hub's admin HTTP API.

Routes:

	GET    /api/v1/health                                   status, backlog depth, failures, circuit states
	GET    /api/v1/queue                                    per-project pending counts
	POST   /api/v1/projects/{project}/resync                queue a full resync ({"direction":"from_remote"|"to_remote"})
	GET    /api/v1/projects/{project}/identity/{side}/{type}/{id}
	GET    /api/v1/failures?project=&limit=                 failure records, newest first
	GET    /api/v1/failures/{id}
	POST   /api/v1/failures/{id}/retry                      re-queue as a synthetic event
	DELETE /api/v1/failures/{id}
	GET    /metrics                                         Prometheus exposition

Every JSON answer uses the APIResponse envelope. Requests under /api/v1 are
rate limited per client IP with httprate and timed by the Prometheus
middleware under their chi route pattern.
*/
package api
