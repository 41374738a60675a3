// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

/*
Package config loads and validates the hub configuration.

# Configuration Sources

Values are layered with Koanf v2, later layers winning:
  - Built-in defaults (defaultConfig)
  - An optional YAML file: CONFIG_PATH, ./config.yaml or /etc/prodsync/config.yaml
  - Environment variables listed in envMappings

# Environment Variables

Stores:
  - REMOTE_URL, REMOTE_TOKEN: production-tracking API (required)
  - LOCAL_URL, LOCAL_TOKEN: pipeline API (required)
  - REMOTE_ORIGIN, LOCAL_ORIGIN: writer tag on hub writes (default: prodsync)
  - REMOTE_AUTO_SYNC_FIELD, REMOTE_PROJECT_KEY_FIELD, REMOTE_SYNC_STATUS_FIELD
  - LOCAL_PUSH_FIELD (default: shotgridPush)

Pipeline:
  - INGEST_POLL_INTERVAL (default: 10s), INGEST_PAGE_SIZE (default: 50)
  - DISPATCH_WORKERS (default: 4)
  - RECONCILE_MAX_ATTEMPTS (default: 5), RECONCILE_INITIAL_BACKOFF, RECONCILE_MAX_BACKOFF

Storage:
  - STORE_PATH (default: /data/prodsync)
  - IDENTITY_TOMBSTONE_GRACE (default: 72h)

Admin server and logging:
  - HTTP_HOST, HTTP_PORT (default: 0.0.0.0:8470)
  - LOG_LEVEL, LOG_FORMAT, LOG_CALLER

The field map has no environment form; set it in the YAML file:

	field_map:
	  - local: status
	    remote: sg_status_list
	  - local: frameStart
	    remote: sg_cut_in
	    types: [shot]

# Validation

Validate runs the struct tags through the shared validator and then the
cross-field rules (URL shape, backoff bounds, store limits, field map
uniqueness). A failure stops startup.
*/
package config
