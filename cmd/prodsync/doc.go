// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

// Command prodsync keeps the production hierarchy of the pipeline store
// (Local) and the production-tracking platform (Remote) in step.
//
// # Startup
//
//  1. Configuration: defaults, optional YAML file, environment (Koanf v2)
//  2. Logging: zerolog with the configured level and format
//  3. Store: one BadgerDB holding the backlog, identity map, watermarks,
//     high-water marks and failure records
//  4. Clients: Remote and Local HTTP clients with rate limiting and
//     circuit breakers
//  5. Recovery: pending backlog entries are reloaded into the queue
//  6. Supervisor tree: storage, dispatch, ingest and api layers
//
// # Configuration
//
// The minimum is the two store endpoints and a store path:
//
//	export REMOTE_URL=https://tracking.example.com
//	export REMOTE_TOKEN=...
//	export LOCAL_URL=http://pipeline:5000
//	export LOCAL_TOKEN=...
//	export STORE_PATH=/data/prodsync
//	./prodsync
//
// See package config for every setting.
//
// # Signal Handling
//
// SIGINT and SIGTERM stop the pollers, let in-flight reconciliations finish,
// shut the admin API down gracefully and close the store. Events that were
// accepted but not finished stay in the backlog and are replayed on the
// next start.
package main
