// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

/*
Package supervisor builds the suture v4 supervisor tree the hub runs under.

# Tree

	prodsync (root)
	├── storage   compactor, tombstone purger
	├── dispatch  worker pool
	├── ingest    remote and local pollers
	└── api       admin HTTP server

Each layer restarts its own failed services with suture's exponential
backoff. Supervisor events go through sutureslog into zerolog via
logging.NewSlogLogger.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
	    ShutdownTimeout: 45 * time.Second,
	})
	tree.AddDispatchService(services.NewLoopService("dispatcher", dispatcher))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	errCh := tree.ServeBackground(ctx)

# Shutdown

Canceling the context stops the layers. The dispatcher finishes in-flight
reconciliations before Stop returns, so ShutdownTimeout must exceed the
reconcile retry budget.
*/
package supervisor
