// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

// Package testinfra provides in-process test doubles for the two stores.
//
// MemStore implements models.Store in memory and records every create and
// update it receives, so reconciliation tests can assert on the exact calls
// made against a target:
//
//	local := testinfra.NewMemStore(models.SourceLocal, "L")
//	local.Seed(models.Node{ID: "demo", Type: models.EntityProject, Name: "demo"})
//	// ... run the reconciler ...
//	if local.CountWrites(testinfra.WriteCreate) != 3 {
//	    t.Errorf("expected 3 creates, got %d", local.CountWrites(testinfra.WriteCreate))
//	}
//
// There is no delete on MemStore, matching models.Store; CheckTree verifies
// that every node's parent exists and was created before it.
package testinfra
