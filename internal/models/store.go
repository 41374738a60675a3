// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package models

import "context"

// CreateRequest describes a node to create in a target store.
// Attributes use canonical field names; the store translates them.
type CreateRequest struct {
	ProjectKey string
	Type       EntityType
	Name       string
	Parent     Ref
	Attributes map[string]any
}

// CreateResult is returned by Store.Create. Existing is true when the store
// already held a node with this name under this parent and its id was adopted.
type CreateResult struct {
	ID       string
	Existing bool
}

// Store is the read/write contract both appliers implement.
//
// Create must be idempotent per (parent, name). Get and ReadTree return
// syncerr.ErrNotFound (wrapped) for unknown ids. Store never exposes delete.
type Store interface {
	Source() Source
	Get(ctx context.Context, projectKey string, ref Ref) (*Node, error)
	ReadTree(ctx context.Context, projectKey string, root Ref, depth int) ([]Node, error)
	Create(ctx context.Context, req CreateRequest) (CreateResult, error)
	Update(ctx context.Context, projectKey string, ref Ref, attrs map[string]any) error
}

// ProjectInfo is a project as listed by one store.
type ProjectInfo struct {
	// Key is the shared project key (the Local project name).
	Key string
	// RootID is the project's id inside the listing store.
	RootID string
	// Enabled is the store-side opt-in flag for this direction of sync.
	Enabled bool
}

// ProjectLister lists projects together with their sync opt-in flag.
type ProjectLister interface {
	ListProjects(ctx context.Context) ([]ProjectInfo, error)
}

// SyncPolicy is the per-project gate read by the ingestors.
type SyncPolicy struct {
	ProjectKey         string `json:"project_key"`
	LocalRootID        string `json:"local_root_id,omitempty"`
	RemoteRootID       string `json:"remote_root_id,omitempty"`
	AutoSyncFromRemote bool   `json:"auto_sync_from_remote"`
	PushToRemote       bool   `json:"push_to_remote"`
}

// Allows reports whether events originating in s may be ingested.
func (p SyncPolicy) Allows(s Source) bool {
	if s == SourceRemote {
		return p.AutoSyncFromRemote
	}
	return p.PushToRemote
}

// RootID returns the project root id in the given store.
func (p SyncPolicy) RootID(s Source) string {
	if s == SourceLocal {
		return p.LocalRootID
	}
	return p.RemoteRootID
}
