// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/prodsync/internal/identity"
	"github.com/tomtom215/prodsync/internal/logging"
	"github.com/tomtom215/prodsync/internal/models"
)

// Directory derives per-project sync policies from the project records of
// both stores. Only projects present on both sides get a policy.
type Directory struct {
	remote models.ProjectLister
	local  models.ProjectLister
	ids    *identity.Map

	mu           sync.RWMutex
	policies     map[string]models.SyncPolicy
	byRemoteRoot map[string]string
	refreshedAt  time.Time
}

// NewDirectory creates an empty directory. Call Refresh before use.
func NewDirectory(remote, local models.ProjectLister, ids *identity.Map) *Directory {
	return &Directory{
		remote:       remote,
		local:        local,
		ids:          ids,
		policies:     make(map[string]models.SyncPolicy),
		byRemoteRoot: make(map[string]string),
	}
}

// Refresh lists both stores concurrently and replaces the policy table.
// It also seeds the project-level Identity Map entry of every linked project.
func (d *Directory) Refresh(ctx context.Context) error {
	var remoteProjects, localProjects []models.ProjectInfo

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		remoteProjects, err = d.remote.ListProjects(gctx)
		if err != nil {
			return fmt.Errorf("list remote projects: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		localProjects, err = d.local.ListProjects(gctx)
		if err != nil {
			return fmt.Errorf("list local projects: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	localByKey := make(map[string]models.ProjectInfo, len(localProjects))
	for _, p := range localProjects {
		localByKey[p.Key] = p
	}

	policies := make(map[string]models.SyncPolicy, len(remoteProjects))
	byRemoteRoot := make(map[string]string, len(remoteProjects))
	for _, rp := range remoteProjects {
		lp, ok := localByKey[rp.Key]
		if !ok {
			logging.Debug().Str("project", rp.Key).Msg("Remote project has no Local counterpart")
			continue
		}
		if d.ids != nil {
			if _, err := d.ids.EnsureProject(ctx, rp.Key, lp.RootID, rp.RootID); err != nil {
				logging.Error().Err(err).Str("project", rp.Key).Msg("Cannot link project roots")
				continue
			}
		}
		policies[rp.Key] = models.SyncPolicy{
			ProjectKey:         rp.Key,
			LocalRootID:        lp.RootID,
			RemoteRootID:       rp.RootID,
			AutoSyncFromRemote: rp.Enabled,
			PushToRemote:       lp.Enabled,
		}
		byRemoteRoot[rp.RootID] = rp.Key
	}

	d.mu.Lock()
	d.policies = policies
	d.byRemoteRoot = byRemoteRoot
	d.refreshedAt = time.Now()
	d.mu.Unlock()
	return nil
}

// Policy returns the sync policy of a linked project.
func (d *Directory) Policy(projectKey string) (models.SyncPolicy, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.policies[projectKey]
	return p, ok
}

// ProjectForRemoteRoot maps a Remote project id to its project key.
func (d *Directory) ProjectForRemoteRoot(remoteID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	key, ok := d.byRemoteRoot[remoteID]
	return key, ok
}

// Policies returns every known policy sorted by project key.
func (d *Directory) Policies() []models.SyncPolicy {
	d.mu.RLock()
	out := make([]models.SyncPolicy, 0, len(d.policies))
	for _, p := range d.policies {
		out = append(out, p)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectKey < out[j].ProjectKey })
	return out
}

// RefreshedAt is the time of the last successful refresh.
func (d *Directory) RefreshedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.refreshedAt
}
