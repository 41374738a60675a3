// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package services

import (
	"context"
	"fmt"
)

// StartStopper is the lifecycle shared by the pollers, the dispatcher, the
// backlog compactor and the identity purger. Start launches background
// goroutines and returns; Stop blocks until they exit.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// LoopService adapts a StartStopper to suture's Serve pattern:
//  1. Start(ctx) launches the loop
//  2. Serve blocks until ctx is canceled
//  3. Stop waits for the loop's goroutines
//
// Example:
//
//	poller := ingest.NewPoller(feed, dir, echo, marks, dispatcher, cfg)
//	tree.AddIngestService(services.NewLoopService(poller.Name(), poller))
type LoopService struct {
	loop StartStopper
	name string
}

// NewLoopService wraps loop under name.
func NewLoopService(name string, loop StartStopper) *LoopService {
	return &LoopService{loop: loop, name: name}
}

// Serve implements suture.Service. A Start failure is returned so that
// suture restarts the service with backoff.
func (s *LoopService) Serve(ctx context.Context) error {
	if err := s.loop.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	if err := s.loop.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

// String names the service in supervisor events.
func (s *LoopService) String() string {
	return s.name
}
