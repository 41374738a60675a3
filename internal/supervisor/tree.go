// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration. Zero fields take the
// values from DefaultTreeConfig.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	FailureBackoff time.Duration

	// ShutdownTimeout bounds how long each service may take to stop.
	// It must cover a reconciliation's retry budget or the dispatch
	// layer is reported as unstopped.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's built-in defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

func (c TreeConfig) withDefaults() TreeConfig {
	def := DefaultTreeConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = def.FailureDecay
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = def.FailureBackoff
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

func (c TreeConfig) spec() suture.Spec {
	return suture.Spec{
		FailureThreshold: c.FailureThreshold,
		FailureDecay:     c.FailureDecay,
		FailureBackoff:   c.FailureBackoff,
		Timeout:          c.ShutdownTimeout,
	}
}

// layer names a child supervisor.
type layer string

const (
	layerStorage  layer = "storage"
	layerDispatch layer = "dispatch"
	layerIngest   layer = "ingest"
	layerAPI      layer = "api"
)

// startOrder puts the dispatcher before the pollers that feed it.
var startOrder = []layer{layerStorage, layerDispatch, layerIngest, layerAPI}

// SupervisorTree is the process supervisor.
//
//	prodsync
//	├── storage   backlog compactor, identity tombstone purger
//	├── dispatch  worker pool
//	├── ingest    remote poller, local poller
//	└── api       admin HTTP server
//
// A crashing poller is restarted by its own layer without disturbing
// in-flight reconciliations or the admin API.
type SupervisorTree struct {
	root   *suture.Supervisor
	layers map[layer]*suture.Supervisor
	config TreeConfig
}

// NewSupervisorTree creates the tree and its four layers.
func NewSupervisorTree(logger *slog.Logger, config TreeConfig) (*SupervisorTree, error) {
	config = config.withDefaults()

	// MustHook has a pointer receiver. Only the root gets the hook; the
	// layers inherit it when added.
	hook := &sutureslog.Handler{Logger: logger}
	rootSpec := config.spec()
	rootSpec.EventHook = hook.MustHook()

	t := &SupervisorTree{
		root:   suture.New("prodsync", rootSpec),
		layers: make(map[layer]*suture.Supervisor, len(startOrder)),
		config: config,
	}
	for _, l := range startOrder {
		sup := suture.New(string(l), config.spec())
		t.layers[l] = sup
		t.root.Add(sup)
	}
	return t, nil
}

// Root returns the root supervisor.
func (t *SupervisorTree) Root() *suture.Supervisor {
	return t.root
}

// AddStorageService adds a background maintenance loop (compactor, purger).
func (t *SupervisorTree) AddStorageService(svc suture.Service) suture.ServiceToken {
	return t.layers[layerStorage].Add(svc)
}

// AddIngestService adds a change-log poller.
func (t *SupervisorTree) AddIngestService(svc suture.Service) suture.ServiceToken {
	return t.layers[layerIngest].Add(svc)
}

// AddDispatchService adds the dispatcher worker pool.
func (t *SupervisorTree) AddDispatchService(svc suture.Service) suture.ServiceToken {
	return t.layers[layerDispatch].Add(svc)
}

// AddAPIService adds the admin HTTP server.
func (t *SupervisorTree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.layers[layerAPI].Add(svc)
}

// ServeBackground runs the tree in a goroutine. The channel receives the
// result when the tree stops.
func (t *SupervisorTree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (t *SupervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
