// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/prodsync/internal/api"
	"github.com/tomtom215/prodsync/internal/config"
	"github.com/tomtom215/prodsync/internal/dispatch"
	"github.com/tomtom215/prodsync/internal/failures"
	"github.com/tomtom215/prodsync/internal/fieldmap"
	"github.com/tomtom215/prodsync/internal/identity"
	"github.com/tomtom215/prodsync/internal/ingest"
	"github.com/tomtom215/prodsync/internal/local"
	"github.com/tomtom215/prodsync/internal/logging"
	"github.com/tomtom215/prodsync/internal/normalize"
	"github.com/tomtom215/prodsync/internal/reconcile"
	"github.com/tomtom215/prodsync/internal/remote"
	"github.com/tomtom215/prodsync/internal/supervisor"
	"github.com/tomtom215/prodsync/internal/supervisor/services"
	"github.com/tomtom215/prodsync/internal/wal"
)

func main() {
	os.Exit(run())
}

//nolint:gocyclo // sequential startup
func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}

	logging.Init(loggingConfig(cfg.Logging))
	logging.Info().
		Str("remote_url", cfg.Remote.URL).
		Str("local_url", cfg.Local.URL).
		Str("store_path", cfg.Store.Path).
		Int("workers", cfg.Dispatch.Workers).
		Msg("Starting prodsync")

	backlog, err := wal.Open(walConfig(cfg.Store))
	if err != nil {
		logging.Error().Err(err).Msg("Failed to open store")
		return 1
	}
	defer func() {
		if err := backlog.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()
	db := backlog.DB()

	ids := identity.New(db, identity.Config{
		TombstoneGrace: cfg.Identity.TombstoneGrace,
		PurgeInterval:  cfg.Identity.PurgeInterval,
	})

	fields, err := fieldmap.New(cfg.FieldPairs())
	if err != nil {
		logging.Error().Err(err).Msg("Invalid field map")
		return 1
	}

	remoteClient, err := remote.New(remoteConfig(cfg.Remote), fields)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create remote client")
		return 1
	}
	localClient, err := local.New(localConfig(cfg.Local))
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create local client")
		return 1
	}

	reserved := append([]string{cfg.Remote.ProjectKeyField, cfg.Remote.AutoSyncField}, cfg.Remote.ReservedFields...)
	if cfg.Remote.SyncStatusField != "" {
		reserved = append(reserved, cfg.Remote.SyncStatusField)
	}
	remoteNorm := normalize.NewRemote(fields, reserved...)
	localNorm := normalize.NewLocal(fields)

	directory := ingest.NewDirectory(remoteClient, localClient, ids)
	failureStore := failures.NewStore(db)

	reconciler, err := reconcile.New(reconcile.Deps{
		Local:    localClient,
		Remote:   remoteClient,
		Identity: ids,
		Fields:   fields,
		Projects: directory,
		Failures: failureStore,
		Status:   remoteClient,
	}, reconcileConfig(cfg.Reconcile))
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create reconciler")
		return 1
	}

	dispatcher := dispatch.New(backlog, dispatch.NewMarkStore(db), reconciler, dispatchConfig(cfg.Dispatch))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := failureStore.SyncGauge(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to count open failure records")
	}

	// Recovered events need project policies before a worker picks them up.
	if err := directory.Refresh(ctx); err != nil {
		logging.Warn().Err(err).Msg("Initial project directory refresh failed, pollers will retry")
	}
	recovered, err := dispatcher.Recover(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to recover backlog")
		return 1
	}
	logging.Info().Int("events", recovered).Msg("Backlog recovered")

	watermarks := ingest.NewWatermarkStore(db)
	pollCfg := pollerConfig(cfg.Ingest)
	remotePoller := ingest.NewPoller(
		ingest.NewRemoteFeed(remoteClient, remoteNorm, directory),
		directory,
		ingest.NewEchoFilter(ids, cfg.Remote.Origin, cfg.Ingest.EchoWindow),
		watermarks,
		dispatcher,
		pollCfg,
	)
	localPoller := ingest.NewPoller(
		ingest.NewLocalFeed(localClient, localNorm),
		directory,
		ingest.NewEchoFilter(ids, cfg.Local.Origin, cfg.Ingest.EchoWindow),
		watermarks,
		dispatcher,
		pollCfg,
	)

	handler := api.NewHandler(dispatcher, failureStore, ids, map[string]api.BreakerReporter{
		"remote": remoteClient,
		"local":  localClient,
	})
	server := newHTTPServer(cfg.Server, api.NewRouter(handler, routerConfig(cfg.Server)))

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeConfig(cfg.Supervisor))
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create supervisor tree")
		return 1
	}
	tree.AddStorageService(services.NewLoopService("backlog-compactor", wal.NewCompactor(backlog)))
	tree.AddStorageService(services.NewLoopService("identity-purger", identity.NewPurger(ids)))
	tree.AddDispatchService(services.NewLoopService("dispatcher", dispatcher))
	tree.AddIngestService(services.NewLoopService(remotePoller.Name(), remotePoller))
	tree.AddIngestService(services.NewLoopService(localPoller.Name(), localPoller))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	exitCode := 0
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for services to stop")
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error during shutdown")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
			exitCode = 1
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	// Anything a stuck worker still holds stays pending in the backlog and
	// is replayed on the next start.
	idleCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := dispatcher.WaitIdle(idleCtx); err != nil {
		logging.Warn().Int("pending", dispatcher.Stats().Pending).Msg("Exiting with pending events in the backlog")
	}

	logging.Info().Msg("Prodsync stopped")
	return exitCode
}
