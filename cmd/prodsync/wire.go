// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/tomtom215/prodsync/internal/api"
	"github.com/tomtom215/prodsync/internal/config"
	"github.com/tomtom215/prodsync/internal/dispatch"
	"github.com/tomtom215/prodsync/internal/ingest"
	"github.com/tomtom215/prodsync/internal/local"
	"github.com/tomtom215/prodsync/internal/logging"
	"github.com/tomtom215/prodsync/internal/reconcile"
	"github.com/tomtom215/prodsync/internal/remote"
	"github.com/tomtom215/prodsync/internal/supervisor"
	"github.com/tomtom215/prodsync/internal/transport"
	"github.com/tomtom215/prodsync/internal/wal"
)

func loggingConfig(cfg config.LoggingConfig) logging.Config {
	return logging.Config{
		Level:     cfg.Level,
		Format:    cfg.Format,
		Caller:    cfg.Caller,
		Timestamp: true,
		Service:   "prodsync",
		Instance:  hostname(),
		Output:    os.Stderr,
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func walConfig(cfg config.StoreConfig) *wal.Config {
	return &wal.Config{
		Path:             cfg.Path,
		InMemory:         cfg.InMemory,
		SyncWrites:       cfg.SyncWrites,
		CompactInterval:  cfg.CompactInterval,
		MemTableSize:     cfg.MemTableSize,
		ValueLogFileSize: cfg.ValueLogFileSize,
		NumCompactors:    cfg.NumCompactors,
		BlockCacheSize:   cfg.BlockCacheSize,
		Compression:      cfg.Compression,
		GCRatio:          cfg.GCRatio,
		CloseTimeout:     cfg.CloseTimeout,
	}
}

func remoteConfig(cfg config.RemoteConfig) remote.Config {
	return remote.Config{
		Transport: transport.Config{
			BaseURL:           cfg.URL,
			Token:             cfg.Token,
			TokenHeader:       cfg.TokenHeader,
			Origin:            cfg.Origin,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			Breaker:           transport.BreakerConfig{Timeout: cfg.BreakerTimeout},
		},
		AutoSyncField:   cfg.AutoSyncField,
		ProjectKeyField: cfg.ProjectKeyField,
		SyncStatusField: cfg.SyncStatusField,
	}
}

func localConfig(cfg config.LocalConfig) local.Config {
	return local.Config{
		Transport: transport.Config{
			BaseURL:           cfg.URL,
			Token:             cfg.Token,
			TokenHeader:       cfg.TokenHeader,
			Origin:            cfg.Origin,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			Breaker:           transport.BreakerConfig{Timeout: cfg.BreakerTimeout},
		},
		PushField: cfg.PushField,
	}
}

func pollerConfig(cfg config.IngestConfig) ingest.Config {
	return ingest.Config{
		Interval: cfg.PollInterval,
		PageSize: cfg.PageSize,
		MaxPages: cfg.MaxPages,
	}
}

func dispatchConfig(cfg config.DispatchConfig) dispatch.Config {
	return dispatch.Config{Workers: cfg.Workers}
}

func reconcileConfig(cfg config.ReconcileConfig) reconcile.Config {
	return reconcile.Config{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		ResyncDepth:    cfg.ResyncDepth,
	}
}

func treeConfig(cfg config.SupervisorConfig) supervisor.TreeConfig {
	return supervisor.TreeConfig{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		ShutdownTimeout:  cfg.ShutdownTimeout,
	}
}

func routerConfig(cfg config.ServerConfig) api.RouterConfig {
	return api.RouterConfig{
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		RateLimitDisabled: cfg.RateLimitDisabled,
	}
}

func newHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
