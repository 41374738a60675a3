// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

// Package logging provides the zerolog-based structured logger used across
// prodsync.
//
// # Overview
//
// A single global logger is configured once at startup from the `logging`
// configuration section:
//
//	logging.Init(logging.Config{
//	    Level:  cfg.Logging.Level,
//	    Format: cfg.Logging.Format,
//	    Caller: cfg.Logging.Caller,
//	})
//
// JSON output is the default. The console format is intended for local
// development.
//
// # Context fields
//
// Every reconciliation runs with its own correlation id and the project key
// it belongs to. Handlers and workers log through Ctx so those fields are
// attached automatically:
//
//	ctx = logging.ContextWithNewCorrelationID(ctx)
//	ctx = logging.ContextWithProject(ctx, ev.ProjectKey)
//	logging.Ctx(ctx).Info().Str("event", ev.ID).Msg("Reconciling event")
//
// Long-lived components use WithComponent:
//
//	log := logging.WithComponent("dispatcher")
//
// # slog bridge
//
// The supervisor tree requires a *slog.Logger. NewSlogLogger returns one
// that writes through zerolog so all output shares one format.
//
// # Thread safety
//
// The global logger is swapped atomically. Init and SetLogger may be
// called at any time; loggers already handed out keep their old settings.
package logging
