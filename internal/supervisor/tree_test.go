// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// waitStarted polls until svc has been started or the deadline passes.
func waitStarted(t *testing.T, svc *MockService, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for svc.StartCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %s to start %d times, got %d", svc, n, svc.StartCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSupervisorTreeConstruction(t *testing.T) {
	t.Run("applies default values for zero config", func(t *testing.T) {
		tree, err := NewSupervisorTree(quietLogger(), TreeConfig{})
		if err != nil {
			t.Fatalf("failed to create tree: %v", err)
		}
		if tree.Root() == nil {
			t.Fatal("root supervisor should not be nil")
		}
		if tree.config != DefaultTreeConfig() {
			t.Errorf("expected default config, got %+v", tree.config)
		}
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{ShutdownTimeout: 45 * time.Second})
		if tree.config.ShutdownTimeout != 45*time.Second {
			t.Errorf("expected 45s shutdown timeout, got %v", tree.config.ShutdownTimeout)
		}
		if tree.config.FailureThreshold != 5.0 {
			t.Errorf("expected default threshold, got %f", tree.config.FailureThreshold)
		}
	})
}

func TestSupervisorTreeLayers(t *testing.T) {
	tests := []struct {
		name string
		add  func(*SupervisorTree, suture.Service) suture.ServiceToken
	}{
		{"storage", (*SupervisorTree).AddStorageService},
		{"ingest", (*SupervisorTree).AddIngestService},
		{"dispatch", (*SupervisorTree).AddDispatchService},
		{"api", (*SupervisorTree).AddAPIService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})
			svc := NewMockService(tt.name + "-service")
			tt.add(tree, svc)

			ctx, cancel := context.WithCancel(context.Background())
			errCh := tree.ServeBackground(ctx)
			waitStarted(t, svc, 1)
			cancel()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, context.Canceled) {
					t.Errorf("unexpected error: %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("tree did not shut down in time")
			}
			if svc.StopCount() != svc.StartCount() {
				t.Errorf("expected every start to be matched by a stop, got %d/%d", svc.StartCount(), svc.StopCount())
			}
		})
	}
}

func TestSupervisorTreeFailureIsolation(t *testing.T) {
	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	poller := NewMockService("remote-poller")
	poller.SetFailCount(2)
	api := NewMockService("admin-api")

	tree.AddIngestService(poller)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	waitStarted(t, poller, 3)
	waitStarted(t, api, 1)

	if api.StartCount() != 1 {
		t.Errorf("expected api to start once while the poller restarted, got %d", api.StartCount())
	}

	cancel()
	<-errCh
}

func TestDefaultTreeConfig(t *testing.T) {
	config := DefaultTreeConfig()

	if config.FailureThreshold != 5.0 {
		t.Errorf("expected FailureThreshold 5.0, got %f", config.FailureThreshold)
	}
	if config.FailureDecay != 30.0 {
		t.Errorf("expected FailureDecay 30.0, got %f", config.FailureDecay)
	}
	if config.FailureBackoff != 15*time.Second {
		t.Errorf("expected FailureBackoff 15s, got %v", config.FailureBackoff)
	}
	if config.ShutdownTimeout != 10*time.Second {
		t.Errorf("expected ShutdownTimeout 10s, got %v", config.ShutdownTimeout)
	}
}
