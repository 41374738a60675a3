// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

type mockLoop struct {
	startErr error
	stopErr  error
	starts   atomic.Int32
	stops    atomic.Int32
	started  chan struct{}
}

func newMockLoop() *mockLoop {
	return &mockLoop{started: make(chan struct{}, 8)}
}

func (m *mockLoop) Start(context.Context) error {
	m.starts.Add(1)
	select {
	case m.started <- struct{}{}:
	default:
	}
	return m.startErr
}

func (m *mockLoop) Stop() error {
	m.stops.Add(1)
	return m.stopErr
}

var _ suture.Service = (*LoopService)(nil)

func TestLoopService_StartsAndStops(t *testing.T) {
	loop := newMockLoop()
	svc := NewLoopService("remote-poller", loop)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-loop.started:
	case <-time.After(time.Second):
		t.Fatal("loop was not started")
	}
	if loop.stops.Load() != 0 {
		t.Error("expected loop to keep running until cancellation")
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
	if loop.stops.Load() != 1 {
		t.Errorf("expected 1 Stop call, got %d", loop.stops.Load())
	}
	if svc.String() != "remote-poller" {
		t.Errorf("expected remote-poller, got %q", svc.String())
	}
}

func TestLoopService_StartFailure(t *testing.T) {
	loop := newMockLoop()
	loop.startErr = errors.New("watermark unreadable")

	err := NewLoopService("local-poller", loop).Serve(context.Background())
	if !errors.Is(err, loop.startErr) {
		t.Errorf("expected start error, got %v", err)
	}
	if loop.stops.Load() != 0 {
		t.Errorf("expected no Stop after failed Start, got %d", loop.stops.Load())
	}
}

func TestLoopService_StopFailure(t *testing.T) {
	loop := newMockLoop()
	loop.stopErr = errors.New("drain failed")
	svc := NewLoopService("dispatcher", loop)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()
	<-loop.started
	cancel()

	if err := <-errCh; !errors.Is(err, loop.stopErr) {
		t.Errorf("expected stop error, got %v", err)
	}
}

func TestLoopService_RestartedBySupervisor(t *testing.T) {
	loop := newMockLoop()
	loop.startErr = errors.New("transient")

	sup := suture.New("test-sup", suture.Spec{
		FailureThreshold: 10,
		FailureBackoff:   time.Millisecond,
		Timeout:          time.Second,
	})
	sup.Add(NewLoopService("purger", loop))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-loop.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected restart %d", i+1)
		}
	}
	cancel()
	<-errCh

	if loop.starts.Load() < 2 {
		t.Errorf("expected at least 2 starts, got %d", loop.starts.Load())
	}
}
