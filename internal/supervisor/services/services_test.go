// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

// fakeServer implements HTTPServer with controllable behavior.
type fakeServer struct {
	listenErr   error
	shutdownErr error
	shutdowns   atomic.Int32
	release     chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{release: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.release
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(ctx context.Context) error {
	f.shutdowns.Add(1)
	close(f.release)
	return f.shutdownErr
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	srv := newFakeServer()
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	if srv.shutdowns.Load() != 1 {
		t.Errorf("Shutdown calls = %d, want 1", srv.shutdowns.Load())
	}
}

func TestHTTPServerServiceStartupFailure(t *testing.T) {
	srv := newFakeServer()
	srv.listenErr = errors.New("address already in use")
	svc := NewHTTPServerService(srv, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, srv.listenErr) {
		t.Errorf("Serve() error = %v, want wrapped listen error", err)
	}
}

func TestHTTPServerServiceDefaultTimeout(t *testing.T) {
	svc := NewHTTPServerService(newFakeServer(), 0)
	if svc.shutdownTimeout != 10*time.Second {
		t.Errorf("shutdownTimeout = %v, want 10s", svc.shutdownTimeout)
	}
	if svc.String() != "http-server" {
		t.Errorf("String() = %q", svc.String())
	}
}

// fakeRunner blocks until canceled.
type fakeRunner struct {
	started atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context) error {
	f.started.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnerServiceDelegates(t *testing.T) {
	runner := &fakeRunner{}
	svc := NewRunnerService("ingest-manager", runner)
	if svc.String() != "ingest-manager" {
		t.Errorf("String() = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return")
	}
	if runner.started.Load() != 1 {
		t.Errorf("Run calls = %d, want 1", runner.started.Load())
	}
}

// fakeHub implements ContextHub.
type fakeHub struct{}

func (f *fakeHub) RunWithContext(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestWebSocketHubService(t *testing.T) {
	svc := NewWebSocketHubService(&fakeHub{})
	if svc.String() != "websocket-hub" {
		t.Errorf("String() = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
}
