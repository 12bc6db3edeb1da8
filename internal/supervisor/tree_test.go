// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package supervisor

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// blockingService runs until its context is canceled and counts starts.
type blockingService struct {
	starts atomic.Int32
	name   string
}

func (s *blockingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingService) String() string { return s.name }

// panickyService panics a fixed number of times before settling down.
type panickyService struct {
	remaining atomic.Int32
	settled   chan struct{}
}

func (s *panickyService) Serve(ctx context.Context) error {
	if s.remaining.Add(-1) >= 0 {
		panic("transient failure")
	}
	select {
	case s.settled <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *panickyService) String() string { return "panicky" }

func TestNewTreeAppliesDefaults(t *testing.T) {
	tree, err := NewTree(testLogger(), TreeConfig{})
	if err != nil {
		t.Fatalf("NewTree() error = %v", err)
	}
	if tree.config.FailureThreshold != 5.0 {
		t.Errorf("FailureThreshold = %v, want 5.0", tree.config.FailureThreshold)
	}
	if tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", tree.config.ShutdownTimeout)
	}
	if tree.Root() == nil {
		t.Error("Root() = nil")
	}
}

func TestTreeRunsServicesInAllLayers(t *testing.T) {
	tree, err := NewTree(testLogger(), DefaultTreeConfig())
	if err != nil {
		t.Fatalf("NewTree() error = %v", err)
	}

	ingestSvc := &blockingService{name: "ingest"}
	msgSvc := &blockingService{name: "messaging"}
	apiSvc := &blockingService{name: "api"}
	tree.AddIngestService(ingestSvc)
	tree.AddMessagingService(msgSvc)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	done := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for ingestSvc.starts.Load() == 0 || msgSvc.starts.Load() == 0 || apiSvc.starts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("services not started: ingest=%d messaging=%d api=%d",
				ingestSvc.starts.Load(), msgSvc.starts.Load(), apiSvc.starts.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}

func TestTreeRestartsPanickedService(t *testing.T) {
	tree, err := NewTree(testLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewTree() error = %v", err)
	}

	svc := &panickyService{settled: make(chan struct{}, 1)}
	svc.remaining.Store(2)
	tree.AddIngestService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := tree.ServeBackground(ctx)

	select {
	case <-svc.settled:
	case <-time.After(5 * time.Second):
		t.Fatal("service was not restarted after panicking")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}

func TestTreeRemoveAndWait(t *testing.T) {
	tree, err := NewTree(testLogger(), DefaultTreeConfig())
	if err != nil {
		t.Fatalf("NewTree() error = %v", err)
	}

	svc := &blockingService{name: "removable"}
	token := tree.AddIngestService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for svc.starts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("service never started")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Tokens are scoped to the supervisor that issued them.
	if err := tree.ingest.RemoveAndWait(token, 2*time.Second); err != nil {
		t.Fatalf("RemoveAndWait() error = %v", err)
	}

	cancel()
	<-done
}
