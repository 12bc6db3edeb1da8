// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) (*Logger, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore(100)
	logger := NewLogger(store, &Config{
		Enabled:         true,
		LogLevel:        SeverityInfo,
		RetentionDays:   90,
		CleanupInterval: time.Hour,
		BufferSize:      16,
	})
	t.Cleanup(func() { logger.Close() })
	return logger, store
}

func waitForEvents(t *testing.T, store *MemoryStore, want int64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		count, err := store.Count(context.Background(), QueryFilter{})
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if count >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("store never reached %d events", want)
}

func TestLoggerWritesAsync(t *testing.T) {
	logger, store := newTestLogger(t)

	logger.LogLoginSuccess(context.Background(),
		ActorFromClaims("user-1", "mdelgado", "user", "jwt"),
		Source{IPAddress: "10.0.0.1"},
	)
	waitForEvents(t, store, 1)

	events, err := store.Query(context.Background(), QueryFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if events[0].Type != EventTypeLoginSuccess {
		t.Errorf("Type = %s, want %s", events[0].Type, EventTypeLoginSuccess)
	}
	if events[0].ID == "" {
		t.Error("event ID not generated")
	}
	if events[0].Timestamp.IsZero() {
		t.Error("event timestamp not set")
	}
}

func TestLoggerSeverityFilter(t *testing.T) {
	store := NewMemoryStore(100)
	logger := NewLogger(store, &Config{
		Enabled:    true,
		LogLevel:   SeverityWarning,
		BufferSize: 16,
	})
	defer logger.Close()

	// Info is below the warning threshold and must be filtered.
	logger.Log(&Event{Severity: SeverityInfo, Type: EventTypeLoginSuccess})
	logger.Log(&Event{Severity: SeverityCritical, Type: EventTypeLockout})

	waitForEvents(t, store, 1)
	time.Sleep(50 * time.Millisecond)

	count, err := store.Count(context.Background(), QueryFilter{})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("stored %d events, want 1 (info filtered)", count)
	}
}

func TestLoggerDisabled(t *testing.T) {
	store := NewMemoryStore(100)
	logger := NewLogger(store, &Config{
		Enabled:    false,
		LogLevel:   SeverityInfo,
		BufferSize: 16,
	})
	defer logger.Close()

	logger.Log(&Event{Severity: SeverityCritical, Type: EventTypeLockout})
	time.Sleep(50 * time.Millisecond)

	count, err := store.Count(context.Background(), QueryFilter{})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("stored %d events while disabled, want 0", count)
	}
}

func TestLoggerCloseDrainsBuffer(t *testing.T) {
	store := NewMemoryStore(100)
	logger := NewLogger(store, &Config{
		Enabled:    true,
		LogLevel:   SeverityInfo,
		BufferSize: 16,
	})

	for i := 0; i < 5; i++ {
		logger.LogLoginFailure(context.Background(), "mdelgado", Source{IPAddress: "10.0.0.1"}, "bad password")
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	count, err := store.Count(context.Background(), QueryFilter{})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 5 {
		t.Errorf("stored %d events after Close, want 5", count)
	}
}

func TestMemoryStoreQueryFilters(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()

	now := time.Now()
	events := []*Event{
		{ID: "1", Timestamp: now.Add(-2 * time.Hour), Type: EventTypeTrackCreated, Severity: SeverityWarning, Outcome: OutcomeSuccess, Actor: Actor{ID: "user-1"}, Description: "Track created: Riverside"},
		{ID: "2", Timestamp: now.Add(-1 * time.Hour), Type: EventTypeLoginFailure, Severity: SeverityWarning, Outcome: OutcomeFailure, Actor: Actor{ID: "user-2"}, Description: "Authentication failed"},
		{ID: "3", Timestamp: now, Type: EventTypeLoginFailure, Severity: SeverityWarning, Outcome: OutcomeFailure, Actor: Actor{ID: "user-2"}, Description: "Authentication failed"},
	}
	for _, e := range events {
		if err := store.Save(ctx, e); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	results, err := store.Query(ctx, QueryFilter{Types: []EventType{EventTypeLoginFailure}, Limit: 10})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Query returned %d events, want 2", len(results))
	}
	if results[0].ID != "3" {
		t.Errorf("first result = %s, want most recent", results[0].ID)
	}

	results, err = store.Query(ctx, QueryFilter{ActorID: "user-1"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != "1" {
		t.Errorf("ActorID filter results = %+v", results)
	}

	results, err = store.Query(ctx, QueryFilter{SearchText: "riverside"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 1 {
		t.Errorf("SearchText filter returned %d events, want 1", len(results))
	}

	removed, err := store.Delete(ctx, now.Add(-90*time.Minute))
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Delete removed %d, want 1", removed)
	}
}

func TestSourceFromRequestIgnoresProxyHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.RemoteAddr = "203.0.113.7:51000"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	req.Header.Set("User-Agent", "test-agent")

	source := SourceFromRequest(req)
	// Proxy headers are resolved by the router's trusted-proxy
	// middleware before requests get here; raw headers must not win.
	if source.IPAddress != "203.0.113.7" {
		t.Errorf("IPAddress = %q, want %q", source.IPAddress, "203.0.113.7")
	}
	if source.UserAgent != "test-agent" {
		t.Errorf("UserAgent = %q", source.UserAgent)
	}

	// A RemoteAddr already rewritten to a bare IP passes through.
	req.RemoteAddr = "198.51.100.9"
	if got := SourceFromRequest(req).IPAddress; got != "198.51.100.9" {
		t.Errorf("IPAddress = %q, want %q", got, "198.51.100.9")
	}
}

// gatedStore blocks Save until released so tests can hold the writer
// goroutine mid-write and fill the buffer deterministically.
type gatedStore struct {
	*MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Save(ctx context.Context, event *Event) error {
	s.entered <- struct{}{}
	<-s.release
	return s.MemoryStore.Save(ctx, event)
}

func TestLoggerDropsOldestOnFullBuffer(t *testing.T) {
	store := &gatedStore{
		MemoryStore: NewMemoryStore(100),
		entered:     make(chan struct{}, 16),
		release:     make(chan struct{}),
	}
	logger := NewLogger(store, &Config{
		Enabled:         true,
		LogLevel:        SeverityInfo,
		RetentionDays:   90,
		CleanupInterval: time.Hour,
		BufferSize:      2,
	})

	event := func(id string) *Event {
		return &Event{ID: id, Type: EventTypeLoginSuccess, Severity: SeverityInfo}
	}

	// The writer picks up the first event and parks inside Save.
	logger.Log(event("a"))
	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never reached the store")
	}

	// Fill the buffer, then overflow it.
	logger.Log(event("b"))
	logger.Log(event("c"))
	logger.Log(event("d"))

	if got := logger.Drops(); got != 1 {
		t.Fatalf("Drops() = %d, want 1", got)
	}

	close(store.release)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// The newest event survived; the oldest buffered one was shed.
	if _, err := store.Get(context.Background(), "d"); err != nil {
		t.Error("newest event was dropped instead of the oldest")
	}
	if _, err := store.Get(context.Background(), "b"); err == nil {
		t.Error("oldest buffered event was kept; drop-oldest not applied")
	}
}
