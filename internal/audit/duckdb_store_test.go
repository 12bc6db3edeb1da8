// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

//go:build integration

package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory DuckDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupStore(t *testing.T) *DuckDBStore {
	t.Helper()

	store := NewDuckDBStore(setupTestDB(t))
	if err := store.CreateTable(context.Background()); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	return store
}

func sampleEvent(id string, eventType EventType, ts time.Time) *Event {
	return &Event{
		ID:        id,
		Timestamp: ts,
		Type:      eventType,
		Severity:  SeverityInfo,
		Outcome:   OutcomeSuccess,
		Actor: Actor{
			ID:         "user-1",
			Type:       "user",
			Name:       "mdelgado",
			Role:       "admin",
			AuthMethod: "jwt",
		},
		Target: &Target{
			ID:   "track-1",
			Type: "track",
			Name: "Riverside RC Raceway",
		},
		Source: Source{
			IPAddress: "10.0.0.1",
			UserAgent: "test-agent",
		},
		Action:      "create",
		Description: "Track created",
		Metadata:    json.RawMessage(`{"surface":"clay"}`),
		RequestID:   "req-1",
	}
}

func TestDuckDBStoreSaveAndGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	event := sampleEvent("evt-1", EventTypeTrackCreated, time.Now().UTC())
	if err := store.Save(ctx, event); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "evt-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Type != EventTypeTrackCreated {
		t.Errorf("Type = %s, want %s", got.Type, EventTypeTrackCreated)
	}
	if got.Actor.Name != "mdelgado" || got.Actor.Role != "admin" {
		t.Errorf("Actor = %+v", got.Actor)
	}
	if got.Target == nil || got.Target.Name != "Riverside RC Raceway" {
		t.Errorf("Target = %+v", got.Target)
	}
	if len(got.Metadata) == 0 {
		t.Error("Metadata not round-tripped")
	}
}

func TestDuckDBStoreQueryFilters(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	events := []*Event{
		sampleEvent("evt-1", EventTypeTrackCreated, now.Add(-3*time.Hour)),
		sampleEvent("evt-2", EventTypeLoginFailure, now.Add(-2*time.Hour)),
		sampleEvent("evt-3", EventTypeLoginFailure, now.Add(-1*time.Hour)),
	}
	for _, e := range events {
		if err := store.Save(ctx, e); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	results, err := store.Query(ctx, QueryFilter{
		Types:     []EventType{EventTypeLoginFailure},
		OrderBy:   "timestamp",
		OrderDesc: true,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Query returned %d events, want 2", len(results))
	}
	if results[0].ID != "evt-3" {
		t.Errorf("first result = %s, want evt-3 (most recent)", results[0].ID)
	}

	count, err := store.Count(ctx, QueryFilter{Types: []EventType{EventTypeLoginFailure}})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Count = %d, want 2", count)
	}
}

func TestDuckDBStoreSearchText(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	event := sampleEvent("evt-1", EventTypeTrackCreated, time.Now().UTC())
	event.Description = "Track created: Apex Indoor Speedway"
	if err := store.Save(ctx, event); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	results, err := store.Query(ctx, QueryFilter{SearchText: "apex indoor"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("SearchText query returned %d events, want 1", len(results))
	}
}

func TestDuckDBStoreDeleteRetention(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	old := sampleEvent("evt-old", EventTypeLoginSuccess, time.Now().UTC().AddDate(0, 0, -120))
	recent := sampleEvent("evt-new", EventTypeLoginSuccess, time.Now().UTC())
	for _, e := range []*Event{old, recent} {
		if err := store.Save(ctx, e); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	deleted, err := store.Delete(ctx, time.Now().UTC().AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Delete removed %d events, want 1", deleted)
	}

	if _, err := store.Get(ctx, "evt-new"); err != nil {
		t.Errorf("recent event removed by retention: %v", err)
	}
}

func TestDuckDBStoreGetStats(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := store.Save(ctx, sampleEvent("evt-1", EventTypeTrackCreated, now)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	failure := sampleEvent("evt-2", EventTypeLoginFailure, now)
	failure.Severity = SeverityWarning
	failure.Outcome = OutcomeFailure
	if err := store.Save(ctx, failure); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalEvents != 2 {
		t.Errorf("TotalEvents = %d, want 2", stats.TotalEvents)
	}
	if stats.EventsByType[string(EventTypeLoginFailure)] != 1 {
		t.Errorf("EventsByType = %v", stats.EventsByType)
	}
	if stats.EventsByOutcome[string(OutcomeFailure)] != 1 {
		t.Errorf("EventsByOutcome = %v", stats.EventsByOutcome)
	}
	if stats.OldestEvent == nil || stats.NewestEvent == nil {
		t.Error("event time range not populated")
	}
}
