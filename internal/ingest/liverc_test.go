// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package ingest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jthom32/racepulse/internal/config"
	"github.com/jthom32/racepulse/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

func newTestClient(t *testing.T, handler http.Handler) *LiveRCClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewLiveRCClient(&config.LiveRCConfig{
		URL:     server.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewLiveRCClient() error = %v", err)
	}
	return client
}

func TestNewLiveRCClientValidatesURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid https", "https://liverc.example.com", false},
		{"valid http", "http://localhost:8080", false},
		{"missing scheme", "liverc.example.com", true},
		{"wrong scheme", "ftp://liverc.example.com", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLiveRCClient(&config.LiveRCConfig{URL: tt.url})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLiveRCClient(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestPing(t *testing.T) {
	var gotPath, gotKey string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if gotPath != "/api/ping" {
		t.Errorf("path = %q, want /api/ping", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("X-Api-Key = %q, want test-key", gotKey)
	}
}

func TestPingDegraded(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"maintenance"}`))
	}))

	if err := client.Ping(context.Background()); err == nil {
		t.Error("Ping() should fail on non-ok status")
	}
}

func TestListEvents(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tracks/apex-raceway/events" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("from") == "" || r.URL.Query().Get("to") == "" {
			t.Error("from/to query params missing")
		}
		_, _ = w.Write([]byte(`{"events":[
			{"ref":"evt-1","name":"Club Race 12","starts_at":"2026-08-22T09:00:00Z","status":"completed"},
			{"ref":"evt-2","name":"Friday Practice","starts_at":"2026-08-21T10:00:00Z","status":"live"}
		]}`))
	}))

	events, err := client.ListEvents(context.Background(), "apex-raceway",
		time.Now().AddDate(0, 0, -7), time.Now())
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Ref != "evt-1" || events[0].Name != "Club Race 12" {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].Status != "live" {
		t.Errorf("events[1].Status = %q, want live", events[1].Status)
	}
}

func TestListEventsRequiresTrackRef(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler())
	if _, err := client.ListEvents(context.Background(), "", time.Now(), time.Now()); err == nil {
		t.Error("ListEvents() with empty track ref should fail")
	}
}

func TestGetEvent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/events/evt-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"ref":"evt-1","name":"Club Race 12","starts_at":"2026-08-22T09:00:00Z","status":"completed",
			"races":[{"ref":"race-1","name":"2WD Buggy A-Main","class_name":"2WD Buggy","round":3,"status":"completed"}]
		}`))
	}))

	detail, err := client.GetEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("GetEvent() error = %v", err)
	}
	if detail.Ref != "evt-1" {
		t.Errorf("Ref = %q, want evt-1", detail.Ref)
	}
	if len(detail.Races) != 1 || detail.Races[0].ClassName != "2WD Buggy" {
		t.Errorf("Races = %+v", detail.Races)
	}
}

func TestGetRaceLapsAndResults(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/races/race-1/results":
			_, _ = w.Write([]byte(`{"entries":[
				{"driver_ref":"drv-1","driver_name":"S. Okafor","finish_position":1,"laps_completed":28,"status":"finished"}
			]}`))
		case "/api/races/race-1/laps":
			_, _ = w.Write([]byte(`{"laps":[
				{"driver_ref":"drv-1","lap_number":1,"lap_time_ms":31450,"position":2,"recorded_at":"2026-08-22T09:05:31Z"}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))

	entries, err := client.GetRaceResults(context.Background(), "race-1")
	if err != nil {
		t.Fatalf("GetRaceResults() error = %v", err)
	}
	if len(entries) != 1 || entries[0].DriverName != "S. Okafor" {
		t.Errorf("entries = %+v", entries)
	}

	laps, err := client.GetRaceLaps(context.Background(), "race-1")
	if err != nil {
		t.Fatalf("GetRaceLaps() error = %v", err)
	}
	if len(laps) != 1 || laps[0].LapTimeMS != 31450 {
		t.Errorf("laps = %+v", laps)
	}
}

func TestGetEventWeather(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/events/evt-1/weather" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"samples":[
			{"recorded_at":"2026-08-22T09:00:00Z","temperature_c":24.5,"humidity_pct":61,"condition":"sunny"}
		]}`))
	}))

	samples, err := client.GetEventWeather(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("GetEventWeather() error = %v", err)
	}
	if len(samples) != 1 || samples[0].TemperatureC != 24.5 {
		t.Errorf("samples = %+v", samples)
	}
}

func TestErrorStatusIncludesBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timing system offline"))
	}))

	_, err := client.GetEvent(context.Background(), "evt-1")
	if err == nil {
		t.Fatal("GetEvent() should fail on 502")
	}
	if got := err.Error(); !strings.Contains(got, "502") || !strings.Contains(got, "offline") {
		t.Errorf("error %q should mention status and body", got)
	}
}
