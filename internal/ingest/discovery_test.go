// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/jthom32/racepulse/internal/config"
)

func newTestDiscoveryClient(t *testing.T, handler http.Handler) *DiscoveryClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewDiscoveryClient(&config.DiscoveryConfig{
		Enabled: true,
		URL:     server.URL,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewDiscoveryClient() error = %v", err)
	}
	return client
}

func TestDiscoverPracticeDays(t *testing.T) {
	var gotReq DiscoveryRequest
	client := newTestDiscoveryClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/api/v1/practice-days/discover" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"practice_days":[
			{"name":"Friday Open Practice","date":"2026-09-04","external_ref":"apex-2026-09-04","classes":["2WD Buggy","4WD Buggy"]},
			{"name":"Saturday Club Race","date":"2026-09-05","external_ref":"apex-2026-09-05"}
		]}`))
	}))

	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	days, err := client.DiscoverPracticeDays(context.Background(), "apex-raceway", from, to)
	if err != nil {
		t.Fatalf("DiscoverPracticeDays() error = %v", err)
	}

	if gotReq.TrackRef != "apex-raceway" || gotReq.From != "2026-09-01" || gotReq.To != "2026-09-30" {
		t.Errorf("request = %+v", gotReq)
	}
	if len(days) != 2 {
		t.Fatalf("len(days) = %d, want 2", len(days))
	}
	if days[0].ExternalRef != "apex-2026-09-04" || len(days[0].Classes) != 2 {
		t.Errorf("days[0] = %+v", days[0])
	}
}

func TestDiscoverPracticeDaysUpstreamError(t *testing.T) {
	client := newTestDiscoveryClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "scrape failed", http.StatusBadGateway)
	}))

	_, err := client.DiscoverPracticeDays(context.Background(), "apex-raceway", time.Now(), time.Now())
	if err == nil {
		t.Error("DiscoverPracticeDays() should fail on 502")
	}
}

func TestDiscoveryDisabled(t *testing.T) {
	client, err := NewDiscoveryClient(&config.DiscoveryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewDiscoveryClient() error = %v", err)
	}
	if client.Enabled() {
		t.Error("Enabled() = true for disabled config")
	}

	_, err = client.DiscoverPracticeDays(context.Background(), "apex-raceway", time.Now(), time.Now())
	if !errors.Is(err, ErrDiscoveryDisabled) {
		t.Errorf("error = %v, want ErrDiscoveryDisabled", err)
	}
}

func TestNewDiscoveryClientValidatesURL(t *testing.T) {
	_, err := NewDiscoveryClient(&config.DiscoveryConfig{Enabled: true, URL: "not a url\x7f"})
	if err == nil {
		t.Error("NewDiscoveryClient() should reject malformed URL")
	}

	_, err = NewDiscoveryClient(&config.DiscoveryConfig{Enabled: true, URL: "ftp://ingest.example.com"})
	if err == nil {
		t.Error("NewDiscoveryClient() should reject non-http scheme")
	}
}
