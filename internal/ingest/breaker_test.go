// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/jthom32/racepulse/internal/config"
)

// stubTimingClient returns canned data or a fixed error.
type stubTimingClient struct {
	err    error
	events []EventInfo
	detail *EventDetail
	calls  int
}

func (s *stubTimingClient) Ping(ctx context.Context) error {
	s.calls++
	return s.err
}

func (s *stubTimingClient) ListEvents(ctx context.Context, trackRef string, from, to time.Time) ([]EventInfo, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

func (s *stubTimingClient) GetEvent(ctx context.Context, eventRef string) (*EventDetail, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.detail, nil
}

func (s *stubTimingClient) GetRaceResults(ctx context.Context, raceRef string) ([]RaceEntry, error) {
	s.calls++
	return nil, s.err
}

func (s *stubTimingClient) GetRaceLaps(ctx context.Context, raceRef string) ([]RaceLap, error) {
	s.calls++
	return nil, s.err
}

func (s *stubTimingClient) GetEventWeather(ctx context.Context, eventRef string) ([]WeatherReading, error) {
	s.calls++
	return nil, s.err
}

func breakerTestConfig() *config.LiveRCConfig {
	// High rate limit keeps limiter waits out of test timing.
	return &config.LiveRCConfig{URL: "http://liverc.test", RateLimit: 10000}
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	inner := &stubTimingClient{
		events: []EventInfo{{Ref: "evt-1", Name: "Club Race"}},
		detail: &EventDetail{EventInfo: EventInfo{Ref: "evt-1"}},
	}
	client := NewCircuitBreakerClient(inner, breakerTestConfig())

	events, err := client.ListEvents(context.Background(), "apex", time.Now(), time.Now())
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Ref != "evt-1" {
		t.Errorf("events = %+v", events)
	}

	detail, err := client.GetEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("GetEvent() error = %v", err)
	}
	if detail.Ref != "evt-1" {
		t.Errorf("detail.Ref = %q", detail.Ref)
	}
	if client.State() != "closed" {
		t.Errorf("State() = %q, want closed", client.State())
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	inner := &stubTimingClient{err: errors.New("connection refused")}
	client := NewCircuitBreakerClient(inner, breakerTestConfig())
	ctx := context.Background()

	// Ten straight failures exceed the 60% trip ratio at the minimum
	// request count.
	for i := 0; i < 10; i++ {
		if err := client.Ping(ctx); err == nil {
			t.Fatal("Ping() should fail")
		}
	}

	if client.State() != "open" {
		t.Fatalf("State() = %q, want open", client.State())
	}

	callsBefore := inner.calls
	err := client.Ping(ctx)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("error = %v, want ErrOpenState", err)
	}
	if inner.calls != callsBefore {
		t.Error("open breaker must not reach the inner client")
	}
}

func TestBreakerStaysClosedBelowMinimumRequests(t *testing.T) {
	inner := &stubTimingClient{err: errors.New("boom")}
	client := NewCircuitBreakerClient(inner, breakerTestConfig())

	for i := 0; i < 9; i++ {
		_ = client.Ping(context.Background())
	}
	if client.State() != "closed" {
		t.Errorf("State() = %q, want closed below 10 requests", client.State())
	}
}

func TestBreakerRateLimiterHonorsContext(t *testing.T) {
	cfg := &config.LiveRCConfig{URL: "http://liverc.test", RateLimit: 0.001}
	client := NewCircuitBreakerClient(&stubTimingClient{}, cfg)

	// Exhaust the single burst token.
	_ = client.Ping(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx); err == nil {
		t.Error("Ping() should fail when the limiter wait outlives the context")
	}
}
