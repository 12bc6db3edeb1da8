// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

// Package ingest pulls race data into RacePulse: a LiveRC timing client
// behind a circuit breaker and rate limiter, a discovery client for the
// external ingestion microservice, and the manager that owns the
// scheduled and manual ingest runs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/jthom32/racepulse/internal/config"
	"github.com/jthom32/racepulse/internal/metrics"
)

// LiveRC wire types. Field names follow LiveRC's JSON API; every record
// carries a stable ref used as the upsert key.

// EventInfo is an event row from the track event listing.
type EventInfo struct {
	Ref      string     `json:"ref"`
	Name     string     `json:"name"`
	StartsAt time.Time  `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
	Status   string     `json:"status"`
}

// RaceInfo is a single heat, qualifier, or main within an event.
type RaceInfo struct {
	Ref             string     `json:"ref"`
	Name            string     `json:"name"`
	ClassName       string     `json:"class_name,omitempty"`
	Round           int        `json:"round,omitempty"`
	Heat            int        `json:"heat,omitempty"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	Status          string     `json:"status"`
}

// EventDetail is the full event document with its race list.
type EventDetail struct {
	EventInfo
	Races []RaceInfo `json:"races"`
}

// RaceEntry is a driver's result line in a race.
type RaceEntry struct {
	DriverRef      string `json:"driver_ref"`
	DriverName     string `json:"driver_name"`
	Transponder    string `json:"transponder,omitempty"`
	CarNumber      int    `json:"car_number,omitempty"`
	GridPosition   int    `json:"grid_position,omitempty"`
	FinishPosition int    `json:"finish_position,omitempty"`
	LapsCompleted  int    `json:"laps_completed"`
	TotalTimeMS    int64  `json:"total_time_ms,omitempty"`
	BestLapMS      int64  `json:"best_lap_ms,omitempty"`
	Status         string `json:"status"`
}

// RaceLap is one timed lap from the race lap chart.
type RaceLap struct {
	DriverRef  string    `json:"driver_ref"`
	LapNumber  int       `json:"lap_number"`
	LapTimeMS  int64     `json:"lap_time_ms"`
	Position   int       `json:"position,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// WeatherReading is a trackside weather observation attached to an event.
type WeatherReading struct {
	RecordedAt   time.Time `json:"recorded_at"`
	TemperatureC float64   `json:"temperature_c"`
	HumidityPct  float64   `json:"humidity_pct,omitempty"`
	WindSpeedKPH float64   `json:"wind_speed_kph,omitempty"`
	Condition    string    `json:"condition,omitempty"`
}

// TimingClientInterface is the surface the ingest manager consumes.
// LiveRCClient implements it directly; CircuitBreakerClient wraps it
// with resilience patterns.
type TimingClientInterface interface {
	Ping(ctx context.Context) error
	ListEvents(ctx context.Context, trackRef string, from, to time.Time) ([]EventInfo, error)
	GetEvent(ctx context.Context, eventRef string) (*EventDetail, error)
	GetRaceResults(ctx context.Context, raceRef string) ([]RaceEntry, error)
	GetRaceLaps(ctx context.Context, raceRef string) ([]RaceLap, error)
	GetEventWeather(ctx context.Context, eventRef string) ([]WeatherReading, error)
}

// maxErrorBodyBytes bounds how much of an upstream error body is read
// into error messages.
const maxErrorBodyBytes = 1024

// ErrUpstreamNotFound is returned when LiveRC no longer serves the
// requested resource. Archived events disappear from the API while
// their local copies stay valid.
var ErrUpstreamNotFound = errors.New("resource not found upstream")

// LiveRCClient talks to the LiveRC JSON API. Safe for concurrent use;
// each request builds its own http.Request.
type LiveRCClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewLiveRCClient creates a client from config. The base URL must be an
// absolute http(s) URL.
func NewLiveRCClient(cfg *config.LiveRCConfig) (*LiveRCClient, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse liverc url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("liverc url must be http or https, got %q", cfg.URL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("liverc url has no host: %q", cfg.URL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &LiveRCClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// getJSON performs a GET against path and decodes the JSON body into out.
func (c *LiveRCClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.TimingAPICallDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("liverc request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("liverc %s: %w", path, ErrUpstreamNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body := readErrorBody(resp.Body)
		return fmt.Errorf("liverc %s returned status %d: %s", path, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode liverc %s response: %w", path, err)
	}
	return nil
}

// readErrorBody reads a bounded prefix of an error response body.
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil || len(body) == 0 {
		return "(no body)"
	}
	return string(body)
}

// Ping verifies connectivity to the LiveRC API.
func (c *LiveRCClient) Ping(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, "/api/ping", nil, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("liverc ping returned status %q", out.Status)
	}
	return nil
}

// ListEvents returns events for a track within the [from, to] window.
func (c *LiveRCClient) ListEvents(ctx context.Context, trackRef string, from, to time.Time) ([]EventInfo, error) {
	if trackRef == "" {
		return nil, fmt.Errorf("track ref is required")
	}

	query := url.Values{}
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))

	var out struct {
		Events []EventInfo `json:"events"`
	}
	path := "/api/tracks/" + url.PathEscape(trackRef) + "/events"
	if err := c.getJSON(ctx, path, query, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// GetEvent returns the full event document including its races.
func (c *LiveRCClient) GetEvent(ctx context.Context, eventRef string) (*EventDetail, error) {
	if eventRef == "" {
		return nil, fmt.Errorf("event ref is required")
	}

	var out EventDetail
	path := "/api/events/" + url.PathEscape(eventRef)
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRaceResults returns the result sheet for a race.
func (c *LiveRCClient) GetRaceResults(ctx context.Context, raceRef string) ([]RaceEntry, error) {
	if raceRef == "" {
		return nil, fmt.Errorf("race ref is required")
	}

	var out struct {
		Entries []RaceEntry `json:"entries"`
	}
	path := "/api/races/" + url.PathEscape(raceRef) + "/results"
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// GetRaceLaps returns the per-lap chart for a race.
func (c *LiveRCClient) GetRaceLaps(ctx context.Context, raceRef string) ([]RaceLap, error) {
	if raceRef == "" {
		return nil, fmt.Errorf("race ref is required")
	}

	var out struct {
		Laps []RaceLap `json:"laps"`
	}
	path := "/api/races/" + url.PathEscape(raceRef) + "/laps"
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Laps, nil
}

// GetEventWeather returns trackside weather samples for an event.
func (c *LiveRCClient) GetEventWeather(ctx context.Context, eventRef string) ([]WeatherReading, error) {
	if eventRef == "" {
		return nil, fmt.Errorf("event ref is required")
	}

	var out struct {
		Samples []WeatherReading `json:"samples"`
	}
	path := "/api/events/" + url.PathEscape(eventRef) + "/weather"
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Samples, nil
}
