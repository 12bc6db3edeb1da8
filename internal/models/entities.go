// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

// Package models defines the domain entities and API payloads shared by
// the database, ingest, and API layers.
package models

import "time"

// Track surface types.
const (
	SurfaceClay   = "clay"
	SurfaceCarpet = "carpet"
	SurfaceAstro  = "astro"
	SurfaceDirt   = "dirt"
)

// Event lifecycle states.
const (
	EventScheduled = "scheduled"
	EventLive      = "live"
	EventCompleted = "completed"
	EventCancelled = "cancelled"
)

// Race entry result states.
const (
	ResultFinished = "finished"
	ResultDNF      = "dnf"
	ResultDNS      = "dns"
	ResultDQ       = "dq"
)

// Data sources for externally ingested rows.
const (
	SourceLiveRC    = "liverc"
	SourceDiscovery = "discovery"
	SourceManual    = "manual"
)

// Track is a physical race track managed by administrators.
//
// ExternalRef is the timing provider's slug for the track (e.g. the LiveRC
// subdomain); it keys re-ingestion and must be unique when set.
type Track struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	Location       string    `json:"location,omitempty"`
	Surface        string    `json:"surface"`
	Timezone       string    `json:"timezone"`
	LengthMeters   float64   `json:"length_meters,omitempty"`
	TimingProvider string    `json:"timing_provider"`
	ExternalRef    string    `json:"external_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Event is a race meeting at a track: a practice day, club race, or
// multi-day national. Events arrive from LiveRC ingestion, from the
// discovery service, or are created manually by an admin.
type Event struct {
	ID          string     `json:"id"`
	TrackID     string     `json:"track_id"`
	Name        string     `json:"name"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Status      string     `json:"status"`
	Source      string     `json:"source"`
	ExternalRef string     `json:"external_ref,omitempty"`
	IngestedAt  *time.Time `json:"ingested_at,omitempty"`

	// Track is populated on detail endpoints only.
	Track *Track `json:"track,omitempty"`
}

// Race is a single heat, qualifier, or main within an event.
type Race struct {
	ID              string     `json:"id"`
	EventID         string     `json:"event_id"`
	Name            string     `json:"name"`
	ClassName       string     `json:"class_name,omitempty"`
	Round           int        `json:"round,omitempty"`
	Heat            int        `json:"heat,omitempty"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	Status          string     `json:"status"`
	ExternalRef     string     `json:"external_ref,omitempty"`

	// Entries is populated on detail endpoints only.
	Entries []RaceDriver `json:"entries,omitempty"`
}

// Driver is a competitor. Transponder numbers are how timing systems
// identify drivers across events.
type Driver struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Transponder string    `json:"transponder,omitempty"`
	HomeTrackID string    `json:"home_track_id,omitempty"`
	ExternalRef string    `json:"external_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RaceDriver is a driver's participation record in a specific race:
// where they started, where they finished, and their aggregate laps.
type RaceDriver struct {
	RaceID         string `json:"race_id"`
	DriverID       string `json:"driver_id"`
	CarNumber      int    `json:"car_number,omitempty"`
	GridPosition   int    `json:"grid_position,omitempty"`
	FinishPosition int    `json:"finish_position,omitempty"`
	LapsCompleted  int    `json:"laps_completed"`
	TotalTimeMS    int64  `json:"total_time_ms,omitempty"`
	BestLapMS      int64  `json:"best_lap_ms,omitempty"`
	Status         string `json:"status"`

	// DriverName is joined in for entry lists.
	DriverName string `json:"driver_name,omitempty"`
}

// Lap is a single timed lap by a driver in a race. Position is the
// driver's running position when the lap was completed.
type Lap struct {
	ID         string    `json:"id"`
	RaceID     string    `json:"race_id"`
	DriverID   string    `json:"driver_id"`
	LapNumber  int       `json:"lap_number"`
	LapTimeMS  int64     `json:"lap_time_ms"`
	Position   int       `json:"position,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// WeatherSample is a point-in-time weather observation for an event.
type WeatherSample struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	RecordedAt   time.Time `json:"recorded_at"`
	TemperatureC float64   `json:"temperature_c"`
	HumidityPct  float64   `json:"humidity_pct,omitempty"`
	WindSpeedKPH float64   `json:"wind_speed_kph,omitempty"`
	Condition    string    `json:"condition,omitempty"`
	Source       string    `json:"source"`
}

// User is an authenticated account. PasswordHash is the argon2id PHC
// string and never leaves the database layer.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	Disabled     bool       `json:"disabled"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// User roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)
