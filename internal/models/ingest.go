// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package models

import "time"

// Ingest run triggers.
const (
	IngestTriggerScheduled = "scheduled"
	IngestTriggerManual    = "manual"
	IngestTriggerDiscovery = "discovery"
)

// Ingest run outcomes. A run is "partial" when at least one event failed
// but others were ingested.
const (
	IngestOutcomeSuccess = "success"
	IngestOutcomePartial = "partial"
	IngestOutcomeFailure = "failure"
)

// IngestRun records one execution of the ingest pipeline, scheduled or
// manually triggered, for the admin run history.
type IngestRun struct {
	ID              string     `json:"id"`
	Trigger         string     `json:"trigger"`
	Scope           string     `json:"scope"` // event external_ref, or "full"
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	EventsUpserted  int        `json:"events_upserted"`
	RacesUpserted   int        `json:"races_upserted"`
	LapsInserted    int        `json:"laps_inserted"`
	WeatherInserted int        `json:"weather_inserted"`
	Outcome         string     `json:"outcome,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// IngestProgress is the live status payload for an in-flight run.
type IngestProgress struct {
	Running   bool       `json:"running"`
	Trigger   string     `json:"trigger,omitempty"`
	Scope     string     `json:"scope,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastRun   *IngestRun `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}
