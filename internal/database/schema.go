// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with a timeout suitable for schema
// operations. DDL on a cold database file can be slow on network storage.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates all database tables if they don't exist.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range getTableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

// createIndexes creates secondary indexes for the common query paths.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range getIndexCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", query, err)
		}
	}
	return nil
}

func getTableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR PRIMARY KEY,
			username VARCHAR NOT NULL UNIQUE,
			password_hash VARCHAR NOT NULL,
			role VARCHAR NOT NULL DEFAULT 'user',
			disabled BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_login_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tracks (
			id VARCHAR PRIMARY KEY,
			name VARCHAR NOT NULL,
			slug VARCHAR NOT NULL UNIQUE,
			surface VARCHAR NOT NULL,
			length_meters DOUBLE,
			location VARCHAR,
			timezone VARCHAR NOT NULL DEFAULT 'UTC',
			timing_provider VARCHAR,
			external_ref VARCHAR UNIQUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id VARCHAR PRIMARY KEY,
			track_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			status VARCHAR NOT NULL DEFAULT 'scheduled',
			source VARCHAR NOT NULL DEFAULT 'liverc',
			external_ref VARCHAR UNIQUE,
			starts_at TIMESTAMP NOT NULL,
			ends_at TIMESTAMP,
			ingested_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS races (
			id VARCHAR PRIMARY KEY,
			event_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			class_name VARCHAR,
			round INTEGER NOT NULL DEFAULT 1,
			heat INTEGER NOT NULL DEFAULT 1,
			status VARCHAR NOT NULL DEFAULT 'scheduled',
			external_ref VARCHAR UNIQUE,
			scheduled_at TIMESTAMP,
			duration_seconds INTEGER,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS drivers (
			id VARCHAR PRIMARY KEY,
			display_name VARCHAR NOT NULL,
			external_ref VARCHAR UNIQUE,
			transponder VARCHAR,
			home_track_id VARCHAR,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS race_drivers (
			race_id VARCHAR NOT NULL,
			driver_id VARCHAR NOT NULL,
			car_number INTEGER,
			grid_position INTEGER,
			finish_position INTEGER,
			laps_completed INTEGER NOT NULL DEFAULT 0,
			total_time_ms BIGINT,
			best_lap_ms BIGINT,
			status VARCHAR NOT NULL DEFAULT 'finished',
			PRIMARY KEY (race_id, driver_id)
		)`,
		`CREATE TABLE IF NOT EXISTS laps (
			id VARCHAR PRIMARY KEY,
			race_id VARCHAR NOT NULL,
			driver_id VARCHAR NOT NULL,
			lap_number INTEGER NOT NULL,
			lap_time_ms BIGINT NOT NULL,
			position INTEGER,
			recorded_at TIMESTAMP,
			UNIQUE (race_id, driver_id, lap_number)
		)`,
		`CREATE TABLE IF NOT EXISTS weather_samples (
			id VARCHAR PRIMARY KEY,
			event_id VARCHAR NOT NULL,
			recorded_at TIMESTAMP NOT NULL,
			temperature_c DOUBLE,
			humidity_pct DOUBLE,
			wind_speed_kph DOUBLE,
			condition VARCHAR,
			source VARCHAR NOT NULL DEFAULT 'liverc',
			UNIQUE (event_id, recorded_at)
		)`,
		`CREATE TABLE IF NOT EXISTS ingest_runs (
			id VARCHAR PRIMARY KEY,
			trigger_kind VARCHAR NOT NULL,
			scope VARCHAR,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			events_upserted INTEGER NOT NULL DEFAULT 0,
			races_upserted INTEGER NOT NULL DEFAULT 0,
			laps_inserted INTEGER NOT NULL DEFAULT 0,
			weather_inserted INTEGER NOT NULL DEFAULT 0,
			outcome VARCHAR NOT NULL DEFAULT 'running',
			error VARCHAR
		)`,
	}
}

func getIndexCreationQueries() []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_events_track ON events (track_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_starts_at ON events (starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_races_event ON races (event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_laps_race_driver ON laps (race_id, driver_id)`,
		`CREATE INDEX IF NOT EXISTS idx_laps_driver ON laps (driver_id)`,
		`CREATE INDEX IF NOT EXISTS idx_weather_event ON weather_samples (event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs (started_at)`,
	}
}
