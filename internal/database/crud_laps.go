// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jthom32/racepulse/internal/models"
)

// LapFilter narrows ListLaps results. RaceID is required.
type LapFilter struct {
	RaceID   string
	DriverID string
	Limit    int
	Offset   int
}

// InsertLaps bulk-inserts lap records. Re-ingested laps are skipped via
// the (race_id, driver_id, lap_number) uniqueness constraint, so the
// operation is idempotent. Returns the number of rows actually inserted.
func (db *DB) InsertLaps(ctx context.Context, laps []models.Lap) (int, error) {
	if len(laps) == 0 {
		return 0, nil
	}

	query := `INSERT INTO laps (id, race_id, driver_id, lap_number, lap_time_ms, position, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (race_id, driver_id, lap_number) DO NOTHING`
	stmt, err := db.getCachedStmt(ctx, query)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for i := range laps {
		lap := &laps[i]
		if lap.ID == "" {
			lap.ID = uuid.New().String()
		}
		recordedAt := interface{}(lap.RecordedAt)
		if lap.RecordedAt.IsZero() {
			recordedAt = nil
		}
		result, err := stmt.ExecContext(ctx,
			lap.ID, lap.RaceID, lap.DriverID, lap.LapNumber, lap.LapTimeMS,
			nullInt(lap.Position), recordedAt)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert lap %d for driver %s: %w",
				lap.LapNumber, lap.DriverID, err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// ListLaps returns laps for a race, optionally scoped to one driver,
// ordered by driver then lap number.
func (db *DB) ListLaps(ctx context.Context, filter LapFilter) ([]models.Lap, int, error) {
	whereClause := " AND race_id = ?"
	args := []interface{}{filter.RaceID}
	if filter.DriverID != "" {
		whereClause += " AND driver_id = ?"
		args = append(args, filter.DriverID)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM laps WHERE 1=1%s", whereClause)
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count laps: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, race_id, driver_id, lap_number, lap_time_ms, position, recorded_at
		FROM laps WHERE 1=1%s ORDER BY driver_id, lap_number LIMIT ? OFFSET ?`, whereClause)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query laps: %w", err)
	}
	defer closeWithLog(rows, "laps rows")

	laps := make([]models.Lap, 0)
	for rows.Next() {
		var lap models.Lap
		var position sql.NullInt64
		var recordedAt sql.NullTime
		err := rows.Scan(&lap.ID, &lap.RaceID, &lap.DriverID, &lap.LapNumber,
			&lap.LapTimeMS, &position, &recordedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan lap: %w", err)
		}
		lap.Position = int(position.Int64)
		lap.RecordedAt = recordedAt.Time
		laps = append(laps, lap)
	}
	return laps, total, rows.Err()
}

// InsertWeatherSamples bulk-inserts weather observations for an event.
// Duplicate (event_id, recorded_at) pairs are skipped. Returns the number
// of rows actually inserted.
func (db *DB) InsertWeatherSamples(ctx context.Context, samples []models.WeatherSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	query := `INSERT INTO weather_samples
		(id, event_id, recorded_at, temperature_c, humidity_pct, wind_speed_kph, condition, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id, recorded_at) DO NOTHING`
	stmt, err := db.getCachedStmt(ctx, query)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for i := range samples {
		s := &samples[i]
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		if s.Source == "" {
			s.Source = models.SourceLiveRC
		}
		result, err := stmt.ExecContext(ctx,
			s.ID, s.EventID, s.RecordedAt, s.TemperatureC,
			s.HumidityPct, s.WindSpeedKPH, nullString(s.Condition), s.Source)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert weather sample: %w", err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// ListWeatherSamples returns an event's weather observations in time
// order, optionally bounded by a window.
func (db *DB) ListWeatherSamples(ctx context.Context, eventID string, from, to *time.Time) ([]models.WeatherSample, error) {
	whereClause := " AND event_id = ?"
	args := []interface{}{eventID}
	if from != nil {
		whereClause += " AND recorded_at >= ?"
		args = append(args, *from)
	}
	if to != nil {
		whereClause += " AND recorded_at <= ?"
		args = append(args, *to)
	}

	query := fmt.Sprintf(`SELECT id, event_id, recorded_at, temperature_c, humidity_pct,
		wind_speed_kph, condition, source
		FROM weather_samples WHERE 1=1%s ORDER BY recorded_at`, whereClause)
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query weather samples: %w", err)
	}
	defer closeWithLog(rows, "weather rows")

	samples := make([]models.WeatherSample, 0)
	for rows.Next() {
		var s models.WeatherSample
		var temp, humidity, wind sql.NullFloat64
		var condition sql.NullString
		err := rows.Scan(&s.ID, &s.EventID, &s.RecordedAt, &temp, &humidity,
			&wind, &condition, &s.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to scan weather sample: %w", err)
		}
		s.TemperatureC = temp.Float64
		s.HumidityPct = humidity.Float64
		s.WindSpeedKPH = wind.Float64
		s.Condition = condition.String
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
