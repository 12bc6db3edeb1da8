// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jthom32/racepulse/internal/models"
)

const raceColumns = `id, event_id, name, class_name, round, heat, status, external_ref, scheduled_at, duration_seconds`

// UpsertRaceByExternalRef inserts an ingested race or refreshes an
// existing one keyed by the timing provider's race reference.
func (db *DB) UpsertRaceByExternalRef(ctx context.Context, race *models.Race) (*models.Race, error) {
	if race.ExternalRef == "" {
		return nil, fmt.Errorf("upsert requires external_ref")
	}
	now := time.Now().UTC()

	existing, err := db.getRaceByExternalRef(ctx, race.ExternalRef)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if race.ID == "" {
			race.ID = uuid.New().String()
		}
		if race.Status == "" {
			race.Status = models.EventScheduled
		}
		query := `INSERT INTO races (` + raceColumns + `, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := db.conn.ExecContext(ctx, query,
			race.ID, race.EventID, race.Name, nullString(race.ClassName),
			race.Round, race.Heat, race.Status, race.ExternalRef,
			race.ScheduledAt, nullInt(race.DurationSeconds), now, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert race: %w", err)
		}
		return race, nil
	}

	query := `UPDATE races SET name = ?, class_name = ?, round = ?, heat = ?, status = ?,
		scheduled_at = ?, duration_seconds = ?, updated_at = ? WHERE id = ?`
	_, err = db.conn.ExecContext(ctx, query,
		race.Name, nullString(race.ClassName), race.Round, race.Heat, race.Status,
		race.ScheduledAt, nullInt(race.DurationSeconds), now, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update race: %w", err)
	}
	race.ID = existing.ID
	race.EventID = existing.EventID
	return race, nil
}

// GetRace fetches a race with its driver entries populated.
func (db *DB) GetRace(ctx context.Context, id string) (*models.Race, error) {
	query := `SELECT ` + raceColumns + ` FROM races WHERE id = ?`
	race, err := scanRaceRow(db.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("race: %w", ErrNotFound)
		}
		return nil, err
	}
	entries, err := db.ListRaceEntries(ctx, race.ID)
	if err != nil {
		return nil, err
	}
	race.Entries = entries
	return race, nil
}

func (db *DB) getRaceByExternalRef(ctx context.Context, ref string) (*models.Race, error) {
	query := `SELECT ` + raceColumns + ` FROM races WHERE external_ref = ?`
	race, err := scanRaceRow(db.conn.QueryRowContext(ctx, query, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("race: %w", ErrNotFound)
	}
	return race, err
}

// ListRacesByEvent returns all races for an event ordered by schedule.
func (db *DB) ListRacesByEvent(ctx context.Context, eventID string) ([]models.Race, error) {
	query := `SELECT ` + raceColumns + ` FROM races WHERE event_id = ?
		ORDER BY scheduled_at NULLS LAST, round, heat`
	rows, err := db.conn.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query races: %w", err)
	}
	defer closeWithLog(rows, "races rows")

	races := make([]models.Race, 0)
	for rows.Next() {
		race, err := scanRaceRow(rows)
		if err != nil {
			return nil, err
		}
		races = append(races, *race)
	}
	return races, rows.Err()
}

// UpsertRaceEntry records or updates a driver's participation in a race.
func (db *DB) UpsertRaceEntry(ctx context.Context, entry *models.RaceDriver) error {
	if entry.Status == "" {
		entry.Status = models.ResultFinished
	}

	// DuckDB supports ON CONFLICT on the composite primary key.
	query := `INSERT INTO race_drivers
		(race_id, driver_id, car_number, grid_position, finish_position,
		 laps_completed, total_time_ms, best_lap_ms, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (race_id, driver_id) DO UPDATE SET
			car_number = excluded.car_number,
			grid_position = excluded.grid_position,
			finish_position = excluded.finish_position,
			laps_completed = excluded.laps_completed,
			total_time_ms = excluded.total_time_ms,
			best_lap_ms = excluded.best_lap_ms,
			status = excluded.status`
	stmt, err := db.getCachedStmt(ctx, query)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx,
		entry.RaceID, entry.DriverID, nullInt(entry.CarNumber),
		nullInt(entry.GridPosition), nullInt(entry.FinishPosition),
		entry.LapsCompleted, nullInt64(entry.TotalTimeMS), nullInt64(entry.BestLapMS),
		entry.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert race entry: %w", err)
	}
	return nil
}

// ListRaceEntries returns the entry list for a race ordered by finish
// position, with driver names joined in.
func (db *DB) ListRaceEntries(ctx context.Context, raceID string) ([]models.RaceDriver, error) {
	query := `SELECT rd.race_id, rd.driver_id, rd.car_number, rd.grid_position,
			rd.finish_position, rd.laps_completed, rd.total_time_ms, rd.best_lap_ms,
			rd.status, d.display_name
		FROM race_drivers rd
		JOIN drivers d ON d.id = rd.driver_id
		WHERE rd.race_id = ?
		ORDER BY rd.finish_position NULLS LAST, rd.laps_completed DESC`
	rows, err := db.conn.QueryContext(ctx, query, raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query race entries: %w", err)
	}
	defer closeWithLog(rows, "race entries rows")

	entries := make([]models.RaceDriver, 0)
	for rows.Next() {
		var e models.RaceDriver
		var carNumber, gridPos, finishPos sql.NullInt64
		var totalTime, bestLap sql.NullInt64
		err := rows.Scan(&e.RaceID, &e.DriverID, &carNumber, &gridPos, &finishPos,
			&e.LapsCompleted, &totalTime, &bestLap, &e.Status, &e.DriverName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan race entry: %w", err)
		}
		e.CarNumber = int(carNumber.Int64)
		e.GridPosition = int(gridPos.Int64)
		e.FinishPosition = int(finishPos.Int64)
		e.TotalTimeMS = totalTime.Int64
		e.BestLapMS = bestLap.Int64
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanRaceRow(row rowScanner) (*models.Race, error) {
	var race models.Race
	var className, ref sql.NullString
	var scheduledAt sql.NullTime
	var duration sql.NullInt64
	err := row.Scan(&race.ID, &race.EventID, &race.Name, &className,
		&race.Round, &race.Heat, &race.Status, &ref, &scheduledAt, &duration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan race: %w", err)
	}
	race.ClassName = className.String
	race.ExternalRef = ref.String
	if scheduledAt.Valid {
		race.ScheduledAt = &scheduledAt.Time
	}
	race.DurationSeconds = int(duration.Int64)
	return &race, nil
}

func nullInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullInt64(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
