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

// DriverFilter narrows ListDrivers results.
type DriverFilter struct {
	Query       string
	HomeTrackID string
	Limit       int
	Offset      int
}

const driverColumns = `id, display_name, external_ref, transponder, home_track_id, created_at`

// UpsertDriverByExternalRef inserts an ingested driver or returns the
// existing one. Display names can change between events; the stored name
// is refreshed on every ingest.
func (db *DB) UpsertDriverByExternalRef(ctx context.Context, driver *models.Driver) (*models.Driver, error) {
	if driver.ExternalRef == "" {
		return nil, fmt.Errorf("upsert requires external_ref")
	}

	existing, err := db.GetDriverByExternalRef(ctx, driver.ExternalRef)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if driver.ID == "" {
			driver.ID = uuid.New().String()
		}
		if driver.CreatedAt.IsZero() {
			driver.CreatedAt = time.Now().UTC()
		}
		query := `INSERT INTO drivers (` + driverColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
		_, err := db.conn.ExecContext(ctx, query,
			driver.ID, driver.DisplayName, driver.ExternalRef,
			nullString(driver.Transponder), nullString(driver.HomeTrackID),
			driver.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert driver: %w", err)
		}
		return driver, nil
	}

	if existing.DisplayName != driver.DisplayName || existing.Transponder != driver.Transponder {
		_, err := db.conn.ExecContext(ctx,
			`UPDATE drivers SET display_name = ?, transponder = ? WHERE id = ?`,
			driver.DisplayName, nullString(driver.Transponder), existing.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to update driver: %w", err)
		}
	}
	driver.ID = existing.ID
	driver.CreatedAt = existing.CreatedAt
	driver.HomeTrackID = existing.HomeTrackID
	return driver, nil
}

// GetDriver fetches a single driver by ID.
func (db *DB) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = ?`
	driver, err := scanDriverRow(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("driver: %w", ErrNotFound)
	}
	return driver, err
}

// GetDriverByExternalRef fetches a driver by timing-provider reference.
func (db *DB) GetDriverByExternalRef(ctx context.Context, ref string) (*models.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE external_ref = ?`
	driver, err := scanDriverRow(db.conn.QueryRowContext(ctx, query, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("driver: %w", ErrNotFound)
	}
	return driver, err
}

// ListDrivers returns drivers matching the filter, ordered by name.
func (db *DB) ListDrivers(ctx context.Context, filter DriverFilter) ([]models.Driver, int, error) {
	var whereClause string
	var args []interface{}

	if filter.Query != "" {
		whereClause += " AND display_name ILIKE ?"
		args = append(args, "%"+filter.Query+"%")
	}
	if filter.HomeTrackID != "" {
		whereClause += " AND home_track_id = ?"
		args = append(args, filter.HomeTrackID)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM drivers WHERE 1=1%s", whereClause)
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count drivers: %w", err)
	}

	query := fmt.Sprintf("SELECT "+driverColumns+" FROM drivers WHERE 1=1%s ORDER BY display_name LIMIT ? OFFSET ?", whereClause)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query drivers: %w", err)
	}
	defer closeWithLog(rows, "drivers rows")

	drivers := make([]models.Driver, 0)
	for rows.Next() {
		driver, err := scanDriverRow(rows)
		if err != nil {
			return nil, 0, err
		}
		drivers = append(drivers, *driver)
	}
	return drivers, total, rows.Err()
}

// ListDriverResults returns a driver's per-race results, newest first.
func (db *DB) ListDriverResults(ctx context.Context, driverID string, limit int) ([]models.DriverResult, error) {
	query := `SELECT r.id, r.name, r.class_name, e.id, e.name, e.starts_at,
			rd.finish_position, rd.laps_completed, rd.total_time_ms, rd.best_lap_ms, rd.status
		FROM race_drivers rd
		JOIN races r ON r.id = rd.race_id
		JOIN events e ON e.id = r.event_id
		WHERE rd.driver_id = ?
		ORDER BY e.starts_at DESC
		LIMIT ?`
	rows, err := db.conn.QueryContext(ctx, query, driverID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query driver results: %w", err)
	}
	defer closeWithLog(rows, "driver results rows")

	results := make([]models.DriverResult, 0)
	for rows.Next() {
		var r models.DriverResult
		var className sql.NullString
		var finishPos, totalTime, bestLap sql.NullInt64
		err := rows.Scan(&r.RaceID, &r.RaceName, &className, &r.EventID, &r.EventName,
			&r.EventStartsAt, &finishPos, &r.LapsCompleted, &totalTime, &bestLap, &r.Status)
		if err != nil {
			return nil, fmt.Errorf("failed to scan driver result: %w", err)
		}
		r.ClassName = className.String
		r.FinishPosition = int(finishPos.Int64)
		r.TotalTimeMS = totalTime.Int64
		r.BestLapMS = bestLap.Int64
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanDriverRow(row rowScanner) (*models.Driver, error) {
	var driver models.Driver
	var ref, transponder, homeTrack sql.NullString
	err := row.Scan(&driver.ID, &driver.DisplayName, &ref, &transponder,
		&homeTrack, &driver.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan driver: %w", err)
	}
	driver.ExternalRef = ref.String
	driver.Transponder = transponder.String
	driver.HomeTrackID = homeTrack.String
	return &driver, nil
}
