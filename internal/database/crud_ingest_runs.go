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

const ingestRunColumns = `id, trigger_kind, scope, started_at, finished_at,
	events_upserted, races_upserted, laps_inserted, weather_inserted, outcome, error`

// CreateIngestRun records the start of an ingest run.
func (db *DB) CreateIngestRun(ctx context.Context, run *models.IngestRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	query := `INSERT INTO ingest_runs (id, trigger_kind, scope, started_at, outcome)
		VALUES (?, ?, ?, ?, 'running')`
	_, err := db.conn.ExecContext(ctx, query,
		run.ID, run.Trigger, nullString(run.Scope), run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ingest run: %w", err)
	}
	return nil
}

// FinishIngestRun records a run's counters and outcome.
func (db *DB) FinishIngestRun(ctx context.Context, run *models.IngestRun) error {
	now := time.Now().UTC()
	run.FinishedAt = &now

	query := `UPDATE ingest_runs SET finished_at = ?, events_upserted = ?,
		races_upserted = ?, laps_inserted = ?, weather_inserted = ?,
		outcome = ?, error = ? WHERE id = ?`
	result, err := db.conn.ExecContext(ctx, query,
		run.FinishedAt, run.EventsUpserted, run.RacesUpserted,
		run.LapsInserted, run.WeatherInserted, run.Outcome,
		nullString(run.Error), run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish ingest run: %w", err)
	}
	return requireRowAffected(result, "ingest run")
}

// ListIngestRuns returns the most recent runs, newest first.
func (db *DB) ListIngestRuns(ctx context.Context, limit, offset int) ([]models.IngestRun, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingest_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count ingest runs: %w", err)
	}

	query := `SELECT ` + ingestRunColumns + ` FROM ingest_runs
		ORDER BY started_at DESC LIMIT ? OFFSET ?`
	rows, err := db.conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query ingest runs: %w", err)
	}
	defer closeWithLog(rows, "ingest runs rows")

	runs := make([]models.IngestRun, 0)
	for rows.Next() {
		run, err := scanIngestRunRow(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

// LastIngestRun returns the most recently finished run, or ErrNotFound
// when no run has completed yet.
func (db *DB) LastIngestRun(ctx context.Context) (*models.IngestRun, error) {
	query := `SELECT ` + ingestRunColumns + ` FROM ingest_runs
		WHERE finished_at IS NOT NULL ORDER BY finished_at DESC LIMIT 1`
	run, err := scanIngestRunRow(db.conn.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ingest run: %w", ErrNotFound)
	}
	return run, err
}

func scanIngestRunRow(row rowScanner) (*models.IngestRun, error) {
	var run models.IngestRun
	var scope, outcome, runErr sql.NullString
	var finishedAt sql.NullTime
	err := row.Scan(&run.ID, &run.Trigger, &scope, &run.StartedAt, &finishedAt,
		&run.EventsUpserted, &run.RacesUpserted, &run.LapsInserted,
		&run.WeatherInserted, &outcome, &runErr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan ingest run: %w", err)
	}
	run.Scope = scope.String
	run.Outcome = outcome.String
	run.Error = runErr.String
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}
