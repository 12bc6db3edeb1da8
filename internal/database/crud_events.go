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

// EventFilter narrows ListEvents results.
type EventFilter struct {
	TrackID string
	Status  string
	Source  string
	From    *time.Time
	To      *time.Time
	Query   string
	Limit   int
	Offset  int
}

const eventColumns = `id, track_id, name, status, source, external_ref, starts_at, ends_at, ingested_at`

// CreateEvent inserts a manually created event.
func (db *DB) CreateEvent(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Status == "" {
		event.Status = models.EventScheduled
	}
	if event.Source == "" {
		event.Source = models.SourceManual
	}
	now := time.Now().UTC()

	query := `INSERT INTO events (` + eventColumns + `, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query,
		event.ID, event.TrackID, event.Name, event.Status, event.Source,
		nullString(event.ExternalRef), event.StartsAt, event.EndsAt, event.IngestedAt,
		now, now)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// UpsertEventByExternalRef inserts an ingested event or refreshes the
// mutable fields of an existing one. Returns the stored event.
func (db *DB) UpsertEventByExternalRef(ctx context.Context, event *models.Event) (*models.Event, error) {
	if event.ExternalRef == "" {
		return nil, fmt.Errorf("upsert requires external_ref")
	}
	now := time.Now().UTC()
	event.IngestedAt = &now

	existing, err := db.GetEventByExternalRef(ctx, event.ExternalRef)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if err := db.CreateEvent(ctx, event); err != nil {
			return nil, err
		}
		return event, nil
	}

	query := `UPDATE events SET name = ?, status = ?, starts_at = ?, ends_at = ?,
		ingested_at = ?, updated_at = ? WHERE id = ?`
	_, err = db.conn.ExecContext(ctx, query,
		event.Name, event.Status, event.StartsAt, event.EndsAt, event.IngestedAt,
		now, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	event.ID = existing.ID
	event.TrackID = existing.TrackID
	event.Source = existing.Source
	return event, nil
}

// GetEvent fetches an event with its track populated.
func (db *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
	event, err := scanEventRow(db.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event: %w", ErrNotFound)
		}
		return nil, err
	}
	track, err := db.GetTrack(ctx, event.TrackID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	event.Track = track
	return event, nil
}

// GetEventByExternalRef fetches an event by its timing-provider ref.
func (db *DB) GetEventByExternalRef(ctx context.Context, ref string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE external_ref = ?`
	event, err := scanEventRow(db.conn.QueryRowContext(ctx, query, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event: %w", ErrNotFound)
	}
	return event, err
}

// ListEvents returns events matching the filter, newest first.
func (db *DB) ListEvents(ctx context.Context, filter EventFilter) ([]models.Event, int, error) {
	whereClause, args := buildEventWhereClause(filter)

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM events WHERE 1=1%s", whereClause)
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	query := fmt.Sprintf("SELECT "+eventColumns+" FROM events WHERE 1=1%s ORDER BY starts_at DESC LIMIT ? OFFSET ?", whereClause)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}
	defer closeWithLog(rows, "events rows")

	events := make([]models.Event, 0)
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *event)
	}
	return events, total, rows.Err()
}

// UpdateEventStatus transitions an event's lifecycle state.
func (db *DB) UpdateEventStatus(ctx context.Context, id, status string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE events SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return requireRowAffected(result, "event")
}

func buildEventWhereClause(filter EventFilter) (string, []interface{}) {
	var whereClause string
	var args []interface{}

	if filter.TrackID != "" {
		whereClause += " AND track_id = ?"
		args = append(args, filter.TrackID)
	}
	if filter.Status != "" {
		whereClause += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Source != "" {
		whereClause += " AND source = ?"
		args = append(args, filter.Source)
	}
	if filter.From != nil {
		whereClause += " AND starts_at >= ?"
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		whereClause += " AND starts_at <= ?"
		args = append(args, *filter.To)
	}
	if filter.Query != "" {
		whereClause += " AND name ILIKE ?"
		args = append(args, "%"+filter.Query+"%")
	}
	return whereClause, args
}

func scanEventRow(row rowScanner) (*models.Event, error) {
	var event models.Event
	var ref sql.NullString
	var endsAt, ingestedAt sql.NullTime
	err := row.Scan(&event.ID, &event.TrackID, &event.Name, &event.Status,
		&event.Source, &ref, &event.StartsAt, &endsAt, &ingestedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	event.ExternalRef = ref.String
	if endsAt.Valid {
		event.EndsAt = &endsAt.Time
	}
	if ingestedAt.Valid {
		event.IngestedAt = &ingestedAt.Time
	}
	return &event, nil
}
