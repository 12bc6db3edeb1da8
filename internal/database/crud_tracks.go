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
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jthom32/racepulse/internal/models"
)

// TrackFilter narrows ListTracks results.
type TrackFilter struct {
	Surface string
	Query   string
	Limit   int
	Offset  int
}

const trackColumns = `id, name, slug, surface, length_meters, location, timezone, timing_provider, external_ref, created_at, updated_at`

// CreateTrack inserts a new track. Returns ErrConflict if the slug or
// external_ref is already taken.
func (db *DB) CreateTrack(ctx context.Context, track *models.Track) error {
	if track.ID == "" {
		track.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if track.CreatedAt.IsZero() {
		track.CreatedAt = now
	}
	track.UpdatedAt = now

	taken, err := db.trackIdentityTaken(ctx, track.Slug, track.ExternalRef, "")
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("track slug or external ref already exists: %w", ErrConflict)
	}

	query := `INSERT INTO tracks (` + trackColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.conn.ExecContext(ctx, query,
		track.ID, track.Name, track.Slug, track.Surface,
		nullFloat(track.LengthMeters), nullString(track.Location), track.Timezone,
		nullString(track.TimingProvider), nullString(track.ExternalRef),
		track.CreatedAt, track.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert track: %w", err)
	}
	return nil
}

// UpdateTrack updates a mutable subset of track fields.
func (db *DB) UpdateTrack(ctx context.Context, track *models.Track) error {
	taken, err := db.trackIdentityTaken(ctx, track.Slug, track.ExternalRef, track.ID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("track slug or external ref already exists: %w", ErrConflict)
	}

	track.UpdatedAt = time.Now().UTC()
	query := `UPDATE tracks SET name = ?, slug = ?, surface = ?, length_meters = ?, location = ?,
		timezone = ?, timing_provider = ?, external_ref = ?, updated_at = ? WHERE id = ?`
	result, err := db.conn.ExecContext(ctx, query,
		track.Name, track.Slug, track.Surface,
		nullFloat(track.LengthMeters), nullString(track.Location), track.Timezone,
		nullString(track.TimingProvider), nullString(track.ExternalRef),
		track.UpdatedAt, track.ID)
	if err != nil {
		return fmt.Errorf("failed to update track: %w", err)
	}
	return requireRowAffected(result, "track")
}

// DeleteTrack removes a track. Events referencing it keep their track_id;
// callers should reject deletion when events exist.
func (db *DB) DeleteTrack(ctx context.Context, id string) error {
	var eventCount int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE track_id = ?`, id).Scan(&eventCount); err != nil {
		return fmt.Errorf("failed to count track events: %w", err)
	}
	if eventCount > 0 {
		return fmt.Errorf("track has %d events: %w", eventCount, ErrConflict)
	}

	result, err := db.conn.ExecContext(ctx, `DELETE FROM tracks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete track: %w", err)
	}
	return requireRowAffected(result, "track")
}

// GetTrack fetches a single track by ID.
func (db *DB) GetTrack(ctx context.Context, id string) (*models.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ?`
	return db.scanTrack(db.conn.QueryRowContext(ctx, query, id))
}

// GetTrackByExternalRef fetches a track by its timing-provider reference.
func (db *DB) GetTrackByExternalRef(ctx context.Context, ref string) (*models.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE external_ref = ?`
	return db.scanTrack(db.conn.QueryRowContext(ctx, query, ref))
}

// ListTracks returns tracks matching the filter, ordered by name.
func (db *DB) ListTracks(ctx context.Context, filter TrackFilter) ([]models.Track, int, error) {
	whereClause, args := buildTrackWhereClause(filter)

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM tracks WHERE 1=1%s", whereClause)
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tracks: %w", err)
	}

	query := fmt.Sprintf("SELECT "+trackColumns+" FROM tracks WHERE 1=1%s ORDER BY name LIMIT ? OFFSET ?", whereClause)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer closeWithLog(rows, "tracks rows")

	tracks := make([]models.Track, 0)
	for rows.Next() {
		track, err := scanTrackRow(rows)
		if err != nil {
			return nil, 0, err
		}
		tracks = append(tracks, *track)
	}
	return tracks, total, rows.Err()
}

// UpsertTrackByExternalRef inserts a track discovered during ingest, or
// returns the existing one when the external_ref is already known.
func (db *DB) UpsertTrackByExternalRef(ctx context.Context, track *models.Track) (*models.Track, error) {
	if track.ExternalRef == "" {
		return nil, fmt.Errorf("upsert requires external_ref")
	}
	existing, err := db.GetTrackByExternalRef(ctx, track.ExternalRef)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if track.Slug == "" {
		track.Slug = slugify(track.Name)
	}
	if err := db.CreateTrack(ctx, track); err != nil {
		return nil, err
	}
	return track, nil
}

func buildTrackWhereClause(filter TrackFilter) (string, []interface{}) {
	var whereClause string
	var args []interface{}

	if filter.Surface != "" {
		whereClause += " AND surface = ?"
		args = append(args, filter.Surface)
	}
	if filter.Query != "" {
		whereClause += " AND (name ILIKE ? OR location ILIKE ?)"
		pattern := "%" + filter.Query + "%"
		args = append(args, pattern, pattern)
	}
	return whereClause, args
}

func (db *DB) trackIdentityTaken(ctx context.Context, slug, externalRef, excludeID string) (bool, error) {
	query := `SELECT COUNT(*) FROM tracks WHERE (slug = ? OR (external_ref IS NOT NULL AND external_ref = ?)) AND id != ?`
	var count int
	if err := db.conn.QueryRowContext(ctx, query, slug, externalRef, excludeID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check track identity: %w", err)
	}
	return count > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (db *DB) scanTrack(row *sql.Row) (*models.Track, error) {
	track, err := scanTrackRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("track: %w", ErrNotFound)
	}
	return track, err
}

func scanTrackRow(row rowScanner) (*models.Track, error) {
	var track models.Track
	var length sql.NullFloat64
	var location, provider, ref sql.NullString
	err := row.Scan(&track.ID, &track.Name, &track.Slug, &track.Surface,
		&length, &location, &track.Timezone, &provider, &ref,
		&track.CreatedAt, &track.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}
	track.LengthMeters = length.Float64
	track.Location = location.String
	track.TimingProvider = provider.String
	track.ExternalRef = ref.String
	return &track, nil
}

// slugify lowercases and hyphenates a name for use as a URL slug.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f float64) interface{} {
	if f == 0 {
		return nil
	}
	return f
}

func requireRowAffected(result sql.Result, resource string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", resource, ErrNotFound)
	}
	return nil
}
