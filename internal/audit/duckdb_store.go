// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/jthom32/racepulse/internal/logging"
)

// DuckDBStore implements Store on the application database, giving the
// audit trail the same durability as the timing data.
type DuckDBStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDuckDBStore creates a new DuckDB-backed audit store. Call
// CreateTable before first use.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTable creates the audit_events table and its indexes.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			outcome TEXT NOT NULL,

			actor_id TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			actor_name TEXT,
			actor_role TEXT,
			actor_auth_method TEXT,

			target_id TEXT,
			target_type TEXT,
			target_name TEXT,

			source_ip TEXT NOT NULL,
			source_user_agent TEXT,

			action TEXT NOT NULL,
			description TEXT NOT NULL,
			metadata JSON,

			request_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(type);
		CREATE INDEX IF NOT EXISTS idx_audit_actor_id ON audit_events(actor_id);
		CREATE INDEX IF NOT EXISTS idx_audit_target_id ON audit_events(target_id);
		CREATE INDEX IF NOT EXISTS idx_audit_source_ip ON audit_events(source_ip);
		CREATE INDEX IF NOT EXISTS idx_audit_request_id ON audit_events(request_id)
	`

	for _, stmt := range strings.Split(query, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	logging.Info().Msg("Audit events table created/verified")
	return nil
}

// Save persists an audit event.
func (s *DuckDBStore) Save(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	targetID, targetType, targetName := extractTargetFields(event.Target)

	query := `
		INSERT INTO audit_events (
			id, timestamp, type, severity, outcome,
			actor_id, actor_type, actor_name, actor_role, actor_auth_method,
			target_id, target_type, target_name,
			source_ip, source_user_agent,
			action, description, metadata,
			request_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		string(event.Type),
		string(event.Severity),
		string(event.Outcome),
		event.Actor.ID,
		event.Actor.Type,
		event.Actor.Name,
		event.Actor.Role,
		event.Actor.AuthMethod,
		targetID,
		targetType,
		targetName,
		event.Source.IPAddress,
		event.Source.UserAgent,
		event.Action,
		event.Description,
		extractMetadata(event.Metadata),
		event.RequestID,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save audit event: %w", err)
	}
	return nil
}

func extractTargetFields(target *Target) (*string, *string, *string) {
	if target == nil {
		return nil, nil, nil
	}
	return &target.ID, &target.Type, &target.Name
}

func extractMetadata(metadata json.RawMessage) *string {
	if len(metadata) == 0 {
		return nil
	}
	s := string(metadata)
	return &s
}

// Get retrieves an event by ID.
func (s *DuckDBStore) Get(ctx context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, s.selectQuery()+" WHERE id = ?", id)

	var data scannedEventData
	if err := row.Scan(data.scanDestinations()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	return data.toEvent(), nil
}

// Query retrieves events matching the filter.
func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := s.buildQuery(filter, false)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var data scannedEventData
		if err := rows.Scan(data.scanDestinations()...); err != nil {
			logging.Warn().Err(err).Msg("Failed to scan audit event row")
			continue
		}
		events = append(events, *data.toEvent())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}

// Count returns the number of events matching the filter.
func (s *DuckDBStore) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := s.buildQuery(filter, true)

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return count, nil
}

// Delete removes events older than the given time.
func (s *DuckDBStore) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit events: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	if count > 0 {
		logging.Info().Int64("deleted", count).Time("older_than", olderThan).Msg("Deleted old audit events")
	}
	return count, nil
}

// GetStats returns statistics about the audit store.
func (s *DuckDBStore) GetStats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		EventsByType:     make(map[string]int64),
		EventsBySeverity: make(map[string]int64),
		EventsByOutcome:  make(map[string]int64),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events").Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}

	for column, dest := range map[string]map[string]int64{
		"type":     stats.EventsByType,
		"severity": stats.EventsBySeverity,
		"outcome":  stats.EventsByOutcome,
	} {
		counts, err := s.countByColumn(ctx, column)
		if err != nil {
			return nil, err
		}
		for k, v := range counts {
			dest[k] = v
		}
	}

	var oldest, newest sql.NullTime
	if err := s.db.QueryRowContext(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM audit_events").Scan(&oldest, &newest); err == nil {
		if oldest.Valid {
			stats.OldestEvent = &oldest.Time
		}
		if newest.Valid {
			stats.NewestEvent = &newest.Time
		}
	}

	return stats, nil
}

func (s *DuckDBStore) countByColumn(ctx context.Context, column string) (map[string]int64, error) {
	result := make(map[string]int64)
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_events GROUP BY %s", column, column)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s counts: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err == nil {
			result[key] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s counts: %w", column, err)
	}
	return result, nil
}

func (s *DuckDBStore) selectQuery() string {
	// Cast the JSON column to VARCHAR for scanning.
	return `
		SELECT
			id, timestamp, type, severity, outcome,
			actor_id, actor_type, actor_name, actor_role, actor_auth_method,
			target_id, target_type, target_name,
			source_ip, source_user_agent,
			action, description,
			CAST(metadata AS VARCHAR) as metadata,
			request_id
		FROM audit_events
	`
}

func (s *DuckDBStore) buildQuery(filter QueryFilter, countOnly bool) (string, []interface{}) {
	conditions, args := buildFilterConditions(filter)

	query := s.selectQuery()
	if countOnly {
		query = "SELECT COUNT(*) FROM audit_events"
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if !countOnly {
		query = appendOrderAndLimit(query, filter)
	}
	return query, args
}

func buildFilterConditions(filter QueryFilter) ([]string, []interface{}) {
	var args []interface{}
	var conditions []string

	if cond := buildSliceCondition("type", filter.Types, &args); cond != "" {
		conditions = append(conditions, cond)
	}
	if cond := buildSliceCondition("severity", filter.Severities, &args); cond != "" {
		conditions = append(conditions, cond)
	}
	if cond := buildSliceCondition("outcome", filter.Outcomes, &args); cond != "" {
		conditions = append(conditions, cond)
	}

	conditions, args = appendStringCondition(conditions, args, "actor_id", filter.ActorID)
	conditions, args = appendStringCondition(conditions, args, "target_id", filter.TargetID)
	conditions, args = appendStringCondition(conditions, args, "source_ip", filter.SourceIP)
	conditions, args = appendStringCondition(conditions, args, "request_id", filter.RequestID)

	if filter.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *filter.EndTime)
	}

	if filter.SearchText != "" {
		conditions = append(conditions, "(LOWER(description) LIKE ? OR LOWER(action) LIKE ?)")
		pattern := "%" + strings.ToLower(filter.SearchText) + "%"
		args = append(args, pattern, pattern)
	}

	return conditions, args
}

// buildSliceCondition creates a SQL IN condition for a slice of
// string-kinded values.
func buildSliceCondition[T ~string](column string, values []T, args *[]interface{}) string {
	if len(values) == 0 {
		return ""
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		*args = append(*args, string(v))
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
}

func appendStringCondition(conditions []string, args []interface{}, column, value string) ([]string, []interface{}) {
	if value != "" {
		conditions = append(conditions, column+" = ?")
		args = append(args, value)
	}
	return conditions, args
}

func appendOrderAndLimit(query string, filter QueryFilter) string {
	orderBy := "timestamp"
	validFields := map[string]bool{
		"timestamp": true, "type": true, "severity": true,
		"outcome": true, "actor_id": true, "created_at": true,
	}
	if filter.OrderBy != "" && validFields[filter.OrderBy] {
		orderBy = filter.OrderBy
	}

	if filter.OrderDesc {
		query += fmt.Sprintf(" ORDER BY %s DESC", orderBy)
	} else {
		query += fmt.Sprintf(" ORDER BY %s ASC", orderBy)
	}

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}
	return query
}

// scannedEventData holds raw scanned values from the database.
type scannedEventData struct {
	event      Event
	eventType  string
	severity   string
	outcome    string
	actorName  sql.NullString
	actorRole  sql.NullString
	authMethod sql.NullString
	targetID   sql.NullString
	targetType sql.NullString
	targetName sql.NullString
	userAgent  sql.NullString
	metadata   sql.NullString
	requestID  sql.NullString
}

func (d *scannedEventData) scanDestinations() []interface{} {
	return []interface{}{
		&d.event.ID,
		&d.event.Timestamp,
		&d.eventType,
		&d.severity,
		&d.outcome,
		&d.event.Actor.ID,
		&d.event.Actor.Type,
		&d.actorName,
		&d.actorRole,
		&d.authMethod,
		&d.targetID,
		&d.targetType,
		&d.targetName,
		&d.event.Source.IPAddress,
		&d.userAgent,
		&d.event.Action,
		&d.event.Description,
		&d.metadata,
		&d.requestID,
	}
}

func (d *scannedEventData) toEvent() *Event {
	d.event.Type = EventType(d.eventType)
	d.event.Severity = Severity(d.severity)
	d.event.Outcome = Outcome(d.outcome)
	d.event.Actor.Name = d.actorName.String
	d.event.Actor.Role = d.actorRole.String
	d.event.Actor.AuthMethod = d.authMethod.String
	d.event.Source.UserAgent = d.userAgent.String
	d.event.RequestID = d.requestID.String

	if d.targetID.Valid {
		d.event.Target = &Target{
			ID:   d.targetID.String,
			Type: d.targetType.String,
			Name: d.targetName.String,
		}
	}
	if d.metadata.Valid && d.metadata.String != "" {
		d.event.Metadata = json.RawMessage(d.metadata.String)
	}
	return &d.event
}
