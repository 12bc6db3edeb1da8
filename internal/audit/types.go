// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

// Package audit records security and operational events for admin
// review: logins, lockouts, track management, ingestion runs, and user
// administration.
package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes audit events.
type EventType string

const (
	// Authentication events
	EventTypeLoginSuccess   EventType = "auth.login.success"
	EventTypeLoginFailure   EventType = "auth.login.failure"
	EventTypeLockout        EventType = "auth.lockout"
	EventTypeLogout         EventType = "auth.logout"
	EventTypeTokenRefreshed EventType = "auth.token_refreshed"

	// Track management events
	EventTypeTrackCreated EventType = "track.created"
	EventTypeTrackUpdated EventType = "track.updated"
	EventTypeTrackDeleted EventType = "track.deleted"

	// Ingestion events
	EventTypeIngestTriggered   EventType = "ingest.triggered"
	EventTypeIngestCompleted   EventType = "ingest.completed"
	EventTypeIngestFailed      EventType = "ingest.failed"
	EventTypeDiscoveryRequest  EventType = "discovery.requested"
	EventTypeDiscoveryReceived EventType = "discovery.received"

	// User management events
	EventTypeUserCreated     EventType = "user.created"
	EventTypeUserRoleChanged EventType = "user.role_changed"
	EventTypeUserDisabled    EventType = "user.disabled"

	// Administrative catch-all
	EventTypeAdminAction EventType = "admin.action"
)

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Outcome indicates whether an action succeeded or failed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is a single audit record.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Outcome   Outcome   `json:"outcome"`

	// Actor who performed the action.
	Actor Actor `json:"actor"`

	// Target of the action, when there is one.
	Target *Target `json:"target,omitempty"`

	// Source of the request.
	Source Source `json:"source"`

	// Action is the verb (create, delete, trigger, authenticate).
	Action string `json:"action"`

	// Description provides human-readable details.
	Description string `json:"description"`

	// Metadata contains event-specific details.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// RequestID from the originating HTTP request.
	RequestID string `json:"request_id,omitempty"`
}

// Actor represents who performed an action.
type Actor struct {
	ID         string `json:"id"`
	Type       string `json:"type"` // user, system
	Name       string `json:"name,omitempty"`
	Role       string `json:"role,omitempty"`
	AuthMethod string `json:"auth_method,omitempty"`
}

// Target represents the object of an action.
type Target struct {
	ID   string `json:"id"`
	Type string `json:"type"` // track, user, ingest_run, session
	Name string `json:"name,omitempty"`
}

// Source represents where a request originated.
type Source struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Store defines the interface for audit event persistence.
type Store interface {
	// Save persists an audit event.
	Save(ctx context.Context, event *Event) error

	// Get retrieves an event by ID.
	Get(ctx context.Context, id string) (*Event, error)

	// Query retrieves events matching the filter.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter QueryFilter) (int64, error)

	// Delete removes events older than the given time.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueryFilter defines filtering options for audit queries.
type QueryFilter struct {
	Types      []EventType `json:"types,omitempty"`
	Severities []Severity  `json:"severities,omitempty"`
	Outcomes   []Outcome   `json:"outcomes,omitempty"`
	ActorID    string      `json:"actor_id,omitempty"`
	TargetID   string      `json:"target_id,omitempty"`
	SourceIP   string      `json:"source_ip,omitempty"`
	StartTime  *time.Time  `json:"start_time,omitempty"`
	EndTime    *time.Time  `json:"end_time,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`

	// SearchText performs a text search on description and action.
	SearchText string `json:"search_text,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	OrderBy   string `json:"order_by,omitempty"`
	OrderDesc bool   `json:"order_desc,omitempty"`
}

// DefaultQueryFilter returns a sensible default filter.
func DefaultQueryFilter() QueryFilter {
	return QueryFilter{
		Limit:     100,
		OrderBy:   "timestamp",
		OrderDesc: true,
	}
}

// Stats summarizes the contents of the audit store.
type Stats struct {
	TotalEvents      int64            `json:"total_events"`
	EventsByType     map[string]int64 `json:"events_by_type"`
	EventsBySeverity map[string]int64 `json:"events_by_severity"`
	EventsByOutcome  map[string]int64 `json:"events_by_outcome"`
	OldestEvent      *time.Time       `json:"oldest_event,omitempty"`
	NewestEvent      *time.Time       `json:"newest_event,omitempty"`
}
