// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/jthom32/racepulse/internal/logging"
	"github.com/jthom32/racepulse/internal/metrics"
)

// Config holds configuration for the audit logger.
type Config struct {
	// Enabled controls whether audit logging is active.
	Enabled bool `json:"enabled"`

	// LogLevel filters events by minimum severity.
	LogLevel Severity `json:"log_level"`

	// RetentionDays is how long to keep audit events.
	RetentionDays int `json:"retention_days"`

	// CleanupInterval is how often to run retention cleanup.
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `json:"buffer_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		LogLevel:        SeverityInfo,
		RetentionDays:   90,
		CleanupInterval: 24 * time.Hour,
		BufferSize:      1000,
	}
}

// Logger records audit events asynchronously. Events are buffered and
// written by a background goroutine so callers never block on storage.
type Logger struct {
	config    *Config
	store     Store
	eventChan chan *Event
	mu        sync.RWMutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
	drops     atomic.Uint64
}

// NewLogger creates a new audit logger and starts its writer.
func NewLogger(store Store, config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	l := &Logger{
		config:    config,
		store:     store,
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.asyncWriter()

	return l
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			// Drain remaining events before exit.
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.Save(ctx, event); err != nil {
		logging.Error().Err(err).Msg("Failed to save audit event")
	}
}

// Log records an audit event. When the buffer is full the event is
// dropped rather than blocking the request path.
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	config := l.config
	l.mu.RUnlock()

	if !config.Enabled {
		return
	}
	if !shouldLog(event.Severity, config) {
		return
	}

	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case l.eventChan <- event:
	default:
		// Drop-oldest: discard the stalest queued event so the most
		// recent security signal survives backpressure.
		select {
		case dropped := <-l.eventChan:
			l.recordDrop(dropped.ID)
		default:
		}
		select {
		case l.eventChan <- event:
		default:
			l.recordDrop(event.ID)
		}
	}
}

func (l *Logger) recordDrop(eventID string) {
	l.drops.Add(1)
	metrics.AuditEventsDropped.Inc()
	logging.Warn().Str("event_id", eventID).Msg("Audit event buffer full, dropped event")
}

// Drops returns how many audit events have been discarded because the
// buffer was full.
func (l *Logger) Drops() uint64 {
	return l.drops.Load()
}

func shouldLog(severity Severity, config *Config) bool {
	severityOrder := map[Severity]int{
		SeverityDebug:    0,
		SeverityInfo:     1,
		SeverityWarning:  2,
		SeverityError:    3,
		SeverityCritical: 4,
	}
	return severityOrder[severity] >= severityOrder[config.LogLevel]
}

// Close shuts down the logger after draining the buffer.
func (l *Logger) Close() error {
	close(l.stopChan)
	l.wg.Wait()
	return nil
}

// StartCleanupRoutine starts the retention cleanup routine.
func (l *Logger) StartCleanupRoutine(ctx context.Context) {
	l.mu.RLock()
	interval := l.config.CleanupInterval
	retention := l.config.RetentionDays
	l.mu.RUnlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -retention)
				count, err := l.store.Delete(ctx, cutoff)
				if err != nil {
					logging.Error().Err(err).Msg("Audit cleanup error")
				} else if count > 0 {
					logging.Info().Int64("count", count).Msg("Cleaned up old audit events")
				}
			}
		}
	}()
}

// Query retrieves events matching the filter.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	return l.store.Query(ctx, filter)
}

// Count returns the number of events matching the filter.
func (l *Logger) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	return l.store.Count(ctx, filter)
}

// Enabled reports whether audit logging is active.
func (l *Logger) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Enabled
}

func generateEventID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b)
}

// Helper methods for common events.

// LogLoginSuccess records a successful login.
func (l *Logger) LogLoginSuccess(ctx context.Context, actor Actor, source Source) {
	l.Log(&Event{
		Type:        EventTypeLoginSuccess,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Source:      source,
		Action:      "authenticate",
		Description: "User authenticated successfully",
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

// LogLoginFailure records a failed login attempt.
func (l *Logger) LogLoginFailure(ctx context.Context, username string, source Source, reason string) {
	l.Log(&Event{
		Type:     EventTypeLoginFailure,
		Severity: SeverityWarning,
		Outcome:  OutcomeFailure,
		Actor: Actor{
			ID:   username,
			Type: "user",
			Name: username,
		},
		Source:      source,
		Action:      "authenticate",
		Description: "Authentication failed: " + reason,
		Metadata:    mustJSON(map[string]string{"reason": reason}),
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

// LogLockout records an account lockout.
func (l *Logger) LogLockout(ctx context.Context, subject string, source Source, duration time.Duration, lockoutCount int) {
	l.Log(&Event{
		Type:     EventTypeLockout,
		Severity: SeverityCritical,
		Outcome:  OutcomeSuccess,
		Actor: Actor{
			ID:   subject,
			Type: "user",
			Name: subject,
		},
		Source:      source,
		Action:      "lockout",
		Description: "Subject locked out after repeated failed logins",
		Metadata: mustJSON(map[string]interface{}{
			"duration_seconds": duration.Seconds(),
			"lockout_count":    lockoutCount,
		}),
		RequestID: logging.RequestIDFromContext(ctx),
	})
}

// LogLogout records a logout.
func (l *Logger) LogLogout(ctx context.Context, actor Actor, source Source, sessionID string) {
	l.Log(&Event{
		Type:     EventTypeLogout,
		Severity: SeverityInfo,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   "logout",
		Target: &Target{
			ID:   sessionID,
			Type: "session",
		},
		Description: "User logged out",
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

// LogTrackChange records a track create, update, or delete.
func (l *Logger) LogTrackChange(ctx context.Context, eventType EventType, actor Actor, source Source, trackID, trackName string) {
	action := "update"
	switch eventType {
	case EventTypeTrackCreated:
		action = "create"
	case EventTypeTrackDeleted:
		action = "delete"
	}
	l.Log(&Event{
		Type:     eventType,
		Severity: SeverityWarning,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   action,
		Target: &Target{
			ID:   trackID,
			Type: "track",
			Name: trackName,
		},
		Description: "Track " + action + ": " + trackName,
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

// LogIngestTriggered records a manual ingestion trigger.
func (l *Logger) LogIngestTriggered(ctx context.Context, actor Actor, source Source, runID, scope string) {
	l.Log(&Event{
		Type:     EventTypeIngestTriggered,
		Severity: SeverityInfo,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   "trigger",
		Target: &Target{
			ID:   runID,
			Type: "ingest_run",
		},
		Description: "Ingestion triggered for scope: " + scope,
		Metadata:    mustJSON(map[string]string{"scope": scope}),
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

// LogIngestCompleted records the outcome of an ingestion run.
func (l *Logger) LogIngestCompleted(ctx context.Context, runID string, success bool, counts map[string]int, errMsg string) {
	eventType := EventTypeIngestCompleted
	severity := SeverityInfo
	outcome := OutcomeSuccess
	description := "Ingestion run completed"
	if !success {
		eventType = EventTypeIngestFailed
		severity = SeverityError
		outcome = OutcomeFailure
		description = "Ingestion run failed: " + errMsg
	}

	metadata := make(map[string]interface{}, len(counts)+1)
	for k, v := range counts {
		metadata[k] = v
	}
	if errMsg != "" {
		metadata["error"] = errMsg
	}

	l.Log(&Event{
		Type:     eventType,
		Severity: severity,
		Outcome:  outcome,
		Actor:    SystemActor(),
		Target: &Target{
			ID:   runID,
			Type: "ingest_run",
		},
		Action:      "ingest",
		Description: description,
		Metadata:    mustJSON(metadata),
	})
}

// LogDiscoveryRequested records an outbound practice-day discovery call.
func (l *Logger) LogDiscoveryRequested(ctx context.Context, actor Actor, source Source, trackRef string) {
	l.Log(&Event{
		Type:     EventTypeDiscoveryRequest,
		Severity: SeverityInfo,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   "discover",
		Target: &Target{
			ID:   trackRef,
			Type: "track",
		},
		Description: "Practice day discovery requested for " + trackRef,
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

// LogRoleChange records a user role change.
func (l *Logger) LogRoleChange(ctx context.Context, actor Actor, source Source, userID, username, oldRole, newRole string) {
	l.Log(&Event{
		Type:     EventTypeUserRoleChanged,
		Severity: SeverityWarning,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   "update",
		Target: &Target{
			ID:   userID,
			Type: "user",
			Name: username,
		},
		Description: "User role changed from " + oldRole + " to " + newRole,
		Metadata: mustJSON(map[string]string{
			"old_role": oldRole,
			"new_role": newRole,
		}),
		RequestID: logging.RequestIDFromContext(ctx),
	})
}

// LogAdminAction records a generic administrative action.
func (l *Logger) LogAdminAction(ctx context.Context, actor Actor, source Source, action, description string, metadata map[string]interface{}) {
	l.Log(&Event{
		Type:        EventTypeAdminAction,
		Severity:    SeverityWarning,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Source:      source,
		Action:      action,
		Description: description,
		Metadata:    mustJSON(metadata),
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// SourceFromRequest creates a Source from an HTTP request. RemoteAddr
// is taken as-is: the router's client IP middleware has already
// resolved proxy headers through the trusted-proxy list, so reading
// X-Forwarded-For here would re-open header spoofing.
func SourceFromRequest(r *http.Request) Source {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return Source{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}

// ActorFromClaims creates an Actor from authenticated user details.
func ActorFromClaims(id, name, role, authMethod string) Actor {
	return Actor{
		ID:         id,
		Type:       "user",
		Name:       name,
		Role:       role,
		AuthMethod: authMethod,
	}
}

// SystemActor returns an Actor representing the service itself.
func SystemActor() Actor {
	return Actor{
		ID:   "system",
		Type: "system",
		Name: "RacePulse",
	}
}
