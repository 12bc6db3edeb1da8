// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/jthom32/racepulse/internal/metrics"
)

// Session-related errors.
var (
	// ErrSessionNotFound is returned when a session is not in the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session exists but has expired.
	ErrSessionExpired = errors.New("session expired")
)

// Session is a server-side refresh session. The ID doubles as the opaque
// refresh token handed to the client; access tokens are stateless JWTs.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// NewSession creates a refresh session for a user with a random 256-bit
// token as its ID.
func NewSession(userID, username, role string, duration time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:             generateSessionID(),
		UserID:         userID,
		Username:       username,
		Role:           role,
		CreatedAt:      now,
		ExpiresAt:      now.Add(duration),
		LastAccessedAt: now,
	}
}

// generateSessionID generates a cryptographically secure session ID.
func generateSessionID() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// crypto/rand read failures are effectively fatal; fall back to
		// a time-derived value rather than panicking mid-request.
		return hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(bytes)
}

// SessionStore defines the interface for session storage backends.
type SessionStore interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// Get retrieves a session by ID. Returns ErrSessionNotFound if
	// missing, ErrSessionExpired if present but expired.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes a session by ID. Not an error if absent.
	Delete(ctx context.Context, id string) error

	// DeleteByUserID removes all sessions for a user and returns the
	// count deleted. Used when an account is disabled.
	DeleteByUserID(ctx context.Context, userID string) (int, error)

	// Touch updates the session's last accessed time and extends expiry.
	Touch(ctx context.Context, id string, newExpiry time.Time) error

	// CleanupExpired removes all expired sessions and returns the count.
	CleanupExpired(ctx context.Context) (int, error)

	// Close releases any underlying resources.
	Close() error
}

// MemorySessionStore is an in-memory SessionStore. Suitable for
// development and testing; sessions are lost on restart.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*Session),
	}
}

// Create stores a new session.
func (s *MemorySessionStore) Create(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *session
	if _, exists := s.sessions[session.ID]; !exists {
		metrics.AuthActiveSessions.Inc()
	}
	s.sessions[session.ID] = &stored
	return nil
}

// Get retrieves a session by ID.
func (s *MemorySessionStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.IsExpired() {
		return nil, ErrSessionExpired
	}

	copied := *session
	return &copied, nil
}

// Delete removes a session by ID.
func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		metrics.AuthActiveSessions.Dec()
	}
	return nil
}

// DeleteByUserID removes all sessions for a user.
func (s *MemorySessionStore) DeleteByUserID(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, id)
			count++
		}
	}
	metrics.AuthActiveSessions.Sub(float64(count))
	return count, nil
}

// Touch updates the session's last accessed time and extends expiry.
func (s *MemorySessionStore) Touch(ctx context.Context, id string, newExpiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.LastAccessedAt = time.Now()
	session.ExpiresAt = newExpiry
	return nil
}

// CleanupExpired removes all expired sessions.
func (s *MemorySessionStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, session := range s.sessions {
		if session.IsExpired() {
			delete(s.sessions, id)
			count++
		}
	}
	metrics.AuthActiveSessions.Sub(float64(count))
	return count, nil
}

// Close is a no-op for the memory store.
func (s *MemorySessionStore) Close() error {
	return nil
}
