// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jthom32/racepulse/internal/logging"
	"github.com/jthom32/racepulse/internal/metrics"
)

// ErrLockoutNotFound is returned when no lockout entry exists for a subject.
var ErrLockoutNotFound = errors.New("lockout entry not found")

// LockoutConfig holds configuration for the account lockout system.
type LockoutConfig struct {
	// MaxAttempts is the number of failed attempts before lockout.
	MaxAttempts int

	// BaseDuration is the first lockout period. Each subsequent lockout
	// doubles it up to MaxDuration.
	BaseDuration time.Duration

	// MaxDuration caps the exponential backoff.
	MaxDuration time.Duration

	// TrackByIP also tracks failed attempts per client IP, which limits
	// distributed guessing across many usernames.
	TrackByIP bool

	// Enabled controls whether lockout is active.
	Enabled bool
}

// DefaultLockoutConfig returns sensible defaults.
func DefaultLockoutConfig() *LockoutConfig {
	return &LockoutConfig{
		MaxAttempts:  5,
		BaseDuration: 30 * time.Second,
		MaxDuration:  15 * time.Minute,
		TrackByIP:    true,
		Enabled:      true,
	}
}

// LockoutEntry tracks failed login attempts for a subject (username or IP).
type LockoutEntry struct {
	Subject        string    `json:"subject"`
	FailedAttempts int       `json:"failed_attempts"`
	LastAttempt    time.Time `json:"last_attempt"`
	LockoutCount   int       `json:"lockout_count"`
	LockedUntil    time.Time `json:"locked_until"`
	LastFailedIP   string    `json:"last_failed_ip,omitempty"`
}

// IsLocked returns true if the entry is currently locked out.
func (e *LockoutEntry) IsLocked() bool {
	return time.Now().Before(e.LockedUntil)
}

// LockoutStore defines the interface for lockout state persistence.
type LockoutStore interface {
	GetEntry(ctx context.Context, subject string) (*LockoutEntry, error)
	SaveEntry(ctx context.Context, entry *LockoutEntry) error
	DeleteEntry(ctx context.Context, subject string) error
	CleanupExpired(ctx context.Context) (int, error)
}

// MemoryLockoutStore is an in-memory LockoutStore.
type MemoryLockoutStore struct {
	mu      sync.RWMutex
	entries map[string]*LockoutEntry
}

// NewMemoryLockoutStore creates a new in-memory lockout store.
func NewMemoryLockoutStore() *MemoryLockoutStore {
	return &MemoryLockoutStore{entries: make(map[string]*LockoutEntry)}
}

// GetEntry retrieves a lockout entry by subject.
func (s *MemoryLockoutStore) GetEntry(ctx context.Context, subject string) (*LockoutEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[subject]
	if !ok {
		return nil, ErrLockoutNotFound
	}
	copied := *entry
	return &copied, nil
}

// SaveEntry persists a lockout entry.
func (s *MemoryLockoutStore) SaveEntry(ctx context.Context, entry *LockoutEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *entry
	s.entries[entry.Subject] = &copied
	return nil
}

// DeleteEntry removes a lockout entry.
func (s *MemoryLockoutStore) DeleteEntry(ctx context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[subject]; !ok {
		return ErrLockoutNotFound
	}
	delete(s.entries, subject)
	return nil
}

// CleanupExpired removes entries that are neither locked nor recently
// active.
func (s *MemoryLockoutStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-24 * time.Hour)
	count := 0
	for subject, entry := range s.entries {
		if !entry.IsLocked() && entry.LastAttempt.Before(cutoff) {
			delete(s.entries, subject)
			count++
		}
	}
	return count, nil
}

// LockoutManager handles account lockout with exponential backoff.
type LockoutManager struct {
	config *LockoutConfig
	store  LockoutStore
	mu     sync.RWMutex

	onLockout func(entry *LockoutEntry)
}

// NewLockoutManager creates a new lockout manager.
func NewLockoutManager(store LockoutStore, config *LockoutConfig) *LockoutManager {
	if config == nil {
		config = DefaultLockoutConfig()
	}
	return &LockoutManager{
		config: config,
		store:  store,
	}
}

// SetOnLockout sets a callback fired when an account is locked. Used by
// the audit logger.
func (m *LockoutManager) SetOnLockout(fn func(entry *LockoutEntry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLockout = fn
}

// CheckLocked returns whether the subject is locked out and the time
// remaining if it is.
func (m *LockoutManager) CheckLocked(ctx context.Context, subject string) (bool, time.Duration, error) {
	m.mu.RLock()
	enabled := m.config.Enabled
	m.mu.RUnlock()

	if !enabled {
		return false, 0, nil
	}

	entry, err := m.store.GetEntry(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrLockoutNotFound) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("check lockout: %w", err)
	}

	if !entry.IsLocked() {
		return false, 0, nil
	}
	return true, time.Until(entry.LockedUntil), nil
}

// CheckLockedAny reports whether the username or the source IP is
// locked out, whichever trips first. The IP check honors TrackByIP so
// it stays symmetric with RecordFailedAttempt.
func (m *LockoutManager) CheckLockedAny(ctx context.Context, username, ip string) (bool, time.Duration, error) {
	locked, remaining, err := m.CheckLocked(ctx, username)
	if err != nil || locked {
		return locked, remaining, err
	}

	m.mu.RLock()
	trackByIP := m.config.TrackByIP
	m.mu.RUnlock()

	if !trackByIP || ip == "" {
		return false, 0, nil
	}
	return m.CheckLocked(ctx, ipSubject(ip))
}

// ipSubject namespaces an IP address so it cannot collide with a
// username in the lockout store.
func ipSubject(ip string) string {
	return "ip:" + ip
}

// RecordFailedAttempt records a failed login and returns whether the
// subject is now locked out.
func (m *LockoutManager) RecordFailedAttempt(ctx context.Context, username, ip string) (locked bool, remaining time.Duration, err error) {
	m.mu.RLock()
	config := *m.config
	onLockout := m.onLockout
	m.mu.RUnlock()

	if !config.Enabled {
		return false, 0, nil
	}

	locked, remaining, err = m.recordAttemptForSubject(ctx, username, ip, &config, onLockout)
	if err != nil || locked {
		return locked, remaining, err
	}

	if !config.TrackByIP || ip == "" {
		return false, 0, nil
	}
	return m.recordAttemptForSubject(ctx, ipSubject(ip), ip, &config, onLockout)
}

// RecordSuccessfulLogin clears the lockout state for a subject.
func (m *LockoutManager) RecordSuccessfulLogin(ctx context.Context, username string) error {
	m.mu.RLock()
	enabled := m.config.Enabled
	m.mu.RUnlock()

	if !enabled {
		return nil
	}
	if err := m.store.DeleteEntry(ctx, username); err != nil && !errors.Is(err, ErrLockoutNotFound) {
		return fmt.Errorf("clear lockout: %w", err)
	}
	return nil
}

// ClearLockout manually clears a lockout (admin action).
func (m *LockoutManager) ClearLockout(ctx context.Context, subject string) error {
	if err := m.store.DeleteEntry(ctx, subject); err != nil && !errors.Is(err, ErrLockoutNotFound) {
		return fmt.Errorf("clear lockout: %w", err)
	}
	return nil
}

func (m *LockoutManager) recordAttemptForSubject(
	ctx context.Context,
	subject, ip string,
	config *LockoutConfig,
	onLockout func(*LockoutEntry),
) (locked bool, remaining time.Duration, err error) {
	entry, err := m.getOrCreateEntry(ctx, subject)
	if err != nil {
		return false, 0, fmt.Errorf("get entry: %w", err)
	}

	if entry.IsLocked() {
		return true, time.Until(entry.LockedUntil), nil
	}

	now := time.Now()
	entry.FailedAttempts++
	entry.LastAttempt = now
	entry.LastFailedIP = ip

	if entry.FailedAttempts < config.MaxAttempts {
		if err := m.store.SaveEntry(ctx, entry); err != nil {
			return false, 0, fmt.Errorf("save entry: %w", err)
		}
		return false, 0, nil
	}

	lockoutDuration := calculateLockoutDuration(config, entry.LockoutCount)
	entry.LockedUntil = now.Add(lockoutDuration)
	entry.LockoutCount++
	entry.FailedAttempts = 0 // reset for the next cycle

	logging.Warn().
		Str("subject", subject).
		Dur("duration", lockoutDuration).
		Int("lockout_count", entry.LockoutCount).
		Msg("Account locked")
	metrics.AuthLockouts.Inc()

	if onLockout != nil {
		go onLockout(entry)
	}

	if err := m.store.SaveEntry(ctx, entry); err != nil {
		return false, 0, fmt.Errorf("save locked entry: %w", err)
	}
	return true, lockoutDuration, nil
}

func (m *LockoutManager) getOrCreateEntry(ctx context.Context, subject string) (*LockoutEntry, error) {
	entry, err := m.store.GetEntry(ctx, subject)
	if err != nil && !errors.Is(err, ErrLockoutNotFound) {
		return nil, err
	}
	if entry == nil {
		entry = &LockoutEntry{Subject: subject}
	}
	return entry, nil
}

// calculateLockoutDuration doubles the base duration for each previous
// lockout, capped at MaxDuration.
func calculateLockoutDuration(config *LockoutConfig, lockoutCount int) time.Duration {
	duration := config.BaseDuration
	if lockoutCount == 0 {
		return duration
	}

	multiplier := 1 << lockoutCount
	duration = time.Duration(int64(duration) * int64(multiplier))
	if duration > config.MaxDuration || duration <= 0 {
		return config.MaxDuration
	}
	return duration
}
