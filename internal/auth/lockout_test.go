// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package auth

import (
	"context"
	"testing"
	"time"
)

func testLockoutManager() *LockoutManager {
	cfg := &LockoutConfig{
		MaxAttempts:  3,
		BaseDuration: 30 * time.Second,
		MaxDuration:  15 * time.Minute,
		TrackByIP:    true,
		Enabled:      true,
	}
	return NewLockoutManager(NewMemoryLockoutStore(), cfg)
}

func TestLockoutAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	manager := testLockoutManager()

	for i := 0; i < 2; i++ {
		locked, _, err := manager.RecordFailedAttempt(ctx, "mdelgado", "10.0.0.1")
		if err != nil {
			t.Fatalf("RecordFailedAttempt() error = %v", err)
		}
		if locked {
			t.Fatalf("locked after %d attempts, threshold is 3", i+1)
		}
	}

	locked, remaining, err := manager.RecordFailedAttempt(ctx, "mdelgado", "10.0.0.1")
	if err != nil {
		t.Fatalf("RecordFailedAttempt() error = %v", err)
	}
	if !locked {
		t.Fatal("expected lockout after 3 failed attempts")
	}
	if remaining <= 0 || remaining > 30*time.Second {
		t.Errorf("remaining = %v, want (0, 30s]", remaining)
	}

	isLocked, _, err := manager.CheckLocked(ctx, "mdelgado")
	if err != nil {
		t.Fatalf("CheckLocked() error = %v", err)
	}
	if !isLocked {
		t.Error("CheckLocked() = false, want true")
	}
}

func TestLockoutTracksIP(t *testing.T) {
	ctx := context.Background()
	manager := testLockoutManager()

	// Same IP hammering different usernames still locks the IP subject.
	for i, username := range []string{"a", "b", "c"} {
		if _, _, err := manager.RecordFailedAttempt(ctx, username, "10.0.0.9"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	isLocked, _, err := manager.CheckLocked(ctx, "ip:10.0.0.9")
	if err != nil {
		t.Fatalf("CheckLocked() error = %v", err)
	}
	if !isLocked {
		t.Error("IP subject not locked after threshold attempts")
	}
}

func TestCheckLockedAnyCoversIPSubject(t *testing.T) {
	ctx := context.Background()
	manager := testLockoutManager()

	// Lock the IP by rotating usernames; no single username trips.
	for i, username := range []string{"a", "b", "c"} {
		if _, _, err := manager.RecordFailedAttempt(ctx, username, "10.0.0.9"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	locked, remaining, err := manager.CheckLockedAny(ctx, "fresh-username", "10.0.0.9")
	if err != nil {
		t.Fatalf("CheckLockedAny() error = %v", err)
	}
	if !locked {
		t.Fatal("CheckLockedAny() = false, want true for a locked IP")
	}
	if remaining <= 0 {
		t.Errorf("remaining = %v, want > 0", remaining)
	}

	// A different IP is unaffected.
	locked, _, err = manager.CheckLockedAny(ctx, "fresh-username", "10.0.0.10")
	if err != nil {
		t.Fatalf("CheckLockedAny() error = %v", err)
	}
	if locked {
		t.Error("CheckLockedAny() = true for an unrelated IP")
	}
}

func TestSuccessfulLoginClearsLockoutState(t *testing.T) {
	ctx := context.Background()
	cfg := &LockoutConfig{
		MaxAttempts:  3,
		BaseDuration: 30 * time.Second,
		MaxDuration:  15 * time.Minute,
		TrackByIP:    false, // isolate the username counter
		Enabled:      true,
	}
	manager := NewLockoutManager(NewMemoryLockoutStore(), cfg)

	if _, _, err := manager.RecordFailedAttempt(ctx, "kbrunner", "10.0.0.2"); err != nil {
		t.Fatalf("RecordFailedAttempt() error = %v", err)
	}
	if _, _, err := manager.RecordFailedAttempt(ctx, "kbrunner", "10.0.0.2"); err != nil {
		t.Fatalf("RecordFailedAttempt() error = %v", err)
	}
	if err := manager.RecordSuccessfulLogin(ctx, "kbrunner"); err != nil {
		t.Fatalf("RecordSuccessfulLogin() error = %v", err)
	}

	// Counter reset: two more failures should not lock.
	if _, _, err := manager.RecordFailedAttempt(ctx, "kbrunner", "10.0.0.2"); err != nil {
		t.Fatalf("RecordFailedAttempt() error = %v", err)
	}
	locked, _, err := manager.RecordFailedAttempt(ctx, "kbrunner", "10.0.0.2")
	if err != nil {
		t.Fatalf("RecordFailedAttempt() error = %v", err)
	}
	if locked {
		t.Error("locked after reset + 2 attempts, threshold is 3")
	}
}

func TestCalculateLockoutDurationBackoff(t *testing.T) {
	cfg := &LockoutConfig{
		BaseDuration: 30 * time.Second,
		MaxDuration:  15 * time.Minute,
	}

	tests := []struct {
		lockoutCount int
		want         time.Duration
	}{
		{0, 30 * time.Second},
		{1, 1 * time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 15 * time.Minute},  // capped
		{20, 15 * time.Minute}, // still capped
	}

	for _, tt := range tests {
		if got := calculateLockoutDuration(cfg, tt.lockoutCount); got != tt.want {
			t.Errorf("calculateLockoutDuration(count=%d) = %v, want %v", tt.lockoutCount, got, tt.want)
		}
	}
}

func TestLockoutDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultLockoutConfig()
	cfg.Enabled = false
	manager := NewLockoutManager(NewMemoryLockoutStore(), cfg)

	for i := 0; i < 10; i++ {
		locked, _, err := manager.RecordFailedAttempt(ctx, "mdelgado", "10.0.0.1")
		if err != nil {
			t.Fatalf("RecordFailedAttempt() error = %v", err)
		}
		if locked {
			t.Fatal("lockout fired while disabled")
		}
	}
}

func TestOnLockoutCallback(t *testing.T) {
	ctx := context.Background()
	manager := testLockoutManager()

	fired := make(chan *LockoutEntry, 1)
	manager.SetOnLockout(func(entry *LockoutEntry) {
		fired <- entry
	})

	for i := 0; i < 3; i++ {
		if _, _, err := manager.RecordFailedAttempt(ctx, "sokafor", "10.0.0.3"); err != nil {
			t.Fatalf("RecordFailedAttempt() error = %v", err)
		}
	}

	select {
	case entry := <-fired:
		if entry.Subject != "sokafor" {
			t.Errorf("callback subject = %q, want %q", entry.Subject, "sokafor")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onLockout callback never fired")
	}
}
