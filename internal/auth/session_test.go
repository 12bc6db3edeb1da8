// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jthom32/racepulse/internal/metrics"
)

// sessionStoreFactory lets the lifecycle tests run against every
// backend.
type sessionStoreFactory struct {
	name string
	new  func(t *testing.T) SessionStore
}

func sessionStoreFactories() []sessionStoreFactory {
	return []sessionStoreFactory{
		{
			name: "memory",
			new: func(t *testing.T) SessionStore {
				return NewMemorySessionStore()
			},
		},
		{
			name: "badger",
			new: func(t *testing.T) SessionStore {
				store, err := NewBadgerSessionStore(t.TempDir())
				if err != nil {
					t.Fatalf("NewBadgerSessionStore() error = %v", err)
				}
				return store
			},
		},
	}
}

func TestSessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()

	for _, factory := range sessionStoreFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.new(t)
			defer func() {
				if err := store.Close(); err != nil {
					t.Errorf("Close() error = %v", err)
				}
			}()

			session := NewSession("user-1", "mdelgado", "user", time.Hour)
			if session.ID == "" {
				t.Fatal("NewSession() produced empty ID")
			}
			if err := store.Create(ctx, session); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			got, err := store.Get(ctx, session.ID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.UserID != "user-1" || got.Username != "mdelgado" || got.Role != "user" {
				t.Errorf("Get() = %+v, fields mismatch", got)
			}

			newExpiry := time.Now().Add(2 * time.Hour)
			if err := store.Touch(ctx, session.ID, newExpiry); err != nil {
				t.Fatalf("Touch() error = %v", err)
			}

			if err := store.Delete(ctx, session.ID); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := store.Get(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("Get() after delete error = %v, want ErrSessionNotFound", err)
			}
		})
	}
}

func TestSessionStoreDeleteByUserID(t *testing.T) {
	ctx := context.Background()

	for _, factory := range sessionStoreFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.new(t)
			defer store.Close()

			for i := 0; i < 3; i++ {
				if err := store.Create(ctx, NewSession("user-1", "mdelgado", "user", time.Hour)); err != nil {
					t.Fatalf("Create() error = %v", err)
				}
			}
			other := NewSession("user-2", "kbrunner", "user", time.Hour)
			if err := store.Create(ctx, other); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			deleted, err := store.DeleteByUserID(ctx, "user-1")
			if err != nil {
				t.Fatalf("DeleteByUserID() error = %v", err)
			}
			if deleted != 3 {
				t.Errorf("DeleteByUserID() = %d, want 3", deleted)
			}

			// The other user's session survives.
			if _, err := store.Get(ctx, other.ID); err != nil {
				t.Errorf("Get() for untouched user error = %v", err)
			}
		})
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	ctx := context.Background()

	for _, factory := range sessionStoreFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.new(t)
			defer store.Close()

			expired := NewSession("user-1", "mdelgado", "user", -time.Minute)
			if err := store.Create(ctx, expired); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			live := NewSession("user-2", "kbrunner", "user", time.Hour)
			if err := store.Create(ctx, live); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			if _, err := store.Get(ctx, expired.ID); !errors.Is(err, ErrSessionExpired) {
				t.Errorf("Get() expired session error = %v, want ErrSessionExpired", err)
			}

			removed, err := store.CleanupExpired(ctx)
			if err != nil {
				t.Fatalf("CleanupExpired() error = %v", err)
			}
			if removed != 1 {
				t.Errorf("CleanupExpired() = %d, want 1", removed)
			}
			if _, err := store.Get(ctx, live.ID); err != nil {
				t.Errorf("Get() live session after cleanup error = %v", err)
			}
		})
	}
}

func TestNewSessionStoreFactory(t *testing.T) {
	store, err := NewSessionStore("memory", "")
	if err != nil {
		t.Fatalf("NewSessionStore(memory) error = %v", err)
	}
	store.Close()

	store, err = NewSessionStore("badger", t.TempDir())
	if err != nil {
		t.Fatalf("NewSessionStore(badger) error = %v", err)
	}
	store.Close()

	if _, err := NewSessionStore("redis", ""); err == nil {
		t.Error("NewSessionStore(redis) expected error for unknown backend")
	}
}

func TestSessionStoreTracksActiveSessionGauge(t *testing.T) {
	ctx := context.Background()

	for _, factory := range sessionStoreFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.new(t)
			defer store.Close()

			before := testutil.ToFloat64(metrics.AuthActiveSessions)

			first := NewSession("user-1", "mdelgado", "user", time.Hour)
			second := NewSession("user-1", "mdelgado", "user", time.Hour)
			for _, s := range []*Session{first, second} {
				if err := store.Create(ctx, s); err != nil {
					t.Fatalf("Create() error = %v", err)
				}
			}
			if got := testutil.ToFloat64(metrics.AuthActiveSessions); got != before+2 {
				t.Errorf("gauge after two creates = %v, want %v", got, before+2)
			}

			if err := store.Delete(ctx, first.ID); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			// Deleting an absent session must not move the gauge.
			if err := store.Delete(ctx, first.ID); err != nil {
				t.Fatalf("Delete() repeat error = %v", err)
			}
			if got := testutil.ToFloat64(metrics.AuthActiveSessions); got != before+1 {
				t.Errorf("gauge after delete = %v, want %v", got, before+1)
			}

			if _, err := store.DeleteByUserID(ctx, "user-1"); err != nil {
				t.Fatalf("DeleteByUserID() error = %v", err)
			}
			if got := testutil.ToFloat64(metrics.AuthActiveSessions); got != before {
				t.Errorf("gauge after DeleteByUserID = %v, want %v", got, before)
			}
		})
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s := NewSession("u", "n", "user", time.Hour)
		if seen[s.ID] {
			t.Fatalf("duplicate session ID generated: %s", s.ID)
		}
		seen[s.ID] = true
	}
}
