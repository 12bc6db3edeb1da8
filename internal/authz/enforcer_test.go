// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jthom32/racepulse/internal/auth"
)

func newTestEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	e, err := NewEnforcer(context.Background(), nil)
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestEnforceEmbeddedPolicy(t *testing.T) {
	e := newTestEnforcer(t)

	tests := []struct {
		name    string
		subject string
		object  string
		action  string
		want    bool
	}{
		{"user reads events", "user", "/api/v1/events", "GET", true},
		{"user reads single event", "user", "/api/v1/events/abc-123", "GET", true},
		{"user reads analytics", "user", "/api/v1/analytics/races/abc/pace", "GET", true},
		{"user cannot create tracks", "user", "/api/v1/admin/tracks", "POST", false},
		{"user cannot trigger ingest", "user", "/api/v1/admin/ingest/run", "POST", false},
		{"admin creates tracks", "admin", "/api/v1/admin/tracks", "POST", true},
		{"admin reads events via inheritance", "admin", "/api/v1/events", "GET", true},
		{"admin deletes tracks", "admin", "/api/v1/admin/tracks/abc", "DELETE", true},
		{"unknown role denied", "ghost", "/api/v1/events", "GET", false},
		{"user refreshes token", "user", "/api/v1/auth/refresh", "POST", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Enforce(tt.subject, tt.object, tt.action)
			if err != nil {
				t.Fatalf("Enforce() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Enforce(%s, %s, %s) = %v, want %v", tt.subject, tt.object, tt.action, got, tt.want)
			}
		})
	}
}

func TestEnforceRoleDefaultsWhenEmpty(t *testing.T) {
	e := newTestEnforcer(t)

	allowed, err := e.EnforceRole("", "/api/v1/events", "GET")
	if err != nil {
		t.Fatalf("EnforceRole() error = %v", err)
	}
	if !allowed {
		t.Error("empty role should fall back to the default role and be allowed to read events")
	}

	allowed, err = e.EnforceRole("", "/api/v1/admin/tracks", "POST")
	if err != nil {
		t.Fatalf("EnforceRole() error = %v", err)
	}
	if allowed {
		t.Error("default role must not create tracks")
	}
}

func TestAddAndDeleteRoleForUser(t *testing.T) {
	e := newTestEnforcer(t)

	added, err := e.AddRoleForUser("mdelgado", "admin")
	if err != nil {
		t.Fatalf("AddRoleForUser() error = %v", err)
	}
	if !added {
		t.Error("AddRoleForUser() = false, want true")
	}

	allowed, err := e.Enforce("mdelgado", "/api/v1/admin/tracks", "POST")
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if !allowed {
		t.Error("user with admin role should create tracks")
	}

	if _, err := e.DeleteRoleForUser("mdelgado", "admin"); err != nil {
		t.Fatalf("DeleteRoleForUser() error = %v", err)
	}

	allowed, err = e.Enforce("mdelgado", "/api/v1/admin/tracks", "POST")
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if allowed {
		t.Error("permission should be revoked with the role")
	}
}

func TestEnforcementCacheInvalidation(t *testing.T) {
	e := newTestEnforcer(t)

	// Prime the cache with a denial, then grant the role; the cached
	// denial must be invalidated.
	allowed, err := e.Enforce("kbrunner", "/api/v1/admin/tracks", "POST")
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if allowed {
		t.Fatal("unexpected initial permission")
	}

	if _, err := e.AddRoleForUser("kbrunner", "admin"); err != nil {
		t.Fatalf("AddRoleForUser() error = %v", err)
	}

	allowed, err = e.Enforce("kbrunner", "/api/v1/admin/tracks", "POST")
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if !allowed {
		t.Error("stale cached denial returned after role grant")
	}
}

func TestAuthorizeRequestMiddleware(t *testing.T) {
	e := newTestEnforcer(t)
	m := NewMiddleware(e)

	tests := []struct {
		name       string
		role       string
		method     string
		path       string
		wantStatus int
	}{
		{"user reads events", "user", http.MethodGet, "/api/v1/events", http.StatusOK},
		{"user denied admin route", "user", http.MethodPost, "/api/v1/admin/tracks", http.StatusForbidden},
		{"admin allowed admin route", "admin", http.MethodPost, "/api/v1/admin/tracks", http.StatusOK},
		{"no claims falls back to default role", "", http.MethodGet, "/api/v1/events", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.role != "" {
				ctx := context.WithValue(req.Context(), auth.ClaimsContextKey, &auth.Claims{
					Username: "someone",
					Role:     tt.role,
				})
				req = req.WithContext(ctx)
			}
			rec := httptest.NewRecorder()

			m.AuthorizeRequest(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
