// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestMiddleware(t *testing.T, authMode string) (*Middleware, *JWTManager) {
	t.Helper()

	jwtManager, err := NewJWTManager(testSecurityConfig())
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}
	basicManager, err := NewBasicAuthManager("admin", "s3cret-password")
	if err != nil {
		t.Fatalf("NewBasicAuthManager() error = %v", err)
	}

	m := NewMiddleware(jwtManager, basicManager, authMode, nil, "admin")
	return m, jwtManager
}

func okHandler(called *bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}
}

func TestAuthenticateNoneMode(t *testing.T) {
	m, _ := newTestMiddleware(t, AuthModeNone)

	called := false
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	rec := httptest.NewRecorder()
	m.Authenticate(okHandler(&called))(rec, req)

	if !called {
		t.Error("handler not called in none mode")
	}
}

func TestAuthenticateJWT(t *testing.T) {
	m, jwtManager := newTestMiddleware(t, AuthModeJWT)

	token, err := jwtManager.GenerateToken("user-1", "mdelgado", "user")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantStatus int
	}{
		{
			name:       "valid bearer token",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "valid cookie token",
			setup:      func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: token}) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing token",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed header",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Token "+token) },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "garbage token",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.jwt") },
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()

			called := false
			m.Authenticate(okHandler(&called))(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if (tt.wantStatus == http.StatusOK) != called {
				t.Errorf("handler called = %v with status %d", called, rec.Code)
			}
		})
	}
}

func TestAuthenticateJWTInjectsClaims(t *testing.T) {
	m, jwtManager := newTestMiddleware(t, AuthModeJWT)

	token, err := jwtManager.GenerateToken("user-1", "mdelgado", "admin")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	m.Authenticate(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(ClaimsContextKey).(*Claims)
		if !ok {
			t.Fatal("claims missing from context")
		}
		if claims.Username != "mdelgado" || claims.Role != "admin" {
			t.Errorf("claims = %+v", claims)
		}
	})(rec, req)
}

func TestAuthenticateBasic(t *testing.T) {
	m, _ := newTestMiddleware(t, AuthModeBasic)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("Authorization", basicHeader("admin", "s3cret-password"))
	rec := httptest.NewRecorder()

	m.Authenticate(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(ClaimsContextKey).(*Claims)
		if !ok {
			t.Fatal("claims missing from context")
		}
		if claims.Role != "admin" {
			t.Errorf("admin basic user role = %q, want admin", claims.Role)
		}
	})(rec, req)

	// Missing credentials get a challenge.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	rec = httptest.NewRecorder()
	called := false
	m.Authenticate(okHandler(&called))(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate challenge header")
	}
}

func TestRequireRole(t *testing.T) {
	m, jwtManager := newTestMiddleware(t, AuthModeJWT)

	tests := []struct {
		name       string
		role       string
		required   string
		wantStatus int
	}{
		{"exact match", "user", "user", http.StatusOK},
		{"admin passes user check", "admin", "user", http.StatusOK},
		{"admin required", "admin", "admin", http.StatusOK},
		{"user denied admin", "user", "admin", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwtManager.GenerateToken("user-1", "someone", tt.role)
			if err != nil {
				t.Fatalf("GenerateToken() error = %v", err)
			}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/tracks", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()

			called := false
			m.RequireRole(tt.required, okHandler(&called))(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestGetClientIP(t *testing.T) {
	jwtManager, err := NewJWTManager(testSecurityConfig())
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}
	basicManager, err := NewBasicAuthManager("admin", "s3cret-password")
	if err != nil {
		t.Fatalf("NewBasicAuthManager() error = %v", err)
	}
	m := NewMiddleware(jwtManager, basicManager, AuthModeJWT, []string{"10.0.0.5"}, "admin")

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "direct connection ignores XFF",
			remoteAddr: "203.0.113.7:51000",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.1"},
			want:       "203.0.113.7",
		},
		{
			name:       "trusted proxy honors XFF",
			remoteAddr: "10.0.0.5:51000",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.5"},
			want:       "198.51.100.1",
		},
		{
			name:       "trusted proxy honors X-Real-IP",
			remoteAddr: "10.0.0.5:51000",
			headers:    map[string]string{"X-Real-IP": "198.51.100.2"},
			want:       "198.51.100.2",
		},
		{
			name:       "trusted proxy with invalid XFF falls back",
			remoteAddr: "10.0.0.5:51000",
			headers:    map[string]string{"X-Forwarded-For": "256.or.not an ip"},
			want:       "10.0.0.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := m.GetClientIP(req); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}

			// ResolveClientIP rewrites RemoteAddr with the same answer.
			var seen string
			m.ResolveClientIP(func(w http.ResponseWriter, r *http.Request) {
				seen = r.RemoteAddr
			})(httptest.NewRecorder(), req)
			if seen != tt.want {
				t.Errorf("ResolveClientIP RemoteAddr = %q, want %q", seen, tt.want)
			}
		})
	}
}
