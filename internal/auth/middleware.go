// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

// Package auth provides authentication for the API: argon2id password
// hashing, JWT access tokens, server-side refresh sessions, HTTP Basic
// fallback, account lockout, and the request middleware tying them
// together.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jthom32/racepulse/internal/logging"
)

type contextKey string

// ClaimsContextKey is the context key under which authenticated claims
// are stored.
const ClaimsContextKey contextKey = "claims"

// Auth modes.
const (
	AuthModeNone  = "none"
	AuthModeJWT   = "jwt"
	AuthModeBasic = "basic"
)

// Middleware provides authentication and client IP resolution.
type Middleware struct {
	jwtManager       *JWTManager
	basicAuthManager *BasicAuthManager
	authMode         string
	trustedProxies   map[string]bool
	adminUsername    string
}

// NewMiddleware creates the authentication middleware.
func NewMiddleware(jwtManager *JWTManager, basicAuthManager *BasicAuthManager, authMode string, trustedProxies []string, adminUsername string) *Middleware {
	trustedMap := make(map[string]bool)
	for _, proxy := range trustedProxies {
		trustedMap[proxy] = true
	}

	return &Middleware{
		jwtManager:       jwtManager,
		basicAuthManager: basicAuthManager,
		authMode:         authMode,
		trustedProxies:   trustedMap,
		adminUsername:    adminUsername,
	}
}

// Authenticate is middleware that enforces authentication.
func (m *Middleware) Authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.authMode == AuthModeNone {
			next(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")

		if m.authMode == AuthModeBasic {
			m.handleBasicAuth(w, r, next, authHeader)
			return
		}

		m.handleJWTAuth(w, r, next, authHeader)
	}
}

func (m *Middleware) handleBasicAuth(w http.ResponseWriter, r *http.Request, next http.HandlerFunc, authHeader string) {
	if authHeader == "" {
		m.sendBasicAuthChallenge(w, "Unauthorized: authentication required")
		return
	}

	username, err := m.basicAuthManager.ValidateCredentials(authHeader)
	if err != nil {
		logging.Error().Err(err).Msg("Basic auth validation failed")
		m.sendBasicAuthChallenge(w, "Unauthorized: invalid credentials")
		return
	}

	claims := m.createBasicAuthClaims(username)
	ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
	next(w, r.WithContext(ctx))
}

func (m *Middleware) sendBasicAuthChallenge(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", m.basicAuthManager.GetWWWAuthenticateHeader())
	http.Error(w, message, http.StatusUnauthorized)
}

// createBasicAuthClaims creates claims for a Basic Auth user. Only the
// configured admin account gets the admin role.
func (m *Middleware) createBasicAuthClaims(username string) *Claims {
	role := "user"
	if m.adminUsername != "" && username == m.adminUsername {
		role = "admin"
	}
	return &Claims{
		Username: username,
		Role:     role,
	}
}

func (m *Middleware) handleJWTAuth(w http.ResponseWriter, r *http.Request, next http.HandlerFunc, authHeader string) {
	token, err := m.extractJWTToken(r, authHeader)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	claims, err := m.jwtManager.ValidateToken(token)
	if err != nil {
		logging.Error().Err(err).Msg("Token validation failed")
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
		return
	}

	ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
	next(w, r.WithContext(ctx))
}

// extractJWTToken extracts the token from the Authorization header or
// the "token" cookie.
func (m *Middleware) extractJWTToken(r *http.Request, authHeader string) (string, error) {
	if authHeader == "" {
		cookie, err := r.Cookie("token")
		if err != nil {
			return "", fmt.Errorf("unauthorized: missing token")
		}
		return cookie.Value, nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("unauthorized: invalid authorization header")
	}
	return parts[1], nil
}

// RequireRole is middleware that enforces a specific role. Admins pass
// every role check.
func (m *Middleware) RequireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return m.Authenticate(func(w http.ResponseWriter, r *http.Request) {
		if m.authMode == AuthModeNone {
			next(w, r)
			return
		}

		claims, ok := r.Context().Value(ClaimsContextKey).(*Claims)
		if !ok {
			http.Error(w, "Forbidden: invalid claims", http.StatusForbidden)
			return
		}

		if claims.Role != role && claims.Role != "admin" {
			http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
			return
		}

		next(w, r)
	})
}

// ResolveClientIP rewrites r.RemoteAddr to the resolved client IP so
// everything downstream (rate limiters, lockout tracking, audit
// sources) sees one consistent address. Proxy headers are honored only
// from configured trusted proxies; a direct peer cannot spoof its IP
// with X-Forwarded-For.
func (m *Middleware) ResolveClientIP(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.RemoteAddr = m.GetClientIP(r)
		next(w, r)
	}
}

// GetClientIP resolves the client IP, honoring X-Forwarded-For and
// X-Real-IP only when the request arrived via a trusted proxy.
func (m *Middleware) GetClientIP(r *http.Request) string {
	remoteIP := strings.Split(r.RemoteAddr, ":")[0]

	if !m.isFromTrustedProxy(remoteIP) {
		return remoteIP
	}

	if clientIP := m.extractIPFromXFF(r); clientIP != "" {
		return clientIP
	}
	if clientIP := m.extractIPFromXRealIP(r); clientIP != "" {
		return clientIP
	}
	return remoteIP
}

func (m *Middleware) isFromTrustedProxy(remoteIP string) bool {
	return len(m.trustedProxies) > 0 && m.trustedProxies[remoteIP]
}

func (m *Middleware) extractIPFromXFF(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	clientIP := strings.TrimSpace(ips[0])
	if isValidIP(clientIP) {
		return clientIP
	}
	return ""
}

func (m *Middleware) extractIPFromXRealIP(r *http.Request) string {
	xri := r.Header.Get("X-Real-IP")
	if xri != "" && isValidIP(xri) {
		return xri
	}
	return ""
}

func isValidIP(ip string) bool {
	parts := strings.Split(ip, ".")
	if len(parts) == 4 {
		return isValidIPv4(parts)
	}
	return isValidIPv6(ip)
}

func isValidIPv4(parts []string) bool {
	for _, part := range parts {
		if !isValidIPv4Part(part) {
			return false
		}
	}
	return true
}

func isValidIPv4Part(part string) bool {
	if len(part) == 0 || len(part) > 3 {
		return false
	}
	for _, char := range part {
		if char < '0' || char > '9' {
			return false
		}
	}
	return true
}

func isValidIPv6(ip string) bool {
	return ip != "" && !strings.Contains(ip, " ") && len(ip) < 40
}

