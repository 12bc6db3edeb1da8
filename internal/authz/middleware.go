// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package authz

import (
	"net/http"

	"github.com/jthom32/racepulse/internal/auth"
	"github.com/jthom32/racepulse/internal/logging"
)

// Middleware enforces Casbin authorization on API requests.
type Middleware struct {
	enforcer *Enforcer
}

// NewMiddleware creates a new authorization middleware.
func NewMiddleware(enforcer *Enforcer) *Middleware {
	return &Middleware{
		enforcer: enforcer,
	}
}

// AuthorizeRequest authorizes by route path and HTTP method, using the
// role from the authenticated claims. Requests without claims are
// allowed through only if the enforcer's default role permits them,
// which covers auth mode "none".
func (m *Middleware) AuthorizeRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := ""
		if claims, ok := r.Context().Value(auth.ClaimsContextKey).(*auth.Claims); ok {
			role = claims.Role
		}

		allowed, err := m.enforcer.EnforceRole(role, r.URL.Path, r.Method)
		if err != nil {
			logging.Error().Err(err).Msg("Authorization error")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if !allowed {
			http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
			return
		}

		next(w, r)
	}
}
