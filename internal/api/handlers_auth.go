// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/jthom32/racepulse/internal/audit"
	"github.com/jthom32/racepulse/internal/auth"
	"github.com/jthom32/racepulse/internal/database"
	"github.com/jthom32/racepulse/internal/metrics"
	"github.com/jthom32/racepulse/internal/models"
)

// loginResponse is the payload for successful login and refresh.
type loginResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
}

// Login authenticates a user against the users table and returns a JWT
// plus a server-side refresh token. Failed attempts feed the lockout
// manager; locked subjects get 429 with Retry-After.
//
// Method: POST
// Path: /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !h.requireDB(w) {
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	if h.cfg.Security.AuthMode != "jwt" || h.jwtManager == nil {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "Password login is not enabled for this auth mode", nil)
		return
	}

	ctx := r.Context()
	source := audit.SourceFromRequest(r)

	if h.lockouts != nil {
		locked, remaining, err := h.lockouts.CheckLockedAny(ctx, req.Username, source.IPAddress)
		if err == nil && locked {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(remaining.Seconds())+1))
			h.auditLoginFailure(ctx, req.Username, source, "account locked")
			respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Account temporarily locked, try again later", nil)
			return
		}
	}

	user, err := h.db.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.recordFailedLogin(ctx, req.Username, source, "unknown user")
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid username or password", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to look up user", err)
		return
	}

	if user.Disabled {
		h.recordFailedLogin(ctx, req.Username, source, "account disabled")
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid username or password", nil)
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		h.recordFailedLogin(ctx, req.Username, source, "bad password")
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid username or password", nil)
		return
	}

	if h.lockouts != nil {
		_ = h.lockouts.RecordSuccessfulLogin(ctx, req.Username)
	}
	_ = h.db.TouchUserLogin(ctx, user.ID)

	token, err := h.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to generate token", err)
		return
	}

	expiresAt := time.Now().Add(h.jwtManager.Timeout())

	var refreshToken string
	if h.sessions != nil {
		// Refresh sessions outlive the access token so clients can
		// renew without re-entering credentials.
		session := auth.NewSession(user.ID, user.Username, user.Role, 7*h.jwtManager.Timeout())
		if err := h.sessions.Create(ctx, session); err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create session", err)
			return
		}
		refreshToken = session.ID
	}

	metrics.RecordAuthAttempt("success")
	if h.audit != nil {
		h.audit.LogLoginSuccess(ctx, audit.ActorFromClaims(user.ID, user.Username, user.Role, "jwt"), source)
	}

	h.setAuthCookie(w, r, token, expiresAt)
	respondJSON(w, nil, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: loginResponse{
			Token:        token,
			RefreshToken: refreshToken,
			ExpiresAt:    expiresAt,
			UserID:       user.ID,
			Username:     user.Username,
			Role:         user.Role,
		},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// Refresh exchanges a valid refresh token for a new access token and
// extends the session.
//
// Method: POST
// Path: /api/v1/auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if h.sessions == nil || h.jwtManager == nil {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "Token refresh is not enabled for this auth mode", nil)
		return
	}

	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	ctx := r.Context()
	session, err := h.sessions.Get(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrSessionExpired) {
			_ = h.sessions.Delete(ctx, req.RefreshToken)
		}
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired refresh token", nil)
		return
	}

	token, err := h.jwtManager.GenerateToken(session.UserID, session.Username, session.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to generate token", err)
		return
	}

	expiresAt := time.Now().Add(h.jwtManager.Timeout())
	_ = h.sessions.Touch(ctx, session.ID, time.Now().Add(7*h.jwtManager.Timeout()))

	h.setAuthCookie(w, r, token, expiresAt)
	respondJSON(w, nil, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: loginResponse{
			Token:        token,
			RefreshToken: session.ID,
			ExpiresAt:    expiresAt,
			UserID:       session.UserID,
			Username:     session.Username,
			Role:         session.Role,
		},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// Logout revokes a refresh session and expires the auth cookie.
//
// Method: POST
// Path: /api/v1/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	ctx := r.Context()
	if h.sessions != nil {
		_ = h.sessions.Delete(ctx, req.RefreshToken)
	}

	if h.audit != nil {
		if claims := claimsFrom(r); claims != nil {
			actor := audit.ActorFromClaims(claims.UserID, claims.Username, claims.Role, "jwt")
			h.audit.LogLogout(ctx, actor, audit.SourceFromRequest(r), req.RefreshToken)
		}
	}

	// Expire the cookie regardless of session store state.
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	respondJSON(w, nil, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]interface{}{"logged_out": true},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// recordFailedLogin updates the lockout counters, metrics, and audit
// trail for a failed attempt. Locking is reported on the NEXT request;
// the current response stays a plain 401 so attackers cannot tell which
// failure tripped the threshold.
func (h *Handler) recordFailedLogin(ctx context.Context, username string, source audit.Source, reason string) {
	metrics.RecordAuthAttempt("failure")

	if h.lockouts != nil {
		locked, remaining, err := h.lockouts.RecordFailedAttempt(ctx, username, source.IPAddress)
		if err == nil && locked && h.audit != nil {
			h.audit.LogLockout(ctx, username, source, remaining, 1)
		}
	}

	h.auditLoginFailure(ctx, username, source, reason)
}

func (h *Handler) auditLoginFailure(ctx context.Context, username string, source audit.Source, reason string) {
	if h.audit != nil {
		h.audit.LogLoginFailure(ctx, username, source, reason)
	}
}

// setAuthCookie mirrors the token into an HTTP-only cookie for browser
// clients that cannot hold a bearer token safely.
func (h *Handler) setAuthCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}
