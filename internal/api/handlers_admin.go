// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jthom32/racepulse/internal/audit"
	"github.com/jthom32/racepulse/internal/auth"
	"github.com/jthom32/racepulse/internal/database"
	"github.com/jthom32/racepulse/internal/ingest"
	"github.com/jthom32/racepulse/internal/models"
)

// TriggerIngest kicks a manual ingest run. Scope "" means a full run
// over all LiveRC tracks; otherwise it is the external_ref of one
// event. A run already in flight yields 409.
//
// Method: POST
// Path: /api/v1/admin/ingest/trigger
func (h *Handler) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if h.ingest == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Ingest is not configured", nil)
		return
	}

	var req IngestTriggerRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", err)
			return
		}
		if apiErr := validateRequest(&req); apiErr != nil {
			respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
			return
		}
	}

	if err := h.ingest.TriggerManual(req.Scope); err != nil {
		if errors.Is(err, ingest.ErrIngestRunning) {
			respondError(w, http.StatusConflict, "CONFLICT", "An ingest run is already in progress", nil)
			return
		}
		respondError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Ingest could not be triggered", err)
		return
	}

	if h.audit != nil {
		h.audit.LogIngestTriggered(r.Context(), h.actorFrom(r), audit.SourceFromRequest(r), "", req.Scope)
	}

	respondJSON(w, nil, http.StatusAccepted, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"triggered": true,
			"scope":     req.Scope,
		},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// Discover calls the external ingestion microservice for practice days
// at a track and upserts the returned events.
//
// Method: POST
// Path: /api/v1/admin/ingest/discover
func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if h.ingest == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Ingest is not configured", nil)
		return
	}

	var req DiscoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	from, _ := time.Parse("2006-01-02", req.From)
	to, _ := time.Parse("2006-01-02", req.To)
	if to.Before(from) {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "to must not be before from", nil)
		return
	}

	ctx := r.Context()
	if h.audit != nil {
		h.audit.LogDiscoveryRequested(ctx, h.actorFrom(r), audit.SourceFromRequest(r), req.TrackRef)
	}

	start := time.Now()
	events, err := h.ingest.DiscoverEvents(ctx, req.TrackRef, from, to)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrDiscoveryDisabled):
			respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Discovery is not configured", nil)
		case errors.Is(err, database.ErrNotFound):
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Unknown track ref", nil)
		default:
			respondError(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "Discovery service call failed", err)
		}
		return
	}

	respondSuccess(w, r, map[string]interface{}{
		"track_ref": req.TrackRef,
		"events":    events,
	}, start)
}

// IngestRuns lists recent ingest runs, newest first.
//
// Method: GET
// Path: /api/v1/admin/ingest/runs
// Query: limit, offset
func (h *Handler) IngestRuns(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	limit, offset := h.pagination(r)

	start := time.Now()
	runs, total, err := h.db.ListIngestRuns(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list ingest runs", err)
		return
	}

	respondSuccess(w, r, models.Page{
		Total:   int64(total),
		Limit:   limit,
		Offset:  offset,
		Results: runs,
	}, start)
}

// Users lists all accounts. Admin only.
//
// Method: GET
// Path: /api/v1/admin/users
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	start := time.Now()
	users, err := h.db.ListUsers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list users", err)
		return
	}

	respondSuccess(w, r, users, start)
}

// CreateUser provisions an account with an argon2id password hash.
//
// Method: POST
// Path: /api/v1/admin/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !h.requireDB(w) {
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to hash password", err)
		return
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		PasswordHash: hash,
		Role:         req.Role,
	}

	ctx := r.Context()
	if err := h.db.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrConflict) {
			respondError(w, http.StatusConflict, "CONFLICT", "Username already exists", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create user", err)
		return
	}

	if h.audit != nil {
		h.audit.LogAdminAction(ctx, h.actorFrom(r), audit.SourceFromRequest(r),
			"user.create", "Created user "+user.Username,
			map[string]interface{}{"user_id": user.ID, "role": user.Role})
	}

	respondJSON(w, nil, http.StatusCreated, &models.APIResponse{
		Status:   "success",
		Data:     user,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// UpdateUser changes a user's role, disabled flag, or password.
// Disabling an account also revokes its refresh sessions.
//
// Method: PUT
// Path: /api/v1/admin/users/{id}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPut) || !h.requireDB(w) {
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}
	if req.Role == nil && req.Disabled == nil && req.Password == nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Nothing to update", nil)
		return
	}

	ctx := r.Context()
	id := r.PathValue("id")

	user, err := h.db.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "User not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load user", err)
		return
	}

	if req.Role != nil && *req.Role != user.Role {
		if err := h.db.UpdateUserRole(ctx, id, *req.Role); err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update role", err)
			return
		}
		if h.audit != nil {
			h.audit.LogRoleChange(ctx, h.actorFrom(r), audit.SourceFromRequest(r),
				id, user.Username, user.Role, *req.Role)
		}
		user.Role = *req.Role
	}

	if req.Disabled != nil && *req.Disabled != user.Disabled {
		if err := h.db.SetUserDisabled(ctx, id, *req.Disabled); err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update user", err)
			return
		}
		user.Disabled = *req.Disabled

		if *req.Disabled && h.sessions != nil {
			// A disabled account must not keep refreshing tokens.
			_, _ = h.sessions.DeleteByUserID(ctx, id)
		}
		if h.audit != nil {
			h.audit.LogAdminAction(ctx, h.actorFrom(r), audit.SourceFromRequest(r),
				"user.disable", "Set disabled="+boolString(*req.Disabled)+" for "+user.Username,
				map[string]interface{}{"user_id": id, "disabled": *req.Disabled})
		}
	}

	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to hash password", err)
			return
		}
		if err := h.db.UpdateUserPassword(ctx, id, hash); err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update password", err)
			return
		}
		if h.sessions != nil {
			_, _ = h.sessions.DeleteByUserID(ctx, id)
		}
	}

	respondSuccess(w, r, user, time.Now())
}

// DeleteUser disables an account and revokes its sessions. Rows are
// kept so historic audit entries still resolve to a user.
//
// Method: DELETE
// Path: /api/v1/admin/users/{id}
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodDelete) || !h.requireDB(w) {
		return
	}

	ctx := r.Context()
	id := r.PathValue("id")

	user, err := h.db.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "User not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load user", err)
		return
	}

	if claims := claimsFrom(r); claims != nil && claims.UserID == id {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Cannot delete your own account", nil)
		return
	}

	if err := h.db.SetUserDisabled(ctx, id, true); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete user", err)
		return
	}
	if h.sessions != nil {
		_, _ = h.sessions.DeleteByUserID(ctx, id)
	}

	if h.audit != nil {
		h.audit.LogAdminAction(ctx, h.actorFrom(r), audit.SourceFromRequest(r),
			"user.delete", "Deleted user "+user.Username,
			map[string]interface{}{"user_id": id})
	}

	respondJSON(w, nil, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]interface{}{"deleted": true, "id": id},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// actorFrom resolves the audit actor from request claims, falling back
// to the system actor for auth mode "none".
func (h *Handler) actorFrom(r *http.Request) audit.Actor {
	if claims := claimsFrom(r); claims != nil {
		return audit.ActorFromClaims(claims.UserID, claims.Username, claims.Role, "jwt")
	}
	return audit.SystemActor()
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
