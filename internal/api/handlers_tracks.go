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
	"github.com/jthom32/racepulse/internal/database"
	"github.com/jthom32/racepulse/internal/models"
)

// Tracks lists tracks with surface and text filters.
//
// Method: GET
// Path: /api/v1/tracks
// Query: surface, q, limit, offset
func (h *Handler) Tracks(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	limit, offset := h.pagination(r)
	filter := database.TrackFilter{
		Surface: r.URL.Query().Get("surface"),
		Query:   r.URL.Query().Get("q"),
		Limit:   limit,
		Offset:  offset,
	}

	start := time.Now()
	tracks, total, err := h.db.ListTracks(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list tracks", err)
		return
	}

	respondSuccess(w, r, models.Page{
		Total:   int64(total),
		Limit:   limit,
		Offset:  offset,
		Results: tracks,
	}, start)
}

// Track returns a single track by ID.
//
// Method: GET
// Path: /api/v1/tracks/{id}
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	start := time.Now()
	track, err := h.db.GetTrack(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Track not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load track", err)
		return
	}

	respondSuccess(w, r, track, start)
}

// CreateTrack creates a track. Admin only.
//
// Method: POST
// Path: /api/v1/admin/tracks
func (h *Handler) CreateTrack(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !h.requireDB(w) {
		return
	}

	req, ok := h.decodeTrackRequest(w, r)
	if !ok {
		return
	}

	track := &models.Track{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Slug:           req.Slug,
		Location:       req.Location,
		Surface:        req.Surface,
		Timezone:       req.Timezone,
		LengthMeters:   req.LengthMeters,
		TimingProvider: req.TimingProvider,
		ExternalRef:    req.ExternalRef,
	}

	if err := h.db.CreateTrack(r.Context(), track); err != nil {
		if errors.Is(err, database.ErrConflict) {
			respondError(w, http.StatusConflict, "CONFLICT", "A track with that slug or external ref already exists", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create track", err)
		return
	}

	h.auditTrackChange(r, audit.EventTypeTrackCreated, track.ID, track.Name)
	respondJSON(w, nil, http.StatusCreated, &models.APIResponse{
		Status:   "success",
		Data:     track,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// UpdateTrack replaces a track's editable fields. Admin only.
//
// Method: PUT
// Path: /api/v1/admin/tracks/{id}
func (h *Handler) UpdateTrack(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPut) || !h.requireDB(w) {
		return
	}

	req, ok := h.decodeTrackRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	track, err := h.db.GetTrack(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Track not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load track", err)
		return
	}

	track.Name = req.Name
	track.Slug = req.Slug
	track.Location = req.Location
	track.Surface = req.Surface
	track.Timezone = req.Timezone
	track.LengthMeters = req.LengthMeters
	track.TimingProvider = req.TimingProvider
	track.ExternalRef = req.ExternalRef

	if err := h.db.UpdateTrack(ctx, track); err != nil {
		if errors.Is(err, database.ErrConflict) {
			respondError(w, http.StatusConflict, "CONFLICT", "A track with that slug or external ref already exists", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update track", err)
		return
	}

	h.auditTrackChange(r, audit.EventTypeTrackUpdated, track.ID, track.Name)
	respondSuccess(w, r, track, time.Now())
}

// DeleteTrack removes a track. Admin only.
//
// Method: DELETE
// Path: /api/v1/admin/tracks/{id}
func (h *Handler) DeleteTrack(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodDelete) || !h.requireDB(w) {
		return
	}

	ctx := r.Context()
	id := r.PathValue("id")

	// Fetch first so the audit entry can carry the name.
	track, err := h.db.GetTrack(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Track not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load track", err)
		return
	}

	if err := h.db.DeleteTrack(ctx, id); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete track", err)
		return
	}

	h.auditTrackChange(r, audit.EventTypeTrackDeleted, id, track.Name)
	respondJSON(w, nil, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]interface{}{"deleted": true, "id": id},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

func (h *Handler) decodeTrackRequest(w http.ResponseWriter, r *http.Request) (*TrackRequest, bool) {
	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", err)
		return nil, false
	}
	if req.TimingProvider == "" {
		req.TimingProvider = models.SourceManual
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return nil, false
	}
	return &req, true
}

func (h *Handler) auditTrackChange(r *http.Request, eventType audit.EventType, trackID, trackName string) {
	if h.audit == nil {
		return
	}
	actor := audit.SystemActor()
	if claims := claimsFrom(r); claims != nil {
		actor = audit.ActorFromClaims(claims.UserID, claims.Username, claims.Role, "jwt")
	}
	h.audit.LogTrackChange(r.Context(), eventType, actor, audit.SourceFromRequest(r), trackID, trackName)
}
