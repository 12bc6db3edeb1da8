// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/jthom32/racepulse/internal/database"
	"github.com/jthom32/racepulse/internal/models"
)

// driverProfile is the GET /drivers/{id} payload: the driver record
// plus career stats.
type driverProfile struct {
	*models.Driver
	Stats *models.DriverStats `json:"stats,omitempty"`
}

// Drivers searches drivers by name or transponder.
//
// Method: GET
// Path: /api/v1/drivers
// Query: q, home_track_id, limit, offset
func (h *Handler) Drivers(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	limit, offset := h.pagination(r)
	filter := database.DriverFilter{
		Query:       r.URL.Query().Get("q"),
		HomeTrackID: r.URL.Query().Get("home_track_id"),
		Limit:       limit,
		Offset:      offset,
	}

	start := time.Now()
	drivers, total, err := h.db.ListDrivers(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list drivers", err)
		return
	}

	respondSuccess(w, r, models.Page{
		Total:   int64(total),
		Limit:   limit,
		Offset:  offset,
		Results: drivers,
	}, start)
}

// Driver returns a driver profile with career stats.
//
// Method: GET
// Path: /api/v1/drivers/{id}
func (h *Handler) Driver(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	ctx := r.Context()
	start := time.Now()

	driver, err := h.db.GetDriver(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Driver not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load driver", err)
		return
	}

	stats, err := h.db.GetDriverStats(ctx, driver.ID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load driver stats", err)
		return
	}

	respondSuccess(w, r, driverProfile{Driver: driver, Stats: stats}, start)
}

// DriverResults returns a driver's participation history, most recent
// first.
//
// Method: GET
// Path: /api/v1/drivers/{id}/results
// Query: limit
func (h *Handler) DriverResults(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	ctx := r.Context()
	driverID := r.PathValue("id")

	if _, err := h.db.GetDriver(ctx, driverID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Driver not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load driver", err)
		return
	}

	limit, _ := h.pagination(r)

	start := time.Now()
	results, err := h.db.ListDriverResults(ctx, driverID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load results", err)
		return
	}

	respondSuccess(w, r, map[string]interface{}{
		"driver_id": driverID,
		"results":   results,
	}, start)
}
