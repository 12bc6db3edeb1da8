// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jthom32/racepulse/internal/cache"
	"github.com/jthom32/racepulse/internal/database"
)

// Analytics endpoints are read-heavy and derive from stable lap data,
// so every handler here caches its result until the TTL expires or the
// ingest manager clears the cache after a run.

// cachedQuery runs fn unless the cache already holds a result for the
// same endpoint and parameters.
func (h *Handler) cachedQuery(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	params interface{},
	fn func(ctx context.Context) (interface{}, error),
) {
	key := cache.GenerateKey(name, params)
	if cached, found := h.cache.Get(key); found {
		respondCached(w, r, cached)
		return
	}

	start := time.Now()
	data, err := fn(r.Context())
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Analytics query failed", err)
		return
	}

	h.cache.Set(key, data)
	respondSuccess(w, r, data, start)
}

// DriverConsistency returns per-driver lap-time consistency for a race:
// mean, best, standard deviation, and consistency index. With a
// driver_id path value the series is filtered to that driver.
//
// Method: GET
// Path: /api/v1/analytics/drivers/{id}/consistency
// Query: race_id (required)
func (h *Handler) DriverConsistency(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	driverID := r.PathValue("id")
	raceID := r.URL.Query().Get("race_id")
	if raceID == "" {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "race_id query parameter is required", nil)
		return
	}

	h.cachedQuery(w, r, "driver_consistency", map[string]string{
		"driver_id": driverID,
		"race_id":   raceID,
	}, func(ctx context.Context) (interface{}, error) {
		all, err := h.db.GetRaceConsistency(ctx, raceID)
		if err != nil {
			return nil, err
		}

		for i := range all {
			if all[i].DriverID == driverID {
				return all[i], nil
			}
		}
		return nil, database.ErrNotFound
	})
}

// RacePace returns per-driver pace trends as a moving average over a
// 5-lap window.
//
// Method: GET
// Path: /api/v1/analytics/races/{id}/pace
// Query: window (lap count, default 5)
func (h *Handler) RacePace(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	raceID := r.PathValue("id")
	window := getIntParam(r, "window", 5)
	if window < 2 || window > 50 {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "window must be between 2 and 50", nil)
		return
	}

	h.cachedQuery(w, r, "race_pace", map[string]interface{}{
		"race_id": raceID,
		"window":  window,
	}, func(ctx context.Context) (interface{}, error) {
		series, err := h.db.GetRacePace(ctx, raceID, window)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"race_id": raceID,
			"window":  window,
			"drivers": series,
		}, nil
	})
}

// RaceProgression returns per-lap position chart data for a race.
//
// Method: GET
// Path: /api/v1/analytics/races/{id}/progression
func (h *Handler) RaceProgression(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	raceID := r.PathValue("id")
	h.cachedQuery(w, r, "race_progression", raceID, func(ctx context.Context) (interface{}, error) {
		series, err := h.db.GetRaceProgression(ctx, raceID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"race_id": raceID,
			"drivers": series,
		}, nil
	})
}

// WeatherImpact correlates lap times with temperature and humidity for
// each race of an event.
//
// Method: GET
// Path: /api/v1/analytics/events/{id}/weather-impact
func (h *Handler) WeatherImpact(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	eventID := r.PathValue("id")
	h.cachedQuery(w, r, "weather_impact", eventID, func(ctx context.Context) (interface{}, error) {
		impact, err := h.db.GetWeatherImpact(ctx, eventID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"event_id": eventID,
			"races":    impact,
		}, nil
	})
}

// Stats returns platform totals and the last ingest run.
//
// Method: GET
// Path: /api/v1/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	h.cachedQuery(w, r, "platform_stats", nil, func(ctx context.Context) (interface{}, error) {
		stats, err := h.db.GetPlatformStats(ctx)
		if err != nil {
			return nil, err
		}

		result := map[string]interface{}{"totals": stats}
		if h.ingest != nil {
			progress := h.ingest.Progress(ctx)
			result["last_ingest"] = progress.LastRun
			result["ingest_running"] = progress.Running
		}
		return result, nil
	})
}
