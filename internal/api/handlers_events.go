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

// eventDetail is the GET /events/{id} payload: the event with its
// track, race list, and a weather summary.
type eventDetail struct {
	*models.Event
	Races   []models.Race   `json:"races"`
	Weather *weatherSummary `json:"weather,omitempty"`
}

type weatherSummary struct {
	Samples      int     `json:"samples"`
	MinTempC     float64 `json:"min_temp_c"`
	MaxTempC     float64 `json:"max_temp_c"`
	AvgTempC     float64 `json:"avg_temp_c"`
	AvgHumidity  float64 `json:"avg_humidity_pct"`
	LastRecorded string  `json:"last_recorded,omitempty"`
}

// Events lists events with track/status/source/time filters.
//
// Method: GET
// Path: /api/v1/events
// Query: track_id, status, source, from, to, q, limit, offset
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	from, err := getTimeParam(r, "from")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	to, err := getTimeParam(r, "to")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	limit, offset := h.pagination(r)
	filter := database.EventFilter{
		TrackID: r.URL.Query().Get("track_id"),
		Status:  r.URL.Query().Get("status"),
		Source:  r.URL.Query().Get("source"),
		From:    from,
		To:      to,
		Query:   r.URL.Query().Get("q"),
		Limit:   limit,
		Offset:  offset,
	}

	start := time.Now()
	events, total, err := h.db.ListEvents(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list events", err)
		return
	}

	respondSuccess(w, r, models.Page{
		Total:   int64(total),
		Limit:   limit,
		Offset:  offset,
		Results: events,
	}, start)
}

// Event returns one event with its track, races, and weather summary.
//
// Method: GET
// Path: /api/v1/events/{id}
func (h *Handler) Event(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	ctx := r.Context()
	start := time.Now()

	event, err := h.db.GetEvent(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Event not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load event", err)
		return
	}

	races, err := h.db.ListRacesByEvent(ctx, event.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load races", err)
		return
	}

	samples, err := h.db.ListWeatherSamples(ctx, event.ID, nil, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load weather", err)
		return
	}

	respondSuccess(w, r, eventDetail{
		Event:   event,
		Races:   races,
		Weather: summarizeWeather(samples),
	}, start)
}

// EventWeather returns the weather sample time series for an event.
//
// Method: GET
// Path: /api/v1/events/{id}/weather
// Query: from, to (RFC3339 or YYYY-MM-DD)
func (h *Handler) EventWeather(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	from, err := getTimeParam(r, "from")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	to, err := getTimeParam(r, "to")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	ctx := r.Context()
	eventID := r.PathValue("id")

	// 404 on unknown events rather than an empty series.
	if _, err := h.db.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Event not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load event", err)
		return
	}

	start := time.Now()
	samples, err := h.db.ListWeatherSamples(ctx, eventID, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load weather", err)
		return
	}

	respondSuccess(w, r, map[string]interface{}{
		"event_id": eventID,
		"samples":  samples,
		"summary":  summarizeWeather(samples),
	}, start)
}

// Race returns a race with its entry list.
//
// Method: GET
// Path: /api/v1/races/{id}
func (h *Handler) Race(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	ctx := r.Context()
	start := time.Now()

	race, err := h.db.GetRace(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Race not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load race", err)
		return
	}

	entries, err := h.db.ListRaceEntries(ctx, race.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load race entries", err)
		return
	}
	race.Entries = entries

	respondSuccess(w, r, race, start)
}

// RaceLaps returns laps ordered by driver and lap number, optionally
// filtered by driver.
//
// Method: GET
// Path: /api/v1/races/{id}/laps
// Query: driver_id, limit, offset
func (h *Handler) RaceLaps(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !h.requireDB(w) {
		return
	}

	ctx := r.Context()
	raceID := r.PathValue("id")

	if _, err := h.db.GetRace(ctx, raceID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Race not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load race", err)
		return
	}

	limit, offset := h.pagination(r)
	filter := database.LapFilter{
		RaceID:   raceID,
		DriverID: r.URL.Query().Get("driver_id"),
		Limit:    limit,
		Offset:   offset,
	}

	start := time.Now()
	laps, total, err := h.db.ListLaps(ctx, filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list laps", err)
		return
	}

	respondSuccess(w, r, models.Page{
		Total:   int64(total),
		Limit:   limit,
		Offset:  offset,
		Results: laps,
	}, start)
}

// summarizeWeather reduces a sample series to min/max/avg figures for
// the event detail payload. Returns nil when there are no samples.
func summarizeWeather(samples []models.WeatherSample) *weatherSummary {
	if len(samples) == 0 {
		return nil
	}

	summary := &weatherSummary{
		Samples:  len(samples),
		MinTempC: samples[0].TemperatureC,
		MaxTempC: samples[0].TemperatureC,
	}

	var tempSum, humiditySum float64
	var last time.Time
	for _, s := range samples {
		if s.TemperatureC < summary.MinTempC {
			summary.MinTempC = s.TemperatureC
		}
		if s.TemperatureC > summary.MaxTempC {
			summary.MaxTempC = s.TemperatureC
		}
		tempSum += s.TemperatureC
		humiditySum += s.HumidityPct
		if s.RecordedAt.After(last) {
			last = s.RecordedAt
		}
	}

	summary.AvgTempC = tempSum / float64(len(samples))
	summary.AvgHumidity = humiditySum / float64(len(samples))
	if !last.IsZero() {
		summary.LastRecorded = last.Format(time.RFC3339)
	}
	return summary
}
