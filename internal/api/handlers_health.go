// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package api

import (
	"net/http"
	"time"

	"github.com/jthom32/racepulse/internal/models"
)

// Health returns overall system health: database connectivity, ingest
// state, WebSocket client count, and uptime.
//
// Method: GET
// Path: /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	dbConnected := h.db != nil && h.db.Ping(r.Context()) == nil

	status := "healthy"
	if !dbConnected {
		status = "degraded"
	}

	var ingestProgress *models.IngestProgress
	var ingestError string
	if h.ingest != nil {
		progress := h.ingest.Progress(r.Context())
		ingestProgress = &progress
		if err := h.ingest.LastError(); err != nil {
			ingestError = err.Error()
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	wsClients := 0
	if h.wsHub != nil {
		wsClients = h.wsHub.GetClientCount()
	}

	respondJSON(w, nil, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"status":             status,
			"database_connected": dbConnected,
			"ingest":             ingestProgress,
			"ingest_error":       ingestError,
			"websocket_clients":  wsClients,
			"uptime_seconds":     time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// HealthLive is the Kubernetes liveness probe. Returns 200 whenever the
// process is alive, regardless of dependencies.
//
// Method: GET
// Path: /api/v1/health/live
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	respondJSON(w, nil, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"alive":          true,
			"uptime_seconds": time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// HealthReady is the Kubernetes readiness probe. Ready means the
// database answers a ping and the ingest service loop is alive; a
// failing ingest run only degrades health (reads still work from
// stored data), but a dead ingest loop makes the instance unready.
//
// Method: GET
// Path: /api/v1/health/ready
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	dbConnected := h.db != nil && h.db.Ping(r.Context()) == nil
	ingestAlive := h.ingest == nil || h.ingest.Healthy()
	ready := dbConnected && ingestAlive

	statusCode := http.StatusOK
	status := "success"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		status = "error"
	}

	respondJSON(w, nil, statusCode, &models.APIResponse{
		Status: status,
		Data: map[string]interface{}{
			"database_connected": dbConnected,
			"ingest_alive":       ingestAlive,
			"ready_to_serve":     ready,
			"uptime_seconds":     time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}
