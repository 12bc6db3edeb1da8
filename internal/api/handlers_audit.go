// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/jthom32/racepulse/internal/audit"
	"github.com/jthom32/racepulse/internal/models"
)

// AuditEvents queries the audit trail. Admin only.
//
// Method: GET
// Path: /api/v1/admin/audit/events
// Query: type, severity, outcome, actor_id, source_ip, q, from, to, limit, offset
func (h *Handler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if h.audit == nil || !h.audit.Enabled() {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Audit logging is disabled", nil)
		return
	}

	limit, offset := h.pagination(r)

	filter := audit.DefaultQueryFilter()
	filter.Limit = limit
	filter.Offset = offset
	filter.ActorID = r.URL.Query().Get("actor_id")
	filter.SourceIP = r.URL.Query().Get("source_ip")
	filter.SearchText = r.URL.Query().Get("q")

	for _, t := range splitParam(r, "type") {
		filter.Types = append(filter.Types, audit.EventType(t))
	}
	for _, s := range splitParam(r, "severity") {
		filter.Severities = append(filter.Severities, audit.Severity(s))
	}
	for _, o := range splitParam(r, "outcome") {
		filter.Outcomes = append(filter.Outcomes, audit.Outcome(o))
	}

	var err error
	if filter.StartTime, err = getTimeParam(r, "from"); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid from timestamp", err)
		return
	}
	if filter.EndTime, err = getTimeParam(r, "to"); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid to timestamp", err)
		return
	}

	ctx := r.Context()
	start := time.Now()

	events, err := h.audit.Query(ctx, filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to query audit events", err)
		return
	}
	total, err := h.audit.Count(ctx, filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to count audit events", err)
		return
	}

	respondSuccess(w, r, models.Page{
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		Results: events,
	}, start)
}

// AuditStats reports aggregate counts over the audit trail.
//
// Method: GET
// Path: /api/v1/admin/audit/stats
func (h *Handler) AuditStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if h.auditStats == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Audit logging is disabled", nil)
		return
	}

	start := time.Now()
	stats, err := h.auditStats.GetStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to compute audit stats", err)
		return
	}

	respondSuccess(w, r, stats, start)
}

// splitParam returns the non-empty comma-separated values of a query
// parameter.
func splitParam(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
