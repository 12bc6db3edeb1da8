// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/jthom32/racepulse/internal/auth"
	"github.com/jthom32/racepulse/internal/logging"
	"github.com/jthom32/racepulse/internal/models"
	"github.com/jthom32/racepulse/internal/validation"
)

// sanitizeLogValue strips control characters from user-supplied strings
// before they reach the log stream, so a crafted header or username
// cannot forge log lines.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// respondJSON sends a JSON response with caching headers and an ETag
// derived from the payload. When the request carries an If-None-Match
// header matching the computed ETag, the body is skipped and a 304 is
// returned instead.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Vary", "Accept-Encoding")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if status == http.StatusOK {
		// The ETag covers the data payload, not the envelope: the
		// envelope metadata carries a per-request timestamp that would
		// defeat revalidation.
		if payload, err := json.Marshal(response.Data); err == nil {
			etag := generateETag(payload)
			w.Header().Set("ETag", etag)
			if r != nil && etagMatches(r.Header.Get("If-None-Match"), etag) {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// etagMatches reports whether any value in an If-None-Match header
// matches the given ETag. Weak validators ("W/") and quoting are
// tolerated; "*" matches everything.
func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		candidate = strings.Trim(candidate, `"`)
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

// generateETag creates a weak ETag from the payload using FNV-1a.
func generateETag(data []byte) string {
	hash := uint32(2166136261)
	for _, b := range data {
		hash ^= uint32(b)
		hash *= 16777619
	}
	return strconv.FormatUint(uint64(hash), 16)
}

// respondError sends a structured error response.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().
			Str("code", sanitizeLogValue(code)).
			Str("error", sanitizeLogValue(err.Error())).
			Msg("API error")
	}

	respondJSON(w, nil, status, &models.APIResponse{
		Status: "error",
		Data:   nil,
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
		Error: &models.APIError{
			Code:    code,
			Message: message,
		},
	})
}

// respondSuccess sends a success response with the database query time
// in metadata.
func respondSuccess(w http.ResponseWriter, r *http.Request, data interface{}, queryStart time.Time) {
	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   data,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(queryStart).Milliseconds(),
		},
	})
}

// respondCached sends a success response for data served from cache.
func respondCached(w http.ResponseWriter, r *http.Request, data interface{}) {
	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   data,
		Metadata: models.Metadata{
			Timestamp: time.Now(),
			Cached:    true,
		},
	})
}

// validateRequest validates a struct with go-playground/validator and
// converts failures to the API error shape.
func validateRequest(v interface{}) *models.APIError {
	validationErr := validation.ValidateStruct(v)
	if validationErr == nil {
		return nil
	}

	apiErr := validationErr.ToAPIError()
	return &models.APIError{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	}
}

// getIntParam extracts an integer query parameter with a default value.
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// getTimeParam parses an RFC3339 or date-only query parameter. Returns
// nil when absent, an error when malformed.
func getTimeParam(r *http.Request, key string) (*time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("parameter %s must be RFC3339 or YYYY-MM-DD", key)
	}
	return &t, nil
}

// pagination extracts limit/offset clamped to the configured page sizes.
func (h *Handler) pagination(r *http.Request) (limit, offset int) {
	defaultSize := h.cfg.API.DefaultPageSize
	if defaultSize <= 0 {
		defaultSize = 50
	}
	maxSize := h.cfg.API.MaxPageSize
	if maxSize <= 0 {
		maxSize = 500
	}

	limit = getIntParam(r, "limit", defaultSize)
	if limit < 1 {
		limit = defaultSize
	}
	if limit > maxSize {
		limit = maxSize
	}

	offset = getIntParam(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// claimsFrom returns the authenticated claims attached by the auth
// middleware, or nil when the request is unauthenticated (auth mode
// "none").
func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(auth.ClaimsContextKey).(*auth.Claims)
	return claims
}
