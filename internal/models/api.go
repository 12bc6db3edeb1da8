// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package models

import "time"

// APIResponse is the standardized response wrapper used by all HTTP
// endpoints, for both successful and error responses.
//
// Status field values:
//   - "success": request completed, see Data
//   - "error": request failed, see Error
//
// Example successful response:
//
//	{
//	  "status": "success",
//	  "data": {"total": 42, "results": [...]},
//	  "metadata": {"timestamp": "2026-08-27T12:00:00Z", "query_time_ms": 3}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response observability fields. QueryTimeMS is the
// database execution time in milliseconds (0 when served from cache).
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
}

// APIError is the structured error payload.
//
// Common codes: BAD_REQUEST, VALIDATION_ERROR, UNAUTHORIZED, FORBIDDEN,
// NOT_FOUND, CONFLICT, RATE_LIMITED, UPSTREAM_UNAVAILABLE, INTERNAL_ERROR.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Page wraps a list payload with total count and paging echo, so clients
// can render pagination without a second count request.
type Page struct {
	Total   int64       `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	Results interface{} `json:"results"`
}
