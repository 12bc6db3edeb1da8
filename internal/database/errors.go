// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package database

import (
	"errors"
	"io"

	"github.com/jthom32/racepulse/internal/logging"
)

// Sentinel errors returned by data access methods. Handlers map these to
// HTTP status codes.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness constraint would be violated,
	// such as creating a track with a duplicate external_ref.
	ErrConflict = errors.New("conflict")
)

// closeWithLog closes a resource and logs a warning on failure.
func closeWithLog(closer io.Closer, resourceType string) {
	if err := closer.Close(); err != nil {
		logging.Warn().Err(err).Str("resource", resourceType).Msg("Failed to close resource")
	}
}

// closeQuietly closes a resource and ignores any error. Use only during
// error cleanup paths where a close failure adds no information.
func closeQuietly(closer io.Closer) {
	_ = closer.Close()
}
