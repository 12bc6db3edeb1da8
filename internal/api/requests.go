// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package api

// Request bodies for write endpoints, with go-playground/validator tags.
// Query-only endpoints parse parameters directly; these structs cover
// anything that arrives as a JSON body.

// LoginRequest carries login credentials.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=100"`
	Password string `json:"password" validate:"required,min=1,max=1024"`
}

// RefreshRequest exchanges a refresh token for a new access token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest revokes a refresh session.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// TrackRequest creates or updates a track.
type TrackRequest struct {
	Name           string  `json:"name" validate:"required,min=1,max=200"`
	Slug           string  `json:"slug" validate:"required,trackslug,max=100"`
	Location       string  `json:"location" validate:"max=200"`
	Surface        string  `json:"surface" validate:"required,surface"`
	Timezone       string  `json:"timezone" validate:"max=64"`
	LengthMeters   float64 `json:"length_meters" validate:"min=0,max=10000"`
	TimingProvider string  `json:"timing_provider" validate:"omitempty,oneof=liverc manual"`
	ExternalRef    string  `json:"external_ref" validate:"max=200"`
}

// IngestTriggerRequest kicks a manual ingest run. An empty scope means
// a full run over all LiveRC-enabled tracks; otherwise scope is the
// external_ref of a single event to re-ingest.
type IngestTriggerRequest struct {
	Scope string `json:"scope" validate:"max=200"`
}

// DiscoverRequest asks the ingestion microservice for practice days.
type DiscoverRequest struct {
	TrackRef string `json:"track_ref" validate:"required,max=200"`
	From     string `json:"from" validate:"required,datetime=2006-01-02"`
	To       string `json:"to" validate:"required,datetime=2006-01-02"`
}

// CreateUserRequest provisions a new account.
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=100"`
	Password string `json:"password" validate:"required,min=12,max=1024"`
	Role     string `json:"role" validate:"required,oneof=admin user"`
}

// UpdateUserRequest changes a user's role or disabled flag. Pointer
// fields distinguish "not provided" from zero values.
type UpdateUserRequest struct {
	Role     *string `json:"role" validate:"omitempty,oneof=admin user"`
	Disabled *bool   `json:"disabled"`
	Password *string `json:"password" validate:"omitempty,min=12,max=1024"`
}
