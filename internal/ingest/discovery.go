// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/jthom32/racepulse/internal/config"
	"github.com/jthom32/racepulse/internal/logging"
)

// discoverPath is the practice-day discovery endpoint on the ingestion
// microservice.
const discoverPath = "/api/v1/practice-days/discover"

// DiscoveryRequest is the outbound discovery payload. Dates are
// calendar days in the track's timezone, formatted YYYY-MM-DD.
type DiscoveryRequest struct {
	TrackRef string `json:"track_ref"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// PracticeDay is one discovered practice day or event.
type PracticeDay struct {
	Name        string   `json:"name"`
	Date        string   `json:"date"` // YYYY-MM-DD
	ExternalRef string   `json:"external_ref"`
	Classes     []string `json:"classes,omitempty"`
}

// DiscoveryResponse is the ingestion service's reply.
type DiscoveryResponse struct {
	PracticeDays []PracticeDay `json:"practice_days"`
}

// ErrDiscoveryDisabled is returned when discovery is not configured.
var ErrDiscoveryDisabled = fmt.Errorf("discovery is disabled")

// DiscoveryClient calls the external ingestion microservice that
// scrapes third-party timing sites. Discovery requests are slow;
// the timeout defaults to 60 seconds.
type DiscoveryClient struct {
	baseURL string
	enabled bool
	client  *http.Client
}

// NewDiscoveryClient creates a client from config. A disabled or
// URL-less config yields a client whose calls return
// ErrDiscoveryDisabled.
func NewDiscoveryClient(cfg *config.DiscoveryConfig) (*DiscoveryClient, error) {
	if !cfg.Enabled || cfg.URL == "" {
		return &DiscoveryClient{enabled: false}, nil
	}

	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse ingestion service url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("ingestion service url must be http or https, got %q", cfg.URL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &DiscoveryClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		enabled: true,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Enabled reports whether discovery calls are configured.
func (c *DiscoveryClient) Enabled() bool {
	return c.enabled
}

// DiscoverPracticeDays asks the ingestion service for practice days at
// a track within the [from, to] date window.
func (c *DiscoveryClient) DiscoverPracticeDays(ctx context.Context, trackRef string, from, to time.Time) ([]PracticeDay, error) {
	if !c.enabled {
		return nil, ErrDiscoveryDisabled
	}
	if trackRef == "" {
		return nil, fmt.Errorf("track ref is required")
	}

	payload, err := json.Marshal(DiscoveryRequest{
		TrackRef: trackRef,
		From:     from.Format("2006-01-02"),
		To:       to.Format("2006-01-02"),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal discovery request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+discoverPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create discovery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readErrorBody(resp.Body)
		return nil, fmt.Errorf("discovery returned status %d: %s", resp.StatusCode, body)
	}

	var out DiscoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode discovery response: %w", err)
	}

	logging.Info().
		Str("track_ref", trackRef).
		Int("practice_days", len(out.PracticeDays)).
		Dur("elapsed", time.Since(started)).
		Msg("Discovery completed")

	return out.PracticeDays, nil
}
