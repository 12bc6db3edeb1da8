// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

// Package api implements the REST surface under /api/v1 and the
// WebSocket upgrade endpoint. Handlers are split by resource:
//
//   - handlers.go: Handler struct, constructor, WebSocket upgrade
//   - handlers_health.go: liveness/readiness probes
//   - handlers_auth.go: login, refresh, logout
//   - handlers_tracks.go: track reads + admin CRUD
//   - handlers_events.go: events, weather, races, laps
//   - handlers_drivers.go: driver search, profiles, results
//   - handlers_analytics.go: cached analytics + platform stats
//   - handlers_admin.go: ingest control, discovery, user management
//   - handlers_audit.go: audit trail queries
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jthom32/racepulse/internal/audit"
	"github.com/jthom32/racepulse/internal/auth"
	"github.com/jthom32/racepulse/internal/cache"
	"github.com/jthom32/racepulse/internal/config"
	"github.com/jthom32/racepulse/internal/database"
	"github.com/jthom32/racepulse/internal/logging"
	"github.com/jthom32/racepulse/internal/models"
	ws "github.com/jthom32/racepulse/internal/websocket"
)

// IngestController is the slice of the ingest manager the API needs.
// *ingest.Manager satisfies it; tests substitute a stub.
type IngestController interface {
	TriggerManual(scope string) error
	Progress(ctx context.Context) models.IngestProgress
	LastError() error
	Healthy() bool
	DiscoverEvents(ctx context.Context, trackRef string, from, to time.Time) ([]models.Event, error)
}

// AuditStatsProvider exposes aggregate audit counts. The DuckDB audit
// store implements it; the in-memory store does not, so the field is
// optional.
type AuditStatsProvider interface {
	GetStats(ctx context.Context) (*audit.Stats, error)
}

// Handler carries the dependencies for all API handlers.
type Handler struct {
	db         *database.DB
	ingest     IngestController
	cfg        *config.Config
	jwtManager *auth.JWTManager
	sessions   auth.SessionStore
	lockouts   *auth.LockoutManager
	audit      *audit.Logger
	auditStats AuditStatsProvider
	wsHub      *ws.Hub
	cache      *cache.Cache
	startTime  time.Time
}

// NewHandler creates the API handler. The analytics cache TTL comes
// from config (default 5 minutes). jwtManager, sessions, lockouts, and
// audit may be nil depending on auth mode; handlers degrade per mode.
func NewHandler(
	db *database.DB,
	ingestMgr IngestController,
	cfg *config.Config,
	jwtManager *auth.JWTManager,
	sessions auth.SessionStore,
	lockouts *auth.LockoutManager,
	auditLogger *audit.Logger,
	wsHub *ws.Hub,
) *Handler {
	ttl := cfg.API.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &Handler{
		db:         db,
		ingest:     ingestMgr,
		cfg:        cfg,
		jwtManager: jwtManager,
		sessions:   sessions,
		lockouts:   lockouts,
		audit:      auditLogger,
		wsHub:      wsHub,
		cache:      cache.New("analytics", ttl),
		startTime:  time.Now(),
	}
}

// SetAuditStats wires the aggregate stats provider for the admin audit
// endpoints. Called after the audit store is created.
func (h *Handler) SetAuditStats(provider AuditStatsProvider) {
	h.auditStats = provider
}

// ClearCache invalidates cached analytics. Wired to the ingest
// manager's completion callback so clients see fresh data after a run.
func (h *Handler) ClearCache() {
	if h.cache != nil {
		h.cache.Clear()
		logging.Debug().Msg("Analytics cache cleared")
	}
}

// requireMethod validates the HTTP method; returns false after writing
// the error response.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return false
	}
	return true
}

// requireDB checks database availability.
func (h *Handler) requireDB(w http.ResponseWriter) bool {
	if h.db == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Database not available", nil)
		return false
	}
	return true
}

// getUpgrader builds the WebSocket upgrader with origin checking and a
// handshake timeout against slow-client attacks.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates the Origin header against configured
// CORS origins. Browser WebSockets always send Origin; a missing header
// means a non-browser client, which is rejected to keep CORS meaningful.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}

	if h.cfg == nil {
		return true
	}

	for _, allowed := range h.cfg.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().
		Str("origin", sanitizeLogValue(origin)).
		Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// WebSocket upgrades the connection and registers the client with the
// live-timing hub.
//
// Method: GET
// Path: /api/v1/ws
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		logging.Warn().Msg("WebSocket connection rejected: hub not initialized")
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "WebSocket service unavailable", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	h.wsHub.Register <- client
	client.Start()
}
