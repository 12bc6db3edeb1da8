// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

// Package main is the entry point for the RacePulse server.
//
// RacePulse is a self-hosted race-event analytics platform for RC
// racing: it ingests lap timing, entries, and weather from LiveRC-style
// timing providers, stores everything in DuckDB, and serves analytics
// and live timing over a REST API and WebSocket.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered config (defaults, YAML, env)
//  2. Database: DuckDB with the full race schema
//  3. Event bus: in-process Watermill Pub/Sub for ingest events
//  4. Ingest: LiveRC client behind a circuit breaker, plus the
//     optional discovery microservice client
//  5. Authentication: JWT (with refresh sessions and login lockout),
//     Basic Auth, or none
//  6. Audit: DuckDB-backed security audit trail
//  7. HTTP server: Chi router with per-group rate limits
//
// All long-running parts (ingest loop, event forwarder, WebSocket hub,
// HTTP server) run under a suture supervision tree so a panic in one
// restarts only that service.
//
// # Configuration
//
// Every setting has an environment variable; see the config package.
// The essentials:
//
//	export LIVERC_ENABLED=true
//	export LIVERC_URL=https://live.example.com/api
//	export JWT_SECRET=$(openssl rand -base64 32)
//	export ADMIN_USERNAME=admin
//	export ADMIN_PASSWORD=secure-password
//	./racepulse
//
// Discovery of practice days via the external ingestion service:
//
//	export DISCOVERY_ENABLED=true
//	export INGESTION_SERVICE_URL=http://ingestion:8900
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests (10s timeout), the ingest loop finishes or aborts
// its current run, and the database closes last.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jthom32/racepulse/internal/api"
	"github.com/jthom32/racepulse/internal/audit"
	"github.com/jthom32/racepulse/internal/auth"
	"github.com/jthom32/racepulse/internal/authz"
	"github.com/jthom32/racepulse/internal/config"
	"github.com/jthom32/racepulse/internal/database"
	"github.com/jthom32/racepulse/internal/eventbus"
	"github.com/jthom32/racepulse/internal/ingest"
	"github.com/jthom32/racepulse/internal/logging"
	"github.com/jthom32/racepulse/internal/models"
	"github.com/jthom32/racepulse/internal/supervisor"
	"github.com/jthom32/racepulse/internal/supervisor/services"
	ws "github.com/jthom32/racepulse/internal/websocket"
)

//nolint:gocyclo // sequential startup wiring
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Bool("liverc_enabled", cfg.LiveRC.Enabled).
		Bool("discovery_enabled", cfg.Discovery.Enabled).
		Str("db_path", cfg.Database.Path).
		Str("auth_mode", cfg.Security.AuthMode).
		Msg("Starting RacePulse")

	// Hot-reload the log level on config file edits. Everything else
	// (ports, stores, auth mode) keeps requiring a restart.
	if configFile := config.ActiveConfigFile(); configFile != "" {
		err := config.WatchConfigFile(configFile, func() {
			reloaded, err := config.Load()
			if err != nil {
				logging.Warn().Err(err).Msg("Config reload failed, keeping current settings")
				return
			}
			logging.SetLevelString(reloaded.Logging.Level)
			logging.Info().Str("level", reloaded.Logging.Level).Msg("Log level reloaded from config file")
		})
		if err != nil {
			logging.Warn().Err(err).Str("path", configFile).Msg("Config file watch unavailable")
		}
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The supervisor logs through slog; bridge it to zerolog.
	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	bus := eventbus.NewBus(eventbus.DefaultConfig())
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	wsHub := ws.NewHub()

	// === TIMING PROVIDER CLIENTS ===

	var timingClient ingest.TimingClientInterface
	if cfg.LiveRC.Enabled {
		liverc, err := ingest.NewLiveRCClient(&cfg.LiveRC)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize LiveRC client")
		}
		// The circuit breaker keeps a flapping timing provider from
		// stalling every scheduled run.
		timingClient = ingest.NewCircuitBreakerClient(liverc, &cfg.LiveRC)
		logging.Info().Str("url", cfg.LiveRC.URL).Msg("LiveRC ingestion enabled")
	} else {
		logging.Info().Msg("LiveRC ingestion disabled - serving stored data only")
	}

	var discovery *ingest.DiscoveryClient
	if cfg.Discovery.Enabled {
		discovery, err = ingest.NewDiscoveryClient(&cfg.Discovery)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize discovery client")
		}
		logging.Info().Str("url", cfg.Discovery.URL).Msg("Practice-day discovery enabled")
	}

	ingestMgr := ingest.NewManager(&cfg.Ingest, db, timingClient, discovery, bus)

	// === AUTHENTICATION ===

	var jwtManager *auth.JWTManager
	var basicAuthManager *auth.BasicAuthManager

	switch cfg.Security.AuthMode {
	case "jwt":
		jwtManager, err = auth.NewJWTManager(&cfg.Security)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
		}
		logging.Info().Msg("JWT authentication enabled")
	case "basic":
		basicAuthManager, err = auth.NewBasicAuthManager(cfg.Security.AdminUsername, cfg.Security.AdminPassword)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize Basic Auth manager")
		}
		logging.Info().Msg("Basic authentication enabled")
		logging.Warn().Msg("Basic Auth transmits credentials with each request. Use HTTPS in production!")
	case "none":
		logging.Warn().Msg("Authentication is DISABLED (AUTH_MODE=none); every endpoint is public")
		logging.Warn().Msg("Never use AUTH_MODE=none outside local development")
	}

	if cfg.ShouldWarnAboutCORS() {
		logging.Warn().Msg("CORS is wildcard (CORS_ORIGINS=*) with authentication enabled")
		logging.Warn().Msg("Set explicit origins in production: CORS_ORIGINS=https://yourdomain.com")
	}

	var sessions auth.SessionStore
	if cfg.Security.AuthMode == "jwt" {
		switch cfg.Security.SessionStore {
		case "badger":
			sessions, err = auth.NewBadgerSessionStore(cfg.Security.SessionStorePath)
			if err != nil {
				logging.Fatal().Err(err).Msg("Failed to open session store")
			}
		default:
			if !cfg.IsDevelopment() {
				logging.Warn().Msg("In-memory sessions are lost on restart; set SESSION_STORE=badger in production")
			}
			sessions = auth.NewMemorySessionStore()
		}
		defer func() {
			if err := sessions.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing session store")
			}
		}()
	}

	var lockouts *auth.LockoutManager
	if cfg.Security.AuthMode == "jwt" {
		lockoutCfg := auth.DefaultLockoutConfig()
		if cfg.Security.LockoutThreshold > 0 {
			lockoutCfg.MaxAttempts = cfg.Security.LockoutThreshold
		}
		if cfg.Security.LockoutBaseDuration > 0 {
			lockoutCfg.BaseDuration = cfg.Security.LockoutBaseDuration
		}
		if cfg.Security.LockoutMaxDuration > 0 {
			lockoutCfg.MaxDuration = cfg.Security.LockoutMaxDuration
		}
		lockouts = auth.NewLockoutManager(auth.NewMemoryLockoutStore(), lockoutCfg)
	}

	if cfg.Security.AuthMode == "jwt" {
		if err := bootstrapAdminUser(ctx, db, &cfg.Security); err != nil {
			logging.Fatal().Err(err).Msg("Failed to bootstrap admin user")
		}
	}

	// === AUDIT TRAIL ===

	var auditLogger *audit.Logger
	var auditStore *audit.DuckDBStore
	if cfg.Audit.Enabled {
		auditStore = audit.NewDuckDBStore(db.Conn())
		if err := auditStore.CreateTable(ctx); err != nil {
			logging.Warn().Err(err).Msg("Failed to create audit table - audit logging disabled")
			auditStore = nil
		} else {
			auditConfig := audit.DefaultConfig()
			if cfg.Audit.BufferSize > 0 {
				auditConfig.BufferSize = cfg.Audit.BufferSize
			}
			if cfg.Audit.RetentionDays > 0 {
				auditConfig.RetentionDays = cfg.Audit.RetentionDays
			}
			auditLogger = audit.NewLogger(auditStore, auditConfig)
			defer func() {
				if err := auditLogger.Close(); err != nil {
					logging.Error().Err(err).Msg("Error closing audit logger")
				}
			}()
			auditLogger.StartCleanupRoutine(ctx)
			logging.Info().Int("retention_days", auditConfig.RetentionDays).Msg("Audit logging enabled")
		}
	}

	// === AUTHORIZATION ===

	var authzMW *authz.Middleware
	if cfg.Security.AuthMode != "none" {
		enforcer, err := authz.NewEnforcer(ctx, authz.DefaultEnforcerConfig())
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize Casbin enforcer")
		}
		defer enforcer.Close()
		authzMW = authz.NewMiddleware(enforcer)
		logging.Info().Msg("Casbin authorization enabled")
	}

	// === API LAYER ===

	handler := api.NewHandler(db, ingestMgr, cfg, jwtManager, sessions, lockouts, auditLogger, wsHub)
	if auditStore != nil {
		handler.SetAuditStats(auditStore)
	}

	// Invalidate cached analytics and push fresh platform totals to
	// live-timing clients after every ingest run.
	ingestMgr.SetOnIngestCompleted(func(run *models.IngestRun) {
		handler.ClearCache()
		if stats, err := db.GetPlatformStats(context.Background()); err == nil {
			wsHub.BroadcastStatsUpdate(stats.Laps, stats.Races)
		}
	})

	authMW := auth.NewMiddleware(
		jwtManager,
		basicAuthManager,
		cfg.Security.AuthMode,
		cfg.Security.TrustedProxies,
		cfg.Security.AdminUsername,
	)
	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}

	chiMW := api.NewChiMiddleware(&api.ChiMiddlewareConfig{
		CORSAllowedOrigins:   cfg.Security.CORSOrigins,
		CORSAllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSAllowedHeaders:   []string{"Content-Type", "Authorization"},
		CORSExposedHeaders:   []string{"ETag"},
		CORSAllowCredentials: true,
		CORSMaxAge:           86400,
		RateLimitDisabled:    cfg.Security.RateLimitDisabled,
		APIRateLimitRequests: cfg.Security.RateLimitReqs,
		APIRateLimitWindow:   cfg.Security.RateLimitWindow,
	})

	router := api.NewRouter(handler, authMW, authzMW, chiMW)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.SetupChi(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// === SUPERVISOR TREE ===

	tree.AddMessagingService(services.NewWebSocketHubService(wsHub))

	var auditor eventbus.IngestAuditor
	if auditLogger != nil {
		auditor = auditLogger
	}
	forwarder := eventbus.NewForwarder(bus, wsHub, auditor)
	tree.AddMessagingService(services.NewRunnerService("eventbus-forwarder", forwarder))

	tree.AddIngestService(services.NewRunnerService("ingest-manager", ingestMgr))

	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === RUN ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("RacePulse stopped gracefully")
}

// bootstrapAdminUser creates the configured admin account on first
// startup so a fresh deployment can log in. An existing account is
// never modified; rotate its password through the admin API.
func bootstrapAdminUser(ctx context.Context, db *database.DB, sec *config.SecurityConfig) error {
	if sec.AdminUsername == "" || sec.AdminPassword == "" {
		logging.Warn().Msg("ADMIN_USERNAME/ADMIN_PASSWORD not set; no admin account bootstrapped")
		return nil
	}

	_, err := db.GetUserByUsername(ctx, sec.AdminUsername)
	if err == nil {
		return nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("look up admin user: %w", err)
	}

	hash, err := auth.HashPassword(sec.AdminPassword)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     sec.AdminUsername,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}
	if err := db.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	logging.Info().Str("username", sec.AdminUsername).Msg("Bootstrapped admin account")
	return nil
}
