// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

// Package config loads and validates RacePulse configuration.
//
// Configuration is layered via Koanf v2 (highest priority wins):
//  1. Built-in defaults
//  2. Optional YAML config file (config.yaml, or CONFIG_FILE)
//  3. Environment variables
//
// Every setting has an environment variable; validation errors name the
// variable so operators can fix the deployment without reading code.
package config

import "time"

// Config is the root configuration for the RacePulse server.
type Config struct {
	LiveRC    LiveRCConfig    `koanf:"liverc"`    // Inbound timing data from LiveRC
	Discovery DiscoveryConfig `koanf:"discovery"` // Outbound calls to the ingestion microservice
	Ingest    IngestConfig    `koanf:"ingest"`    // Periodic ingest loop behaviour
	Database  DatabaseConfig  `koanf:"database"`
	Server    ServerConfig    `koanf:"server"`
	API       APIConfig       `koanf:"api"`
	Security  SecurityConfig  `koanf:"security"`
	Audit     AuditConfig     `koanf:"audit"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// LiveRCConfig holds settings for the LiveRC timing provider client.
//
// Environment Variables:
//   - LIVERC_ENABLED: Master toggle for LiveRC ingestion (default: false)
//   - LIVERC_URL: LiveRC API base URL (required when enabled)
//   - LIVERC_API_KEY: Optional API key sent as X-Api-Key header
//   - LIVERC_TIMEOUT: Per-request timeout (default: 15s)
//   - LIVERC_RATE_LIMIT: Max requests per second to LiveRC (default: 4)
type LiveRCConfig struct {
	Enabled   bool          `koanf:"enabled"`
	URL       string        `koanf:"url"`
	APIKey    string        `koanf:"api_key"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"` // requests per second
}

// DiscoveryConfig holds settings for the external ingestion microservice
// that discovers practice days and events from third-party timing sites.
//
// Environment Variables:
//   - INGESTION_SERVICE_URL: Base URL of the ingestion service
//   - DISCOVERY_ENABLED: Enable discovery calls (default: false)
//   - DISCOVERY_TIMEOUT: Per-request timeout (default: 60s; discovery scrapes are slow)
type DiscoveryConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// IngestConfig holds the periodic ingest loop settings.
//
// Environment Variables:
//   - INGEST_INTERVAL: How often the scheduled ingest runs (default: 15m)
//   - INGEST_LOOKBACK_DAYS: How far back to fetch events (default: 7)
//   - INGEST_BATCH_SIZE: Rows per insert batch (default: 500)
//   - INGEST_RETRY_ATTEMPTS: Retries per upstream call (default: 3)
//   - INGEST_RETRY_DELAY: Base delay between retries (default: 2s)
type IngestConfig struct {
	Interval      time.Duration `koanf:"interval"`
	LookbackDays  int           `koanf:"lookback_days"`
	BatchSize     int           `koanf:"batch_size"`
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`   // 0 = use runtime.NumCPU()
	SeedDemo  bool   `koanf:"seed_demo"` // Seed demo race data for local development
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int           `koanf:"port"`
	Host        string        `koanf:"host"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"` // "development", "staging", "production"
}

// APIConfig holds API pagination and response caching settings.
type APIConfig struct {
	DefaultPageSize int           `koanf:"default_page_size"`
	MaxPageSize     int           `koanf:"max_page_size"`
	CacheTTL        time.Duration `koanf:"cache_ttl"`
}

// SecurityConfig holds authentication and authorization settings.
//
// Environment Variables:
//   - AUTH_MODE: jwt, basic, or none (default: jwt)
//   - JWT_SECRET: 32+ character secret for token signing (required for jwt)
//   - SESSION_TIMEOUT: JWT/session lifetime (default: 24h)
//   - ADMIN_USERNAME / ADMIN_PASSWORD: bootstrap admin account
//   - RATE_LIMIT_REQUESTS / RATE_LIMIT_WINDOW / DISABLE_RATE_LIMIT
//   - CORS_ORIGINS: comma-separated allowed origins (default: *)
//   - TRUSTED_PROXIES: comma-separated CIDRs trusted for X-Forwarded-For
//   - SESSION_STORE: memory or badger (default: badger)
//   - SESSION_STORE_PATH: BadgerDB path (required when session_store=badger)
//   - LOCKOUT_THRESHOLD / LOCKOUT_BASE_DURATION / LOCKOUT_MAX_DURATION
type SecurityConfig struct {
	AuthMode          string        `koanf:"auth_mode"`
	JWTSecret         string        `koanf:"jwt_secret"`
	SessionTimeout    time.Duration `koanf:"session_timeout"`
	AdminUsername     string        `koanf:"admin_username"`
	AdminPassword     string        `koanf:"admin_password"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	TrustedProxies    []string      `koanf:"trusted_proxies"`

	// SessionStore selects the refresh-token backend: "memory" or "badger".
	SessionStore     string `koanf:"session_store"`
	SessionStorePath string `koanf:"session_store_path"`

	// Login lockout with exponential backoff.
	LockoutThreshold    int           `koanf:"lockout_threshold"`
	LockoutBaseDuration time.Duration `koanf:"lockout_base_duration"`
	LockoutMaxDuration  time.Duration `koanf:"lockout_max_duration"`
}

// AuditConfig holds audit trail settings.
//
// Environment Variables:
//   - AUDIT_ENABLED: Enable audit logging (default: true)
//   - AUDIT_BUFFER_SIZE: Async event buffer size (default: 1000)
//   - AUDIT_RETENTION_DAYS: Days to keep audit events (default: 90)
type AuditConfig struct {
	Enabled       bool `koanf:"enabled"`
	BufferSize    int  `koanf:"buffer_size"`
	RetentionDays int  `koanf:"retention_days"`
}

// LoggingConfig holds logging settings for zerolog.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false - include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development" || c.Server.Environment == ""
}

// ShouldWarnAboutCORS reports whether CORS is wildcard while auth is on.
// That combination lets any origin replay stolen credentials.
func (c *Config) ShouldWarnAboutCORS() bool {
	if c.Security.AuthMode == "none" {
		return false
	}
	return c.hasWildcardCORS()
}

func (c *Config) hasWildcardCORS() bool {
	for _, origin := range c.Security.CORSOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// Load reads configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
