// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/racepulse/config.yaml",
	"/etc/racepulse/config.yml",
}

// ConfigFileEnvVar overrides the config file search path.
const ConfigFileEnvVar = "CONFIG_FILE"

// defaultConfig returns a Config with all default values. Defaults are
// loaded first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		LiveRC: LiveRCConfig{
			Enabled:   false,
			URL:       "",
			APIKey:    "",
			Timeout:   15 * time.Second,
			RateLimit: 4,
		},
		Discovery: DiscoveryConfig{
			Enabled: false,
			URL:     "",
			Timeout: 60 * time.Second, // discovery scrapes upstream sites; allow slow responses
		},
		Ingest: IngestConfig{
			Interval:      15 * time.Minute,
			LookbackDays:  7,
			BatchSize:     500,
			RetryAttempts: 3,
			RetryDelay:    2 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/racepulse.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
			SeedDemo:  false,
		},
		Server: ServerConfig{
			Port:        8095,
			Host:        "0.0.0.0",
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			CacheTTL:        5 * time.Minute,
		},
		Security: SecurityConfig{
			AuthMode:          "jwt",
			JWTSecret:         "",
			SessionTimeout:    24 * time.Hour,
			AdminUsername:     "",
			AdminPassword:     "",
			RateLimitReqs:     100,
			RateLimitWindow:   1 * time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
			TrustedProxies:    []string{},

			// Persistent sessions survive restarts; memory is for dev/tests.
			SessionStore:     "badger",
			SessionStorePath: "/data/sessions",

			LockoutThreshold:    5,
			LockoutBaseDuration: 30 * time.Second,
			LockoutMaxDuration:  15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:       true,
			BufferSize:    1000,
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if exists)
//  3. Environment variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Env vars arrive as strings; split the known slice fields.
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches CONFIG_FILE then the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigFileEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"security.trusted_proxies",
}

// processSliceFields converts comma-separated string values to slices for
// the known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML or defaults): leave it alone.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables return "" and are skipped, preventing unrelated
// environment from polluting the configuration.
//
// Examples:
//   - LIVERC_URL -> liverc.url
//   - INGESTION_SERVICE_URL -> discovery.url
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// LiveRC mappings
		"liverc_enabled":    "liverc.enabled",
		"liverc_url":        "liverc.url",
		"liverc_api_key":    "liverc.api_key",
		"liverc_timeout":    "liverc.timeout",
		"liverc_rate_limit": "liverc.rate_limit",

		// Ingestion-service discovery mappings
		"discovery_enabled":     "discovery.enabled",
		"ingestion_service_url": "discovery.url",
		"discovery_timeout":     "discovery.timeout",

		// Ingest loop mappings
		"ingest_interval":       "ingest.interval",
		"ingest_lookback_days":  "ingest.lookback_days",
		"ingest_batch_size":     "ingest.batch_size",
		"ingest_retry_attempts": "ingest.retry_attempts",
		"ingest_retry_delay":    "ingest.retry_delay",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",
		"seed_demo_data":    "database.seed_demo",

		// Server mappings
		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// API mappings
		"api_default_page_size": "api.default_page_size",
		"api_max_page_size":     "api.max_page_size",
		"api_cache_ttl":         "api.cache_ttl",

		// Security mappings
		"auth_mode":           "security.auth_mode",
		"jwt_secret":          "security.jwt_secret",
		"session_timeout":     "security.session_timeout",
		"admin_username":      "security.admin_username",
		"admin_password":      "security.admin_password",
		"rate_limit_requests": "security.rate_limit_reqs",
		"rate_limit_window":   "security.rate_limit_window",
		"disable_rate_limit":  "security.rate_limit_disabled",
		"cors_origins":        "security.cors_origins",
		"trusted_proxies":     "security.trusted_proxies",
		"session_store":       "security.session_store",
		"session_store_path":  "security.session_store_path",

		// Lockout mappings
		"lockout_threshold":     "security.lockout_threshold",
		"lockout_base_duration": "security.lockout_base_duration",
		"lockout_max_duration":  "security.lockout_max_duration",

		// Audit mappings
		"audit_enabled":        "audit.enabled",
		"audit_buffer_size":    "audit.buffer_size",
		"audit_retention_days": "audit.retention_days",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// ActiveConfigFile returns the config file the loader would use, or ""
// when configuration comes from defaults and environment only.
func ActiveConfigFile() string {
	return findConfigFile()
}

// WatchConfigFile sets up a file watcher for hot-reload. The caller is
// responsible for mutex protection when swapping configuration.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
