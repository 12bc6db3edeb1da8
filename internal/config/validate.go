// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package config

import (
	"fmt"
	"net/url"
	"strings"
)

var validAuthModes = map[string]bool{
	"none":  true,
	"jwt":   true,
	"basic": true,
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

var validSessionStores = map[string]bool{
	"memory": true,
	"badger": true,
}

// Validate checks that required configuration is present and valid.
// Error messages name the environment variable an operator should fix.
func (c *Config) Validate() error {
	if err := c.validateLiveRC(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	return c.validateLogging()
}

// validateLiveRC validates LiveRC configuration (only when enabled).
func (c *Config) validateLiveRC() error {
	if !c.LiveRC.Enabled {
		return nil
	}
	if c.LiveRC.URL == "" {
		return fmt.Errorf("LIVERC_URL is required when LIVERC_ENABLED=true")
	}
	if err := validateHTTPURL(c.LiveRC.URL, "LIVERC_URL"); err != nil {
		return fmt.Errorf("LIVERC_URL is invalid: %w", err)
	}
	if c.LiveRC.RateLimit <= 0 {
		return fmt.Errorf("LIVERC_RATE_LIMIT must be positive")
	}
	return nil
}

// validateDiscovery validates ingestion-service configuration (only when enabled).
func (c *Config) validateDiscovery() error {
	if !c.Discovery.Enabled {
		return nil
	}
	if c.Discovery.URL == "" {
		return fmt.Errorf("INGESTION_SERVICE_URL is required when DISCOVERY_ENABLED=true")
	}
	if err := validateHTTPURL(c.Discovery.URL, "INGESTION_SERVICE_URL"); err != nil {
		return fmt.Errorf("INGESTION_SERVICE_URL is invalid: %w", err)
	}
	return nil
}

func (c *Config) validateIngest() error {
	if c.Ingest.LookbackDays < 1 || c.Ingest.LookbackDays > 3650 {
		return fmt.Errorf("INGEST_LOOKBACK_DAYS must be between 1 and 3650")
	}
	if c.Ingest.BatchSize < 1 || c.Ingest.BatchSize > 10000 {
		return fmt.Errorf("INGEST_BATCH_SIZE must be between 1 and 10000")
	}
	if c.Ingest.RetryAttempts < 0 || c.Ingest.RetryAttempts > 10 {
		return fmt.Errorf("INGEST_RETRY_ATTEMPTS must be between 0 and 10")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.DefaultPageSize < 1 {
		return fmt.Errorf("API_DEFAULT_PAGE_SIZE must be positive")
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("API_MAX_PAGE_SIZE must be >= API_DEFAULT_PAGE_SIZE")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if err := c.validateAuthMode(); err != nil {
		return err
	}
	if err := c.validateCORS(); err != nil {
		return err
	}
	if err := c.validateRateLimits(); err != nil {
		return err
	}
	if err := c.validateSessionStore(); err != nil {
		return err
	}
	return c.validateAuthModeConfig()
}

func (c *Config) validateAuthMode() error {
	if !validAuthModes[c.Security.AuthMode] {
		return fmt.Errorf("AUTH_MODE must be one of: none, jwt, basic")
	}
	// Refuse to start unauthenticated in production; this has to be an
	// explicit development decision, never a deployment accident.
	if c.Security.AuthMode == "none" && c.IsProduction() {
		return fmt.Errorf("AUTH_MODE=none is not allowed when ENVIRONMENT=production. " +
			"Either set AUTH_MODE to jwt or basic, " +
			"or use ENVIRONMENT=development for testing purposes")
	}
	return nil
}

// validateAuthModeConfig validates configuration for the selected auth mode.
func (c *Config) validateAuthModeConfig() error {
	switch c.Security.AuthMode {
	case "jwt":
		if err := c.validateJWTSecret(); err != nil {
			return err
		}
		return c.validateAdminCredentials("jwt")
	case "basic":
		return c.validateAdminCredentials("basic")
	default:
		return nil // "none" has no additional validation
	}
}

func (c *Config) validateJWTSecret() error {
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_MODE is jwt")
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters for security")
	}
	if containsPlaceholder(c.Security.JWTSecret) {
		return fmt.Errorf("JWT_SECRET contains a placeholder value - generate a secure secret with: openssl rand -base64 32")
	}
	return nil
}

func (c *Config) validateAdminCredentials(authMode string) error {
	if c.Security.AdminUsername == "" {
		return fmt.Errorf("ADMIN_USERNAME is required when AUTH_MODE is %s", authMode)
	}
	if c.Security.AdminPassword == "" {
		return fmt.Errorf("ADMIN_PASSWORD is required when AUTH_MODE is %s", authMode)
	}
	if len(c.Security.AdminPassword) < 8 {
		return fmt.Errorf("ADMIN_PASSWORD must be at least 8 characters")
	}
	if containsPlaceholder(c.Security.AdminPassword) {
		return fmt.Errorf("ADMIN_PASSWORD contains a placeholder value - set a secure password")
	}
	return nil
}

// validateCORS rejects wildcard CORS in production with authentication.
// Wildcard CORS + authentication lets any origin replay stolen credentials.
func (c *Config) validateCORS() error {
	if c.Security.AuthMode != "none" && c.hasWildcardCORS() && c.IsProduction() {
		return fmt.Errorf("CORS_ORIGINS=* (wildcard) is not allowed in production with authentication enabled. " +
			"Set specific origins: CORS_ORIGINS=https://yourdomain.com " +
			"or use ENVIRONMENT=development for testing purposes")
	}
	return nil
}

func (c *Config) validateRateLimits() error {
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive")
	}
	if c.Security.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func (c *Config) validateSessionStore() error {
	if !validSessionStores[c.Security.SessionStore] {
		return fmt.Errorf("SESSION_STORE must be one of: memory, badger")
	}
	if c.Security.SessionStore == "badger" && c.Security.SessionStorePath == "" {
		return fmt.Errorf("SESSION_STORE_PATH is required when SESSION_STORE=badger")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

// validateHTTPURL checks that a URL is a plain http(s) base URL.
func validateHTTPURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}
	if parsedURL.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters, remove: ?%s", fieldName, parsedURL.RawQuery)
	}
	return nil
}

// placeholderPatterns are values that indicate the operator forgot to set a
// real secret.
var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"YOUR_PASSWORD",
	"PLACEHOLDER",
	"EXAMPLE",
}

func containsPlaceholder(value string) bool {
	upperValue := strings.ToUpper(value)
	for _, pattern := range placeholderPatterns {
		if strings.Contains(upperValue, pattern) {
			return true
		}
	}
	return false
}
