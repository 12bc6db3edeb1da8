// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/jthom32/racepulse/internal/logging"
	"github.com/jthom32/racepulse/internal/metrics"
)

// ChiMiddlewareConfig holds configuration for the router middleware
// stack built on the Chi ecosystem.
type ChiMiddlewareConfig struct {
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSExposedHeaders   []string
	CORSAllowCredentials bool
	CORSMaxAge           int // seconds

	RateLimitDisabled bool

	// APIRateLimitRequests/Window override the general API group limit
	// (RATE_LIMIT_REQUESTS / RATE_LIMIT_WINDOW). Zero values keep the
	// built-in default.
	APIRateLimitRequests int
	APIRateLimitWindow   time.Duration
}

// DefaultChiMiddlewareConfig returns a secure default configuration.
// CORS origins default to empty so a deployment must opt in explicitly
// rather than shipping a wildcard by accident.
func DefaultChiMiddlewareConfig() *ChiMiddlewareConfig {
	return &ChiMiddlewareConfig{
		CORSAllowedOrigins:   []string{},
		CORSAllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSAllowedHeaders:   []string{"Content-Type", "Authorization"},
		CORSExposedHeaders:   []string{"ETag"},
		CORSAllowCredentials: true,
		CORSMaxAge:           86400,
	}
}

// ChiMiddleware provides Chi-compatible middleware factories backed by
// go-chi/cors and go-chi/httprate.
type ChiMiddleware struct {
	config *ChiMiddlewareConfig
	cors   func(http.Handler) http.Handler
}

// NewChiMiddleware builds the middleware factory.
func NewChiMiddleware(config *ChiMiddlewareConfig) *ChiMiddleware {
	if config == nil {
		config = DefaultChiMiddlewareConfig()
	}

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   config.CORSAllowedOrigins,
		AllowedMethods:   config.CORSAllowedMethods,
		AllowedHeaders:   config.CORSAllowedHeaders,
		ExposedHeaders:   config.CORSExposedHeaders,
		AllowCredentials: config.CORSAllowCredentials,
		MaxAge:           config.CORSMaxAge,
	})

	return &ChiMiddleware{
		config: config,
		cors:   corsHandler,
	}
}

// CORS returns the go-chi/cors handler for the configured origins.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimitConfig defines rate limit parameters for an endpoint group.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Endpoint-group rate limits. Auth endpoints are locked down hard,
// analytics reads are permissive because the dashboard fans out many
// chart queries per page load.
var (
	RateLimitAuth      = RateLimitConfig{Requests: 5, Window: time.Minute}
	RateLimitLogin     = RateLimitConfig{Requests: 5, Window: 5 * time.Minute}
	RateLimitWrite     = RateLimitConfig{Requests: 30, Window: time.Minute}
	RateLimitAnalytics = RateLimitConfig{Requests: 1000, Window: time.Minute}
	RateLimitWebSocket = RateLimitConfig{Requests: 30, Window: time.Minute}
	RateLimitAPI       = RateLimitConfig{Requests: 100, Window: time.Minute}
	RateLimitHealth    = RateLimitConfig{Requests: 1000, Window: time.Minute}
)

// RateLimitCustom returns an IP-keyed limiter for the given group, or
// a no-op when rate limiting is disabled (tests, trusted networks).
// Rejections are counted per matched route and answered with the
// standard error envelope.
func (m *ChiMiddleware) RateLimitCustom(config RateLimitConfig) func(http.Handler) http.Handler {
	if m.config.RateLimitDisabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			endpoint := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				endpoint = rctx.RoutePattern()
			}
			metrics.APIRateLimitHits.WithLabelValues(endpoint).Inc()
			respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
		}),
	)
}

// RateLimitAPIGroup returns the limiter for the general read surface,
// honoring the configured override.
func (m *ChiMiddleware) RateLimitAPIGroup() func(http.Handler) http.Handler {
	config := RateLimitAPI
	if m.config.APIRateLimitRequests > 0 && m.config.APIRateLimitWindow > 0 {
		config = RateLimitConfig{
			Requests: m.config.APIRateLimitRequests,
			Window:   m.config.APIRateLimitWindow,
		}
	}
	return m.RateLimitCustom(config)
}

// APISecurityHeaders adds baseline security headers to API responses.
// Content-Security-Policy is omitted since these endpoints serve JSON,
// not HTML. HSTS is set only when the request arrived over TLS or a
// TLS-terminating proxy.
func APISecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDWithLogging wraps chi's RequestID middleware and seeds the
// logging context with the request and correlation IDs so every log
// line emitted by downstream handlers carries them.
func RequestIDWithLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		chiRequestID := chimiddleware.RequestID(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = logging.GenerateRequestID()
				r.Header.Set("X-Request-ID", requestID)
			}
			w.Header().Set("X-Request-ID", requestID)

			ctx := logging.ContextWithRequestID(r.Context(), requestID)
			ctx = logging.ContextWithNewCorrelationID(ctx)

			chiRequestID.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
