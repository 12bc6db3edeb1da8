// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jthom32/racepulse/internal/auth"
	"github.com/jthom32/racepulse/internal/authz"
	"github.com/jthom32/racepulse/internal/middleware"
	"github.com/jthom32/racepulse/internal/models"
)

// Router wires handlers, authentication, authorization, and the Chi
// middleware stack into an http.Handler.
type Router struct {
	handler *Handler
	authMW  *auth.Middleware
	authzMW *authz.Middleware
	chiMW   *ChiMiddleware
}

// NewRouter creates a router. authzMW may be nil, in which case role
// checks fall back to the auth middleware's RequireRole.
func NewRouter(handler *Handler, authMW *auth.Middleware, authzMW *authz.Middleware, chiMW *ChiMiddleware) *Router {
	if chiMW == nil {
		chiMW = NewChiMiddleware(nil)
	}
	return &Router{
		handler: handler,
		authMW:  authMW,
		authzMW: authzMW,
		chiMW:   chiMW,
	}
}

// chiMiddleware adapts a http.HandlerFunc-style middleware to the
// func(http.Handler) http.Handler shape Chi expects.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// chiPathValue copies Chi's URL parameters into the request's path
// values so handlers can stay on r.PathValue and remain router
// agnostic.
func chiPathValue(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			for i, key := range rctx.URLParams.Keys {
				if key != "*" {
					r.SetPathValue(key, rctx.URLParams.Values[i])
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// authenticated returns the middleware chain shared by every protected
// route group: the JWT check, then the Casbin role enforcer when
// configured.
func (rt *Router) authenticated(r chi.Router) {
	r.Use(chiMiddleware(rt.authMW.Authenticate))
	if rt.authzMW != nil {
		r.Use(chiMiddleware(rt.authzMW.AuthorizeRequest))
	}
}

// requireAdmin guards admin-only groups. The Casbin enforcer already
// denies by object and action; this keeps a hard role gate in front of
// it so a policy mistake cannot open the admin surface.
func (rt *Router) requireAdmin() func(http.Handler) http.Handler {
	return chiMiddleware(func(next http.HandlerFunc) http.HandlerFunc {
		return rt.authMW.RequireRole(models.RoleAdmin, next)
	})
}

// SetupChi builds the full route tree.
func (rt *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	// Client IP resolution honors proxy headers only from configured
	// trusted proxies; chi's RealIP would trust X-Forwarded-For from
	// any peer.
	if rt.authMW != nil {
		r.Use(chiMiddleware(rt.authMW.ResolveClientIP))
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(rt.chiMW.CORS())

	// Health and metrics stay outside authentication so orchestrators
	// and scrapers can reach them.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(rt.chiMW.RateLimitCustom(RateLimitHealth))
		r.Use(APISecurityHeaders())
		r.Get("/", rt.handler.Health)
		r.Get("/live", rt.handler.HealthLive)
		r.Get("/ready", rt.handler.HealthReady)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(rt.chiMW.RateLimitCustom(RateLimitAuth))
		r.Use(APISecurityHeaders())
		r.With(rt.chiMW.RateLimitCustom(RateLimitLogin)).
			Post("/login", rt.handler.Login)
		r.Post("/refresh", rt.handler.Refresh)
		r.Post("/logout", rt.handler.Logout)
	})

	// Read surface: tracks, events, races, drivers, stats, live timing.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.chiMW.RateLimitAPIGroup())
		r.Use(APISecurityHeaders())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Use(chiMiddleware(middleware.Compression))
		rt.authenticated(r)
		r.Use(chiPathValue)

		r.Get("/tracks", rt.handler.Tracks)
		r.Get("/tracks/{id}", rt.handler.Track)

		r.Get("/events", rt.handler.Events)
		r.Get("/events/{id}", rt.handler.Event)
		r.Get("/events/{id}/weather", rt.handler.EventWeather)

		r.Get("/races/{id}", rt.handler.Race)
		r.Get("/races/{id}/laps", rt.handler.RaceLaps)

		r.Get("/drivers", rt.handler.Drivers)
		r.Get("/drivers/{id}", rt.handler.Driver)
		r.Get("/drivers/{id}/results", rt.handler.DriverResults)

		r.Get("/stats", rt.handler.Stats)

		r.With(rt.chiMW.RateLimitCustom(RateLimitWebSocket)).
			Get("/ws", rt.handler.WebSocket)
	})

	// Analytics: cached, read-heavy, so the limiter is permissive.
	r.Route("/api/v1/analytics", func(r chi.Router) {
		r.Use(rt.chiMW.RateLimitCustom(RateLimitAnalytics))
		r.Use(APISecurityHeaders())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Use(chiMiddleware(middleware.Compression))
		rt.authenticated(r)
		r.Use(chiPathValue)

		r.Get("/drivers/{id}/consistency", rt.handler.DriverConsistency)
		r.Get("/races/{id}/pace", rt.handler.RacePace)
		r.Get("/races/{id}/progression", rt.handler.RaceProgression)
		r.Get("/events/{id}/weather-impact", rt.handler.WeatherImpact)
	})

	// Admin surface: track CRUD, ingest control, audit, users.
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(rt.chiMW.RateLimitCustom(RateLimitWrite))
		r.Use(APISecurityHeaders())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		rt.authenticated(r)
		r.Use(rt.requireAdmin())
		r.Use(chiPathValue)

		r.Post("/tracks", rt.handler.CreateTrack)
		r.Put("/tracks/{id}", rt.handler.UpdateTrack)
		r.Delete("/tracks/{id}", rt.handler.DeleteTrack)

		r.Post("/ingest/trigger", rt.handler.TriggerIngest)
		r.Post("/ingest/discover", rt.handler.Discover)
		r.Get("/ingest/runs", rt.handler.IngestRuns)

		r.Get("/audit/events", rt.handler.AuditEvents)
		r.Get("/audit/stats", rt.handler.AuditStats)

		r.Get("/users", rt.handler.Users)
		r.Post("/users", rt.handler.CreateUser)
		r.Put("/users/{id}", rt.handler.UpdateUser)
		r.Delete("/users/{id}", rt.handler.DeleteUser)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}
