// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/jthom32/racepulse/internal/config"
	"github.com/jthom32/racepulse/internal/logging"
	"github.com/jthom32/racepulse/internal/metrics"
)

// CircuitBreakerClient wraps a timing client with a rate limiter and a
// circuit breaker. The limiter runs ahead of the breaker so throttled
// waits never count as breaker failures.
//
// The breaker uses real time for its interval and timeout calculations.
// Tests exercise the wrapped client directly or drive the breaker with
// a failing inner client.
type CircuitBreakerClient struct {
	client  TimingClientInterface
	cb      *gobreaker.CircuitBreaker[interface{}]
	limiter *rate.Limiter
	name    string
}

// NewCircuitBreakerClient wraps client with resilience patterns.
// Breaker configuration:
//   - Max 3 concurrent requests in half-open state
//   - 1 minute measurement window in closed state
//   - 30 second timeout before attempting recovery
//   - Opens after 60% failure rate with minimum 10 requests
func NewCircuitBreakerClient(client TimingClientInterface, cfg *config.LiveRCConfig) *CircuitBreakerClient {
	cbName := "liverc-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().
				Str("from", fromStr).
				Str("to", toStr).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 4
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &CircuitBreakerClient{
		client:  client,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    cbName,
	}
}

// execute wraps a timing API call with the rate limiter and breaker.
func (cbc *CircuitBreakerClient) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := cbc.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	result, err := cbc.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	return result, nil
}

// castResult type-casts the breaker result with error checking.
func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// State returns the current breaker state for health reporting.
func (cbc *CircuitBreakerClient) State() string {
	return stateToString(cbc.cb.State())
}

// Ping verifies connectivity with breaker protection.
func (cbc *CircuitBreakerClient) Ping(ctx context.Context) error {
	_, err := cbc.execute(ctx, func() (interface{}, error) {
		return nil, cbc.client.Ping(ctx)
	})
	return err
}

// ListEvents lists track events with breaker protection.
func (cbc *CircuitBreakerClient) ListEvents(ctx context.Context, trackRef string, from, to time.Time) ([]EventInfo, error) {
	return castResult[[]EventInfo](cbc.execute(ctx, func() (interface{}, error) {
		return cbc.client.ListEvents(ctx, trackRef, from, to)
	}))
}

// GetEvent fetches an event document with breaker protection.
func (cbc *CircuitBreakerClient) GetEvent(ctx context.Context, eventRef string) (*EventDetail, error) {
	return castResult[*EventDetail](cbc.execute(ctx, func() (interface{}, error) {
		return cbc.client.GetEvent(ctx, eventRef)
	}))
}

// GetRaceResults fetches race results with breaker protection.
func (cbc *CircuitBreakerClient) GetRaceResults(ctx context.Context, raceRef string) ([]RaceEntry, error) {
	return castResult[[]RaceEntry](cbc.execute(ctx, func() (interface{}, error) {
		return cbc.client.GetRaceResults(ctx, raceRef)
	}))
}

// GetRaceLaps fetches the lap chart with breaker protection.
func (cbc *CircuitBreakerClient) GetRaceLaps(ctx context.Context, raceRef string) ([]RaceLap, error) {
	return castResult[[]RaceLap](cbc.execute(ctx, func() (interface{}, error) {
		return cbc.client.GetRaceLaps(ctx, raceRef)
	}))
}

// GetEventWeather fetches weather samples with breaker protection.
func (cbc *CircuitBreakerClient) GetEventWeather(ctx context.Context, eventRef string) ([]WeatherReading, error) {
	return castResult[[]WeatherReading](cbc.execute(ctx, func() (interface{}, error) {
		return cbc.client.GetEventWeather(ctx, eventRef)
	}))
}
