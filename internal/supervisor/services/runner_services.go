// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package services

import (
	"context"
)

// ContextRunner matches components whose run loop already follows the
// suture pattern: block until the context is canceled, then return.
//
// Satisfied by *websocket.Hub (RunWithContext), *ingest.Manager (Run),
// and *eventbus.Forwarder (Run).
type ContextRunner interface {
	Run(ctx context.Context) error
}

// RunnerService wraps any ContextRunner as a named supervised service.
type RunnerService struct {
	runner ContextRunner
	name   string
}

// NewRunnerService creates the wrapper. The name shows up in suture's
// restart and backoff log lines.
func NewRunnerService(name string, runner ContextRunner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

// String implements fmt.Stringer for suture's log messages.
func (s *RunnerService) String() string {
	return s.name
}

// ContextHub matches *websocket.Hub's RunWithContext method without
// importing the websocket package.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// WebSocketHubService wraps the live-timing hub as a supervised
// service. The hub's RunWithContext already implements the suture
// pattern; this only supplies the name.
type WebSocketHubService struct {
	hub  ContextHub
	name string
}

// NewWebSocketHubService creates the wrapper.
func NewWebSocketHubService(hub ContextHub) *WebSocketHubService {
	return &WebSocketHubService{hub: hub, name: "websocket-hub"}
}

// Serve implements suture.Service.
func (w *WebSocketHubService) Serve(ctx context.Context) error {
	return w.hub.RunWithContext(ctx)
}

// String implements fmt.Stringer for suture's log messages.
func (w *WebSocketHubService) String() string {
	return w.name
}
