// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package eventbus

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/jthom32/racepulse/internal/logging"
)

// watermillLogger adapts the global zerolog logger to Watermill's
// LoggerAdapter interface. Watermill's own chatter (subscriber setup,
// shutdown) lands at debug so it stays out of production logs.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.emit(logging.Error().Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.emit(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.emit(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.emit(logging.Trace(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}

func (l *watermillLogger) emit(event *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	event = event.Str("component", "eventbus")
	for k, v := range l.fields {
		event = event.Interface(k, v)
	}
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	return event
}
