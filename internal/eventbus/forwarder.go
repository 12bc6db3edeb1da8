// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/jthom32/racepulse/internal/logging"
	"github.com/jthom32/racepulse/internal/metrics"
	"github.com/jthom32/racepulse/internal/models"
)

// Broadcaster is the WebSocket hub surface the forwarder needs.
type Broadcaster interface {
	BroadcastLapRecorded(lap *models.Lap)
	BroadcastIngestCompleted(run *models.IngestRun, durationMS int64)
	BroadcastEventStatus(eventID, status string)
}

// IngestAuditor records finished ingest runs in the audit trail.
type IngestAuditor interface {
	LogIngestCompleted(ctx context.Context, runID string, success bool, counts map[string]int, errMsg string)
}

// Forwarder consumes bus topics and fans each message out to the
// WebSocket hub and, for ingest completions, the audit log. It is run
// as a supervised service; Run blocks until the context is cancelled.
type Forwarder struct {
	bus         *Bus
	broadcaster Broadcaster
	auditor     IngestAuditor
}

// NewForwarder creates a forwarder. auditor may be nil when auditing
// is disabled.
func NewForwarder(bus *Bus, broadcaster Broadcaster, auditor IngestAuditor) *Forwarder {
	return &Forwarder{
		bus:         bus,
		broadcaster: broadcaster,
		auditor:     auditor,
	}
}

// String identifies the forwarder in supervisor logs.
func (f *Forwarder) String() string {
	return "eventbus-forwarder"
}

// Run subscribes to all topics and processes messages until ctx is
// cancelled. Messages that fail to decode are acked and counted as
// dropped; redelivering a malformed payload cannot succeed.
func (f *Forwarder) Run(ctx context.Context) error {
	handlers := map[string]func(*message.Message) error{
		TopicIngestCompleted: f.handleIngestCompleted,
		TopicLapRecorded:     f.handleLapRecorded,
		TopicEventStatus:     f.handleEventStatus,
	}

	var wg sync.WaitGroup
	for topic, handler := range handlers {
		msgs, err := f.bus.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}

		wg.Add(1)
		go func(topic string, msgs <-chan *message.Message, handler func(*message.Message) error) {
			defer wg.Done()
			f.consume(topic, msgs, handler)
		}(topic, msgs, handler)
	}

	logging.Info().
		Str("component", "eventbus").
		Int("topics", len(handlers)).
		Msg("Event forwarder started")

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// consume drains a subscription channel until the bus closes it.
func (f *Forwarder) consume(topic string, msgs <-chan *message.Message, handler func(*message.Message) error) {
	for msg := range msgs {
		if err := handler(msg); err != nil {
			metrics.BusMessagesDropped.WithLabelValues(topic).Inc()
			logging.Error().
				Err(err).
				Str("component", "eventbus").
				Str("topic", topic).
				Str("message_id", msg.UUID).
				Msg("Dropping undecodable bus message")
		}
		msg.Ack()
	}
}

func (f *Forwarder) handleIngestCompleted(msg *message.Message) error {
	var payload IngestCompleted
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode ingest.completed: %w", err)
	}

	f.broadcaster.BroadcastIngestCompleted(&payload.Run, payload.DurationMS)

	if f.auditor != nil {
		run := payload.Run
		f.auditor.LogIngestCompleted(msg.Context(), run.ID,
			run.Outcome != models.IngestOutcomeFailure,
			map[string]int{
				"events_upserted":  run.EventsUpserted,
				"races_upserted":   run.RacesUpserted,
				"laps_inserted":    run.LapsInserted,
				"weather_inserted": run.WeatherInserted,
			},
			run.Error)
	}
	return nil
}

func (f *Forwarder) handleLapRecorded(msg *message.Message) error {
	var payload LapRecorded
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode lap.recorded: %w", err)
	}

	f.broadcaster.BroadcastLapRecorded(&payload.Lap)
	return nil
}

func (f *Forwarder) handleEventStatus(msg *message.Message) error {
	var payload EventStatus
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode event.status: %w", err)
	}

	f.broadcaster.BroadcastEventStatus(payload.EventID, payload.Status)
	return nil
}
