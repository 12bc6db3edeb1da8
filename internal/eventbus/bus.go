// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

// Package eventbus provides the in-process publish/subscribe bus that
// decouples the ingest pipeline from its consumers. The ingest manager
// publishes domain events; the WebSocket forwarder and the audit
// recorder subscribe. Messages are JSON-encoded and delivered through
// Watermill's gochannel Pub/Sub, so the bus carries no external broker
// dependency and drops nothing under normal operation.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/jthom32/racepulse/internal/metrics"
	"github.com/jthom32/racepulse/internal/models"
)

// Topic names. Subscribers match on exact topic, no wildcards.
const (
	TopicIngestCompleted = "ingest.completed"
	TopicLapRecorded     = "lap.recorded"
	TopicEventStatus     = "event.status"
)

// IngestCompleted is published once per finished ingest run, whether it
// succeeded or not. Run.Outcome distinguishes the cases.
type IngestCompleted struct {
	Run        models.IngestRun `json:"run"`
	DurationMS int64            `json:"duration_ms"`
}

// LapRecorded is published for each lap inserted during an ingest run.
type LapRecorded struct {
	Lap models.Lap `json:"lap"`
}

// EventStatus is published when a race event transitions between
// scheduled, live and finished.
type EventStatus struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// Config controls bus construction.
type Config struct {
	// BufferSize is the per-subscriber output channel depth. A full
	// buffer blocks the publisher, so size this for burst headroom.
	BufferSize int64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{BufferSize: 256}
}

// Bus is a thin wrapper around the gochannel Pub/Sub that owns message
// serialization and publish metrics. Safe for concurrent use.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// NewBus creates a bus backed by an in-process gochannel Pub/Sub.
func NewBus(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	logger := newWatermillLogger()
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
	}, logger)

	return &Bus{
		pubsub: pubsub,
		logger: logger,
	}
}

// Publish serializes payload to JSON and publishes it on topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	b.mu.RUnlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)

	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	metrics.BusMessagesPublished.WithLabelValues(topic).Inc()
	return nil
}

// PublishIngestCompleted publishes the terminal event of an ingest run.
func (b *Bus) PublishIngestCompleted(ctx context.Context, run *models.IngestRun, durationMS int64) error {
	return b.Publish(ctx, TopicIngestCompleted, IngestCompleted{
		Run:        *run,
		DurationMS: durationMS,
	})
}

// PublishLapRecorded publishes a freshly ingested lap.
func (b *Bus) PublishLapRecorded(ctx context.Context, lap *models.Lap) error {
	return b.Publish(ctx, TopicLapRecorded, LapRecorded{Lap: *lap})
}

// PublishEventStatus publishes a race event status transition.
func (b *Bus) PublishEventStatus(ctx context.Context, eventID, status string) error {
	return b.Publish(ctx, TopicEventStatus, EventStatus{
		EventID: eventID,
		Status:  status,
	})
}

// Subscribe returns a channel of messages for the given topic. The
// channel closes when ctx is cancelled or the bus shuts down.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}
	return b.pubsub.Subscribe(ctx, topic)
}

// Close shuts the bus down. Pending messages on subscriber channels are
// still delivered; further publishes fail.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.pubsub.Close()
}
