// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package eventbus

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/jthom32/racepulse/internal/logging"
	"github.com/jthom32/racepulse/internal/models"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

func newTestBus(t *testing.T) *Bus {
	t.Helper()

	bus := NewBus(DefaultConfig())
	t.Cleanup(func() {
		_ = bus.Close()
	})
	return bus
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, TopicEventStatus)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := bus.PublishEventStatus(ctx, "event-1", "live"); err != nil {
		t.Fatalf("PublishEventStatus() error = %v", err)
	}

	select {
	case msg := <-msgs:
		var payload EventStatus
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if payload.EventID != "event-1" || payload.Status != "live" {
			t.Errorf("payload = %+v, want event-1/live", payload)
		}
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublishLapRecorded(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, TopicLapRecorded)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	lap := &models.Lap{
		ID:        "lap-42",
		RaceID:    "race-7",
		DriverID:  "driver-3",
		LapNumber: 12,
		LapTimeMS: 31450,
	}
	if err := bus.PublishLapRecorded(ctx, lap); err != nil {
		t.Fatalf("PublishLapRecorded() error = %v", err)
	}

	select {
	case msg := <-msgs:
		var payload LapRecorded
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if payload.Lap.ID != "lap-42" || payload.Lap.LapTimeMS != 31450 {
			t.Errorf("lap = %+v, want lap-42 with 31450ms", payload.Lap)
		}
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := bus.Subscribe(ctx, TopicEventStatus)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	second, err := bus.Subscribe(ctx, TopicEventStatus)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := bus.PublishEventStatus(ctx, "event-2", "finished"); err != nil {
		t.Fatalf("PublishEventStatus() error = %v", err)
	}

	select {
	case msg := <-first:
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("first subscriber timed out")
	}
	select {
	case msg := <-second:
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("second subscriber timed out")
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	bus := NewBus(Config{BufferSize: 16})
	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	err := bus.PublishEventStatus(context.Background(), "event-3", "live")
	if err == nil {
		t.Error("Publish() after Close() should fail")
	}

	if _, err := bus.Subscribe(context.Background(), TopicEventStatus); err == nil {
		t.Error("Subscribe() after Close() should fail")
	}

	// Double close is a no-op.
	if err := bus.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestPublishUnmarshalablePayloadFails(t *testing.T) {
	bus := newTestBus(t)

	err := bus.Publish(context.Background(), TopicEventStatus, make(chan int))
	if err == nil {
		t.Error("Publish() with unmarshalable payload should fail")
	}
}
