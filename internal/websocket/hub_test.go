// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package websocket

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jthom32/racepulse/internal/logging"
	"github.com/jthom32/racepulse/internal/metrics"
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

// setupHub starts a hub that is stopped automatically at test cleanup.
func setupHub(t *testing.T) *Hub {
	t.Helper()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("hub did not stop after cancel")
		}
	})
	time.Sleep(10 * time.Millisecond)
	return hub
}

func createTestClient(hub *Hub) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		send: make(chan Message, 256),
	}
}

func registerClient(hub *Hub, client *Client) {
	hub.Register <- client
	time.Sleep(20 * time.Millisecond)
}

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.clients == nil || hub.broadcast == nil || hub.Register == nil || hub.Unregister == nil {
		t.Error("hub channels not initialized")
	}
	if len(hub.clients) != 0 {
		t.Error("clients map should start empty")
	}
}

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := setupHub(t)

	client := createTestClient(hub)
	registerClient(hub, client)

	if got := hub.GetClientCount(); got != 1 {
		t.Errorf("GetClientCount() = %d, want 1", got)
	}

	hub.Unregister <- client
	time.Sleep(20 * time.Millisecond)

	if got := hub.GetClientCount(); got != 0 {
		t.Errorf("GetClientCount() after unregister = %d, want 0", got)
	}

	// The send channel is closed on unregister.
	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected closed send channel")
		}
	default:
		t.Error("send channel not closed")
	}
}

func TestBroadcastLapRecorded(t *testing.T) {
	hub := setupHub(t)

	client := createTestClient(hub)
	registerClient(hub, client)

	hub.BroadcastLapRecorded(&models.Lap{
		RaceID:    "race-1",
		DriverID:  "driver-1",
		LapNumber: 4,
		LapTimeMS: 16480,
		Position:  2,
	})

	select {
	case msg := <-client.send:
		if msg.Type != MessageTypeLapRecorded {
			t.Errorf("Type = %s, want %s", msg.Type, MessageTypeLapRecorded)
		}
		data, ok := msg.Data.(LapRecordedData)
		if !ok {
			t.Fatalf("Data is %T, want LapRecordedData", msg.Data)
		}
		if data.RaceID != "race-1" || data.LapNumber != 4 || data.LapTimeMS != 16480 {
			t.Errorf("Data = %+v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestBroadcastIngestCompleted(t *testing.T) {
	hub := setupHub(t)

	client := createTestClient(hub)
	registerClient(hub, client)

	hub.BroadcastIngestCompleted(&models.IngestRun{
		ID:             "run-1",
		Outcome:        "success",
		EventsUpserted: 2,
		RacesUpserted:  8,
		LapsInserted:   340,
	}, 1500)

	select {
	case msg := <-client.send:
		if msg.Type != MessageTypeIngestCompleted {
			t.Errorf("Type = %s, want %s", msg.Type, MessageTypeIngestCompleted)
		}
		data, ok := msg.Data.(IngestCompletedData)
		if !ok {
			t.Fatalf("Data is %T, want IngestCompletedData", msg.Data)
		}
		if data.RunID != "run-1" || data.LapsInserted != 340 || data.DurationMS != 1500 {
			t.Errorf("Data = %+v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestBroadcastToMultipleClients(t *testing.T) {
	hub := setupHub(t)

	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = createTestClient(hub)
		registerClient(hub, clients[i])
	}

	hub.BroadcastEventStatus("event-1", "live")

	for i, client := range clients {
		select {
		case msg := <-client.send:
			if msg.Type != MessageTypeEventStatus {
				t.Errorf("client %d: Type = %s", i, msg.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %d received no message", i)
		}
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := setupHub(t)

	errorsBefore := testutil.ToFloat64(metrics.WSErrors.WithLabelValues("send_buffer_full"))

	// A client whose send buffer is already full.
	slow := &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		send: make(chan Message),
	}
	registerClient(hub, slow)

	hub.BroadcastStatsUpdate(100, 10)
	time.Sleep(50 * time.Millisecond)

	if got := hub.GetClientCount(); got != 0 {
		t.Errorf("slow client not dropped, count = %d", got)
	}

	errorsAfter := testutil.ToFloat64(metrics.WSErrors.WithLabelValues("send_buffer_full"))
	if errorsAfter != errorsBefore+1 {
		t.Errorf("send_buffer_full errors = %v, want %v", errorsAfter, errorsBefore+1)
	}
}

func TestRunWithContextReturnsOnCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- hub.RunWithContext(ctx)
	}()

	client := createTestClient(hub)
	registerClient(hub, client)

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunWithContext did not return after cancel")
	}

	if got := hub.GetClientCount(); got != 0 {
		t.Errorf("clients not closed on shutdown, count = %d", got)
	}
}
