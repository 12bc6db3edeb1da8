// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

// Package websocket pushes live timing updates to connected browsers:
// new laps as they are ingested, ingestion run completions, and event
// status changes.
package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jthom32/racepulse/internal/logging"
	"github.com/jthom32/racepulse/internal/metrics"
	"github.com/jthom32/racepulse/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for WebSocket communication.
const (
	MessageTypeLapRecorded     = "lap_recorded"
	MessageTypeIngestCompleted = "ingest_completed"
	MessageTypeEventStatus     = "event_status"
	MessageTypeStatsUpdate     = "stats_update"
	MessageTypePing            = "ping"
	MessageTypePong            = "pong"
)

// Message represents a WebSocket message.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages to
// them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub until the context is canceled, then
// closes all clients and returns ctx.Err(). Designed for suture
// supervision.
//
// Selection is priority-based so behavior stays predictable when
// multiple channels are ready: shutdown first, then client lifecycle,
// then broadcasts.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.registerClient(client)
			continue
		case client := <-h.Unregister:
			h.unregisterClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		metrics.WSConnections.Dec()
	}
	total := len(h.clients)
	h.mu.Unlock()

	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// broadcastToClients sends a message to all connected clients in client
// ID order. Clients with a full send buffer are dropped.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
			metrics.WSMessagesSent.Inc()
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.WSConnections.Dec()
		metrics.WSErrors.WithLabelValues("send_buffer_full").Inc()
	}
}

// closeAllClients closes all connected clients in ID order.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
		metrics.WSConnections.Dec()
	}
	logging.Info().Msg("closed all websocket clients during shutdown")
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) enqueue(message Message) {
	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("message_type", message.Type).Msg("broadcast channel full, dropping message")
	}
}

// LapRecordedData is sent with lap_recorded messages.
type LapRecordedData struct {
	RaceID    string `json:"race_id"`
	DriverID  string `json:"driver_id"`
	LapNumber int    `json:"lap_number"`
	LapTimeMS int64  `json:"lap_time_ms"`
	Position  int    `json:"position,omitempty"`
}

// BroadcastLapRecorded pushes a newly ingested lap to all clients.
func (h *Hub) BroadcastLapRecorded(lap *models.Lap) {
	h.enqueue(Message{
		Type: MessageTypeLapRecorded,
		Data: LapRecordedData{
			RaceID:    lap.RaceID,
			DriverID:  lap.DriverID,
			LapNumber: lap.LapNumber,
			LapTimeMS: lap.LapTimeMS,
			Position:  lap.Position,
		},
	})
}

// IngestCompletedData is sent with ingest_completed messages.
type IngestCompletedData struct {
	Timestamp      string `json:"timestamp"`
	RunID          string `json:"run_id"`
	Outcome        string `json:"outcome"`
	EventsUpserted int    `json:"events_upserted"`
	RacesUpserted  int    `json:"races_upserted"`
	LapsInserted   int    `json:"laps_inserted"`
	DurationMS     int64  `json:"duration_ms"`
}

// BroadcastIngestCompleted notifies all clients that an ingestion run
// finished.
func (h *Hub) BroadcastIngestCompleted(run *models.IngestRun, durationMS int64) {
	h.enqueue(Message{
		Type: MessageTypeIngestCompleted,
		Data: IngestCompletedData{
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
			RunID:          run.ID,
			Outcome:        run.Outcome,
			EventsUpserted: run.EventsUpserted,
			RacesUpserted:  run.RacesUpserted,
			LapsInserted:   run.LapsInserted,
			DurationMS:     durationMS,
		},
	})
}

// EventStatusData is sent with event_status messages.
type EventStatusData struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// BroadcastEventStatus notifies all clients of an event status change.
func (h *Hub) BroadcastEventStatus(eventID, status string) {
	h.enqueue(Message{
		Type: MessageTypeEventStatus,
		Data: EventStatusData{
			EventID: eventID,
			Status:  status,
		},
	})
}

// StatsUpdateData is sent with stats_update messages.
type StatsUpdateData struct {
	Timestamp  string `json:"timestamp"`
	TotalLaps  int64  `json:"total_laps"`
	TotalRaces int64  `json:"total_races"`
}

// BroadcastStatsUpdate notifies all clients that platform stats
// changed.
func (h *Hub) BroadcastStatsUpdate(totalLaps, totalRaces int64) {
	h.enqueue(Message{
		Type: MessageTypeStatsUpdate,
		Data: StatsUpdateData{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			TotalLaps:  totalLaps,
			TotalRaces: totalRaces,
		},
	})
}
