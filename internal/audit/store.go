// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store with a bounded in-memory ring. Suitable
// for development and tests; data is lost on restart.
type MemoryStore struct {
	events []Event
	mu     sync.RWMutex
	maxLen int
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore(maxLen int) *MemoryStore {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemoryStore{
		events: make([]Event, 0, maxLen),
		maxLen: maxLen,
	}
}

// Save persists an audit event.
func (s *MemoryStore) Save(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop the oldest 10% when full.
	if len(s.events) >= s.maxLen {
		removeCount := s.maxLen / 10
		if removeCount == 0 {
			removeCount = 1
		}
		s.events = s.events[removeCount:]
	}

	s.events = append(s.events, *event)
	return nil
}

// Get retrieves an event by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.events {
		if s.events[i].ID == id {
			event := s.events[i]
			return &event, nil
		}
	}
	return nil, fmt.Errorf("event not found: %s", id)
}

// Query retrieves events matching the filter, most recent first.
func (s *MemoryStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Event
	skipped := 0

	for i := len(s.events) - 1; i >= 0; i-- {
		event := s.events[i]
		if !matchesFilter(&event, &filter) {
			continue
		}
		if filter.Offset > 0 && skipped < filter.Offset {
			skipped++
			continue
		}
		results = append(results, event)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results, nil
}

// Count returns the number of events matching the filter.
func (s *MemoryStore) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for i := range s.events {
		if matchesFilter(&s.events[i], &filter) {
			count++
		}
	}
	return count, nil
}

// Delete removes events older than the given time.
func (s *MemoryStore) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var removed int64
	for i := range s.events {
		if s.events[i].Timestamp.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, s.events[i])
	}
	s.events = kept
	return removed, nil
}

func matchesFilter(event *Event, filter *QueryFilter) bool {
	if len(filter.Types) > 0 && !containsType(filter.Types, event.Type) {
		return false
	}
	if len(filter.Severities) > 0 && !containsSeverity(filter.Severities, event.Severity) {
		return false
	}
	if len(filter.Outcomes) > 0 && !containsOutcome(filter.Outcomes, event.Outcome) {
		return false
	}
	if filter.ActorID != "" && event.Actor.ID != filter.ActorID {
		return false
	}
	if filter.TargetID != "" && (event.Target == nil || event.Target.ID != filter.TargetID) {
		return false
	}
	if filter.SourceIP != "" && event.Source.IPAddress != filter.SourceIP {
		return false
	}
	if filter.RequestID != "" && event.RequestID != filter.RequestID {
		return false
	}
	if filter.StartTime != nil && event.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && event.Timestamp.After(*filter.EndTime) {
		return false
	}
	if filter.SearchText != "" {
		needle := strings.ToLower(filter.SearchText)
		if !strings.Contains(strings.ToLower(event.Description), needle) &&
			!strings.Contains(strings.ToLower(event.Action), needle) {
			return false
		}
	}
	return true
}

func containsType(haystack []EventType, needle EventType) bool {
	for _, t := range haystack {
		if t == needle {
			return true
		}
	}
	return false
}

func containsSeverity(haystack []Severity, needle Severity) bool {
	for _, sv := range haystack {
		if sv == needle {
			return true
		}
	}
	return false
}

func containsOutcome(haystack []Outcome, needle Outcome) bool {
	for _, o := range haystack {
		if o == needle {
			return true
		}
	}
	return false
}
