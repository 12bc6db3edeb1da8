// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jthom32/racepulse/internal/config"
	"github.com/jthom32/racepulse/internal/database"
	"github.com/jthom32/racepulse/internal/eventbus"
	"github.com/jthom32/racepulse/internal/logging"
	"github.com/jthom32/racepulse/internal/metrics"
	"github.com/jthom32/racepulse/internal/models"
)

// ErrIngestRunning is returned when a trigger arrives while a run is
// already in flight. The API layer maps it to HTTP 409.
var ErrIngestRunning = errors.New("an ingest run is already in progress")

// Store is the database surface the manager writes through.
// *database.DB satisfies it; tests substitute a fake.
type Store interface {
	ListTracks(ctx context.Context, filter database.TrackFilter) ([]models.Track, int, error)
	GetTrackByExternalRef(ctx context.Context, ref string) (*models.Track, error)
	UpsertEventByExternalRef(ctx context.Context, event *models.Event) (*models.Event, error)
	UpsertRaceByExternalRef(ctx context.Context, race *models.Race) (*models.Race, error)
	UpsertDriverByExternalRef(ctx context.Context, driver *models.Driver) (*models.Driver, error)
	UpsertRaceEntry(ctx context.Context, entry *models.RaceDriver) error
	GetEventByExternalRef(ctx context.Context, ref string) (*models.Event, error)
	InsertLaps(ctx context.Context, laps []models.Lap) (int, error)
	InsertWeatherSamples(ctx context.Context, samples []models.WeatherSample) (int, error)
	CreateIngestRun(ctx context.Context, run *models.IngestRun) error
	FinishIngestRun(ctx context.Context, run *models.IngestRun) error
	LastIngestRun(ctx context.Context) (*models.IngestRun, error)
}

// triggerRequest carries a manual trigger into the run loop.
type triggerRequest struct {
	scope string
}

// Manager owns the ingest lifecycle: the scheduled loop, manual
// triggers (single-flight), per-run bookkeeping in ingest_runs, and
// event publication for downstream consumers.
type Manager struct {
	cfg       *config.IngestConfig
	store     Store
	client    TimingClientInterface
	discovery *DiscoveryClient
	bus       *eventbus.Bus

	mu          sync.Mutex
	isIngesting bool
	current     *models.IngestRun
	lastErr     error
	statusCache map[string]string // event external_ref -> last seen status

	loopRunning atomic.Bool

	triggerCh   chan triggerRequest
	onCompleted func(run *models.IngestRun)
}

// NewManager creates an ingest manager. client may be nil when LiveRC
// ingestion is disabled; scheduled runs then no-op and manual triggers
// fail.
func NewManager(cfg *config.IngestConfig, store Store, client TimingClientInterface, discovery *DiscoveryClient, bus *eventbus.Bus) *Manager {
	return &Manager{
		cfg:         cfg,
		store:       store,
		client:      client,
		discovery:   discovery,
		bus:         bus,
		statusCache: make(map[string]string),
		triggerCh:   make(chan triggerRequest, 1),
	}
}

// SetOnIngestCompleted registers a callback invoked after every run,
// successful or not. The API layer uses it to invalidate caches.
func (m *Manager) SetOnIngestCompleted(callback func(run *models.IngestRun)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCompleted = callback
}

// String identifies the manager in supervisor logs.
func (m *Manager) String() string {
	return "ingest-manager"
}

// Run is the supervised service loop: it runs a scheduled ingest every
// cfg.Interval and drains manual triggers in between. Blocks until ctx
// is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.loopRunning.Store(true)
	defer m.loopRunning.Store(false)

	logging.Info().
		Dur("interval", interval).
		Bool("liverc_enabled", m.client != nil).
		Msg("Ingest manager started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Ingest manager stopped")
			return ctx.Err()
		case <-ticker.C:
			if m.client == nil {
				continue
			}
			m.runIngest(ctx, "scheduled", "full")
		case req := <-m.triggerCh:
			m.runIngest(ctx, "manual", req.scope)
		}
	}
}

// TriggerManual queues a manual ingest run. scope is an event
// external_ref, or empty for a full run. Returns ErrIngestRunning if a
// run is in flight or already queued.
func (m *Manager) TriggerManual(scope string) error {
	if m.client == nil {
		return fmt.Errorf("liverc ingestion is disabled")
	}

	m.mu.Lock()
	running := m.isIngesting
	m.mu.Unlock()
	if running {
		return ErrIngestRunning
	}

	if scope == "" {
		scope = "full"
	}
	select {
	case m.triggerCh <- triggerRequest{scope: scope}:
		return nil
	default:
		return ErrIngestRunning
	}
}

// Healthy reports whether the supervised service loop is running.
// Readiness probes use it: a supervisor that gave up restarting the
// manager makes the instance unready.
func (m *Manager) Healthy() bool {
	return m.loopRunning.Load()
}

// Progress returns the live run status plus the most recent finished run.
func (m *Manager) Progress(ctx context.Context) models.IngestProgress {
	m.mu.Lock()
	progress := models.IngestProgress{Running: m.isIngesting}
	if m.current != nil {
		progress.Trigger = m.current.Trigger
		progress.Scope = m.current.Scope
		startedAt := m.current.StartedAt
		progress.StartedAt = &startedAt
	}
	if m.lastErr != nil {
		progress.LastError = m.lastErr.Error()
	}
	m.mu.Unlock()

	if last, err := m.store.LastIngestRun(ctx); err == nil {
		progress.LastRun = last
	}
	return progress
}

// LastError returns the most recent run failure, nil after a clean run.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// runIngest executes one ingest run end to end. Single-flight: a second
// caller returns immediately while a run is in progress.
func (m *Manager) runIngest(ctx context.Context, trigger, scope string) {
	m.mu.Lock()
	if m.isIngesting {
		m.mu.Unlock()
		return
	}
	m.isIngesting = true
	run := &models.IngestRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Scope:     scope,
		StartedAt: time.Now().UTC(),
	}
	m.current = run
	m.mu.Unlock()

	metrics.IngestRunning.Set(1)
	defer metrics.IngestRunning.Set(0)

	logging.Info().
		Str("run_id", run.ID).
		Str("trigger", trigger).
		Str("scope", scope).
		Msg("Ingest run started")

	if err := m.store.CreateIngestRun(ctx, run); err != nil {
		logging.Error().Err(err).Str("run_id", run.ID).Msg("Failed to record ingest run")
	}

	var runErr error
	if scope == "" || scope == "full" {
		runErr = m.ingestAllTracks(ctx, run)
	} else {
		runErr = m.ingestEvent(ctx, run, nil, scope)
		// A scoped re-ingest of an event LiveRC has since archived
		// keeps the local copy; the run ends partial, not failed.
		if runErr != nil && errors.Is(runErr, ErrUpstreamNotFound) {
			runErr = &partialError{runErr}
		}
	}

	m.finishRun(ctx, run, runErr)
}

// ingestAllTracks walks every LiveRC-timed track and ingests its events
// within the lookback window. One event's failure aborts that event
// only.
func (m *Manager) ingestAllTracks(ctx context.Context, run *models.IngestRun) error {
	tracks, _, err := m.store.ListTracks(ctx, database.TrackFilter{Limit: 500})
	if err != nil {
		return fmt.Errorf("list tracks: %w", err)
	}

	lookback := m.cfg.LookbackDays
	if lookback <= 0 {
		lookback = 7
	}
	from := time.Now().UTC().AddDate(0, 0, -lookback)
	to := time.Now().UTC().AddDate(0, 0, 1)

	var eventErrs []string
	attempted := 0
	for i := range tracks {
		track := &tracks[i]
		if track.TimingProvider != models.SourceLiveRC || track.ExternalRef == "" {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		events, err := retryCall(ctx, m.cfg, "list events", func() ([]EventInfo, error) {
			return m.client.ListEvents(ctx, track.ExternalRef, from, to)
		})
		if err != nil {
			eventErrs = append(eventErrs, fmt.Sprintf("%s: %v", track.ExternalRef, err))
			continue
		}

		for _, info := range events {
			attempted++
			if err := m.ingestEvent(ctx, run, track, info.Ref); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				eventErrs = append(eventErrs, fmt.Sprintf("%s: %v", info.Ref, err))
				logging.Warn().
					Err(err).
					Str("run_id", run.ID).
					Str("event_ref", info.Ref).
					Msg("Event ingest failed, continuing with next event")
			}
		}
	}

	if len(eventErrs) == 0 {
		return nil
	}
	err = fmt.Errorf("%d of %d events failed: %s", len(eventErrs), attempted, strings.Join(eventErrs, "; "))
	if attempted > 0 && len(eventErrs) < attempted {
		return &partialError{err}
	}
	return err
}

// partialError marks a run where some events succeeded.
type partialError struct{ error }

func (e *partialError) Unwrap() error { return e.error }

// ingestEvent pulls one event document and persists everything in it:
// the event row, its weather samples, races, results, and laps. track
// may be nil for scoped re-ingestion of an already-known event.
func (m *Manager) ingestEvent(ctx context.Context, run *models.IngestRun, track *models.Track, eventRef string) error {
	if track == nil {
		// Scoped re-ingest: the event must already be known so the
		// upsert keeps its track.
		if _, err := m.store.GetEventByExternalRef(ctx, eventRef); err != nil {
			return fmt.Errorf("unknown event %s, run a full ingest first: %w", eventRef, err)
		}
	}

	detail, err := retryCall(ctx, m.cfg, "get event", func() (*EventDetail, error) {
		return m.client.GetEvent(ctx, eventRef)
	})
	if err != nil {
		return err
	}

	event := &models.Event{
		ID:          uuid.NewString(),
		Name:        detail.Name,
		StartsAt:    detail.StartsAt,
		EndsAt:      detail.EndsAt,
		Status:      normalizeEventStatus(detail.Status),
		Source:      models.SourceLiveRC,
		ExternalRef: detail.Ref,
	}
	if track != nil {
		event.TrackID = track.ID
	}

	stored, err := m.store.UpsertEventByExternalRef(ctx, event)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", eventRef, err)
	}
	run.EventsUpserted++
	m.publishStatusTransition(ctx, stored)

	if err := m.ingestWeather(ctx, run, stored); err != nil {
		return err
	}

	for i := range detail.Races {
		if err := m.ingestRace(ctx, run, stored, &detail.Races[i]); err != nil {
			return err
		}
	}
	return nil
}

// ingestWeather persists the event's trackside weather samples.
func (m *Manager) ingestWeather(ctx context.Context, run *models.IngestRun, event *models.Event) error {
	readings, err := retryCall(ctx, m.cfg, "get weather", func() ([]WeatherReading, error) {
		return m.client.GetEventWeather(ctx, event.ExternalRef)
	})
	if err != nil {
		return fmt.Errorf("fetch weather for %s: %w", event.ExternalRef, err)
	}
	if len(readings) == 0 {
		return nil
	}

	samples := make([]models.WeatherSample, 0, len(readings))
	for _, r := range readings {
		samples = append(samples, models.WeatherSample{
			ID:           uuid.NewString(),
			EventID:      event.ID,
			RecordedAt:   r.RecordedAt,
			TemperatureC: r.TemperatureC,
			HumidityPct:  r.HumidityPct,
			WindSpeedKPH: r.WindSpeedKPH,
			Condition:    r.Condition,
			Source:       models.SourceLiveRC,
		})
	}

	inserted, err := m.store.InsertWeatherSamples(ctx, samples)
	if err != nil {
		return fmt.Errorf("insert weather for %s: %w", event.ExternalRef, err)
	}
	run.WeatherInserted += inserted
	return nil
}

// ingestRace persists one race, its result sheet, and its lap chart.
func (m *Manager) ingestRace(ctx context.Context, run *models.IngestRun, event *models.Event, info *RaceInfo) error {
	race := &models.Race{
		ID:              uuid.NewString(),
		EventID:         event.ID,
		Name:            info.Name,
		ClassName:       info.ClassName,
		Round:           info.Round,
		Heat:            info.Heat,
		ScheduledAt:     info.ScheduledAt,
		DurationSeconds: info.DurationSeconds,
		Status:          info.Status,
		ExternalRef:     info.Ref,
	}
	stored, err := m.store.UpsertRaceByExternalRef(ctx, race)
	if err != nil {
		return fmt.Errorf("upsert race %s: %w", info.Ref, err)
	}
	run.RacesUpserted++

	entries, err := retryCall(ctx, m.cfg, "get results", func() ([]RaceEntry, error) {
		return m.client.GetRaceResults(ctx, info.Ref)
	})
	if err != nil {
		return fmt.Errorf("fetch results for %s: %w", info.Ref, err)
	}

	driverIDs := make(map[string]string, len(entries))
	for _, entry := range entries {
		driver, err := m.store.UpsertDriverByExternalRef(ctx, &models.Driver{
			ID:          uuid.NewString(),
			DisplayName: entry.DriverName,
			Transponder: entry.Transponder,
			ExternalRef: entry.DriverRef,
		})
		if err != nil {
			return fmt.Errorf("upsert driver %s: %w", entry.DriverRef, err)
		}
		driverIDs[entry.DriverRef] = driver.ID

		if err := m.store.UpsertRaceEntry(ctx, &models.RaceDriver{
			RaceID:         stored.ID,
			DriverID:       driver.ID,
			CarNumber:      entry.CarNumber,
			GridPosition:   entry.GridPosition,
			FinishPosition: entry.FinishPosition,
			LapsCompleted:  entry.LapsCompleted,
			TotalTimeMS:    entry.TotalTimeMS,
			BestLapMS:      entry.BestLapMS,
			Status:         normalizeResultStatus(entry.Status),
		}); err != nil {
			return fmt.Errorf("upsert entry %s/%s: %w", info.Ref, entry.DriverRef, err)
		}
	}

	return m.ingestLaps(ctx, run, event, stored, driverIDs)
}

// ingestLaps pulls the lap chart and bulk-inserts it in batches. Lap
// inserts are idempotent on (race_id, driver_id, lap_number); re-runs
// insert nothing new.
func (m *Manager) ingestLaps(ctx context.Context, run *models.IngestRun, event *models.Event, race *models.Race, driverIDs map[string]string) error {
	wireLaps, err := retryCall(ctx, m.cfg, "get laps", func() ([]RaceLap, error) {
		return m.client.GetRaceLaps(ctx, race.ExternalRef)
	})
	if err != nil {
		return fmt.Errorf("fetch laps for %s: %w", race.ExternalRef, err)
	}
	if len(wireLaps) == 0 {
		return nil
	}

	laps := make([]models.Lap, 0, len(wireLaps))
	for _, wl := range wireLaps {
		driverID, ok := driverIDs[wl.DriverRef]
		if !ok {
			logging.Warn().
				Str("race_ref", race.ExternalRef).
				Str("driver_ref", wl.DriverRef).
				Msg("Lap references driver missing from result sheet, skipping")
			continue
		}
		laps = append(laps, models.Lap{
			ID:         uuid.NewString(),
			RaceID:     race.ID,
			DriverID:   driverID,
			LapNumber:  wl.LapNumber,
			LapTimeMS:  wl.LapTimeMS,
			Position:   wl.Position,
			RecordedAt: wl.RecordedAt,
		})
	}

	batchSize := m.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	totalInserted := 0
	for start := 0; start < len(laps); start += batchSize {
		end := start + batchSize
		if end > len(laps) {
			end = len(laps)
		}
		inserted, err := m.store.InsertLaps(ctx, laps[start:end])
		if err != nil {
			return fmt.Errorf("insert laps for %s: %w", race.ExternalRef, err)
		}
		totalInserted += inserted
	}
	run.LapsInserted += totalInserted

	if event.Status == models.EventLive && totalInserted > 0 {
		m.publishNewLaps(ctx, laps, totalInserted)
	}
	return nil
}

// publishNewLaps broadcasts freshly inserted laps of a live event. The
// bulk insert reports only a count, and new laps are the most recent
// ones, so the newest inserted laps are published.
func (m *Manager) publishNewLaps(ctx context.Context, laps []models.Lap, inserted int) {
	sort.Slice(laps, func(i, j int) bool {
		return laps[i].RecordedAt.Before(laps[j].RecordedAt)
	})
	if inserted > len(laps) {
		inserted = len(laps)
	}
	for i := len(laps) - inserted; i < len(laps); i++ {
		lap := laps[i]
		if err := m.bus.PublishLapRecorded(ctx, &lap); err != nil {
			logging.Warn().Err(err).Str("lap_id", lap.ID).Msg("Failed to publish lap")
			return
		}
	}
}

// publishStatusTransition publishes an event status change once per
// transition, tracked in an in-memory cache across runs.
func (m *Manager) publishStatusTransition(ctx context.Context, event *models.Event) {
	m.mu.Lock()
	previous, seen := m.statusCache[event.ExternalRef]
	m.statusCache[event.ExternalRef] = event.Status
	m.mu.Unlock()

	if seen && previous == event.Status {
		return
	}
	if err := m.bus.PublishEventStatus(ctx, event.ID, event.Status); err != nil {
		logging.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to publish event status")
	}
}

// finishRun records the run outcome and notifies downstream consumers.
func (m *Manager) finishRun(ctx context.Context, run *models.IngestRun, runErr error) {
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	duration := finished.Sub(run.StartedAt)

	var partial *partialError
	switch {
	case runErr == nil:
		run.Outcome = models.IngestOutcomeSuccess
	case errors.As(runErr, &partial):
		run.Outcome = models.IngestOutcomePartial
		run.Error = truncateError(runErr)
	default:
		run.Outcome = models.IngestOutcomeFailure
		run.Error = truncateError(runErr)
	}

	if err := m.store.FinishIngestRun(ctx, run); err != nil {
		logging.Error().Err(err).Str("run_id", run.ID).Msg("Failed to finalize ingest run")
	}

	metrics.RecordIngestRun(run.Trigger, duration, runErr)
	metrics.RecordIngestCounts(run.EventsUpserted, run.RacesUpserted, run.LapsInserted, run.WeatherInserted)

	if err := m.bus.PublishIngestCompleted(ctx, run, duration.Milliseconds()); err != nil {
		logging.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to publish ingest completion")
	}

	m.mu.Lock()
	m.isIngesting = false
	m.current = nil
	m.lastErr = runErr
	callback := m.onCompleted
	m.mu.Unlock()

	if callback != nil {
		callback(run)
	}

	logging.Info().
		Str("run_id", run.ID).
		Str("outcome", run.Outcome).
		Int("events", run.EventsUpserted).
		Int("races", run.RacesUpserted).
		Int("laps", run.LapsInserted).
		Int("weather", run.WeatherInserted).
		Dur("duration", duration).
		Msg("Ingest run finished")
}

// DiscoverEvents calls the ingestion microservice for practice days at
// a track and upserts the results as scheduled events. trackRef must
// belong to a known track.
func (m *Manager) DiscoverEvents(ctx context.Context, trackRef string, from, to time.Time) ([]models.Event, error) {
	if m.discovery == nil || !m.discovery.Enabled() {
		return nil, ErrDiscoveryDisabled
	}

	track, err := m.store.GetTrackByExternalRef(ctx, trackRef)
	if err != nil {
		return nil, fmt.Errorf("lookup track %s: %w", trackRef, err)
	}

	days, err := m.discovery.DiscoverPracticeDays(ctx, trackRef, from, to)
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if track.Timezone != "" {
		if tz, err := time.LoadLocation(track.Timezone); err == nil {
			loc = tz
		}
	}

	events := make([]models.Event, 0, len(days))
	for _, day := range days {
		date, err := time.ParseInLocation("2006-01-02", day.Date, loc)
		if err != nil {
			logging.Warn().
				Str("external_ref", day.ExternalRef).
				Str("date", day.Date).
				Msg("Discovery returned unparseable date, skipping")
			continue
		}

		name := day.Name
		if name == "" {
			name = "Practice Day " + day.Date
		}
		stored, err := m.store.UpsertEventByExternalRef(ctx, &models.Event{
			ID:          uuid.NewString(),
			TrackID:     track.ID,
			Name:        name,
			StartsAt:    date,
			Status:      models.EventScheduled,
			Source:      models.SourceDiscovery,
			ExternalRef: day.ExternalRef,
		})
		if err != nil {
			return nil, fmt.Errorf("upsert discovered event %s: %w", day.ExternalRef, err)
		}
		events = append(events, *stored)
	}
	return events, nil
}

// retryCall runs fn up to cfg.RetryAttempts+1 times with exponential
// backoff starting at cfg.RetryDelay.
func retryCall[T any](ctx context.Context, cfg *config.IngestConfig, op string, fn func() (T, error)) (T, error) {
	var zero T

	attempts := cfg.RetryAttempts
	if attempts < 0 {
		attempts = 0
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Gone is gone; retries cannot bring an archived resource back.
		if errors.Is(err, ErrUpstreamNotFound) {
			break
		}
		if attempt == attempts {
			break
		}
		backoff := delay * time.Duration(1<<uint(attempt))
		logging.Debug().
			Err(err).
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Upstream call failed, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, attempts+1, lastErr)
}

// normalizeEventStatus maps wire status values onto the event
// lifecycle states, defaulting unknowns to scheduled.
func normalizeEventStatus(status string) string {
	switch strings.ToLower(status) {
	case models.EventLive, "running", "active":
		return models.EventLive
	case models.EventCompleted, "finished", "complete":
		return models.EventCompleted
	case models.EventCancelled, "canceled":
		return models.EventCancelled
	default:
		return models.EventScheduled
	}
}

// normalizeResultStatus maps wire result states onto the entry result
// states, defaulting unknowns to finished.
func normalizeResultStatus(status string) string {
	switch strings.ToLower(status) {
	case models.ResultDNF, "did_not_finish":
		return models.ResultDNF
	case models.ResultDNS, "did_not_start":
		return models.ResultDNS
	case models.ResultDQ, "disqualified":
		return models.ResultDQ
	default:
		return models.ResultFinished
	}
}

// truncateError bounds stored run error text.
func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > 2000 {
		msg = msg[:2000] + "..."
	}
	return msg
}
