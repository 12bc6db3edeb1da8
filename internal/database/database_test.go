// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jthom32/racepulse/internal/config"
	"github.com/jthom32/racepulse/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "test.duckdb"),
		MaxMemory: "512MB",
		Threads:   2,
	}
	db, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func seedTrack(t *testing.T, db *DB) *models.Track {
	t.Helper()
	track := &models.Track{
		Name:        "Test Raceway",
		Slug:        "test-raceway",
		Surface:     models.SurfaceClay,
		Timezone:    "UTC",
		ExternalRef: "testraceway",
	}
	require.NoError(t, db.CreateTrack(context.Background(), track))
	return track
}

func TestTrackCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	track := seedTrack(t, db)
	require.NotEmpty(t, track.ID)

	got, err := db.GetTrack(ctx, track.ID)
	require.NoError(t, err)
	assert.Equal(t, "Test Raceway", got.Name)
	assert.Equal(t, models.SurfaceClay, got.Surface)

	got.Name = "Renamed Raceway"
	require.NoError(t, db.UpdateTrack(ctx, got))

	got, err = db.GetTrack(ctx, track.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed Raceway", got.Name)

	require.NoError(t, db.DeleteTrack(ctx, track.ID))

	_, err = db.GetTrack(ctx, track.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateTrackDuplicateSlug(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seedTrack(t, db)
	dup := &models.Track{
		Name:     "Other Track",
		Slug:     "test-raceway",
		Surface:  models.SurfaceCarpet,
		Timezone: "UTC",
	}
	err := db.CreateTrack(ctx, dup)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDeleteTrackWithEventsRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	track := seedTrack(t, db)
	event := &models.Event{
		TrackID:  track.ID,
		Name:     "Club Night",
		StartsAt: time.Now().UTC(),
	}
	require.NoError(t, db.CreateEvent(ctx, event))

	err := db.DeleteTrack(ctx, track.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUpsertEventByExternalRefIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	track := seedTrack(t, db)
	event := &models.Event{
		TrackID:     track.ID,
		Name:        "Winter Series R1",
		Status:      models.EventScheduled,
		Source:      models.SourceLiveRC,
		ExternalRef: "testraceway/events/winter-r1",
		StartsAt:    time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
	}
	first, err := db.UpsertEventByExternalRef(ctx, event)
	require.NoError(t, err)

	// Second upsert with a refreshed status must update, not duplicate.
	update := &models.Event{
		TrackID:     track.ID,
		Name:        "Winter Series R1",
		Status:      models.EventCompleted,
		Source:      models.SourceLiveRC,
		ExternalRef: "testraceway/events/winter-r1",
		StartsAt:    event.StartsAt,
	}
	second, err := db.UpsertEventByExternalRef(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	events, total, err := db.ListEvents(ctx, EventFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventCompleted, events[0].Status)
}

func TestListEventsFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	track := seedTrack(t, db)
	for i, status := range []string{models.EventScheduled, models.EventCompleted, models.EventCompleted} {
		event := &models.Event{
			TrackID:  track.ID,
			Name:     "Event",
			Status:   status,
			StartsAt: time.Date(2026, 3, 1+i, 9, 0, 0, 0, time.UTC),
		}
		require.NoError(t, db.CreateEvent(ctx, event))
	}

	_, total, err := db.ListEvents(ctx, EventFilter{Status: models.EventCompleted, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	events, total, err := db.ListEvents(ctx, EventFilter{From: &from, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	// Newest first.
	require.Len(t, events, 2)
	assert.True(t, events[0].StartsAt.After(events[1].StartsAt))
}

func TestInsertLapsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	race, driver := seedRaceWithDriver(t, db)

	laps := []models.Lap{
		{RaceID: race.ID, DriverID: driver.ID, LapNumber: 1, LapTimeMS: 17500, Position: 1},
		{RaceID: race.ID, DriverID: driver.ID, LapNumber: 2, LapTimeMS: 17200, Position: 1},
	}
	inserted, err := db.InsertLaps(ctx, laps)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Re-ingesting the same laps inserts nothing.
	reinsert := []models.Lap{
		{RaceID: race.ID, DriverID: driver.ID, LapNumber: 1, LapTimeMS: 17500},
		{RaceID: race.ID, DriverID: driver.ID, LapNumber: 3, LapTimeMS: 17100},
	}
	inserted, err = db.InsertLaps(ctx, reinsert)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	got, total, err := db.ListLaps(ctx, LapFilter{RaceID: race.ID, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, got, 3)
}

func TestRaceConsistency(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	race, driver := seedRaceWithDriver(t, db)
	laps := []models.Lap{
		{RaceID: race.ID, DriverID: driver.ID, LapNumber: 1, LapTimeMS: 17000},
		{RaceID: race.ID, DriverID: driver.ID, LapNumber: 2, LapTimeMS: 17500},
		{RaceID: race.ID, DriverID: driver.ID, LapNumber: 3, LapTimeMS: 18000},
	}
	_, err := db.InsertLaps(ctx, laps)
	require.NoError(t, err)

	results, err := db.GetRaceConsistency(ctx, race.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, driver.ID, results[0].DriverID)
	assert.Equal(t, 3, results[0].Laps)
	assert.Equal(t, int64(17000), results[0].BestLapMS)
	assert.InDelta(t, 17500, results[0].MeanLapMS, 0.001)
	assert.InDelta(t, 500, results[0].StddevLapMS, 0.001)
	assert.Greater(t, results[0].ConsistencyIndex, 0.0)
}

func TestRacePaceMovingAverage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	race, driver := seedRaceWithDriver(t, db)
	laps := []models.Lap{
		{RaceID: race.ID, DriverID: driver.ID, LapNumber: 1, LapTimeMS: 16000},
		{RaceID: race.ID, DriverID: driver.ID, LapNumber: 2, LapTimeMS: 18000},
		{RaceID: race.ID, DriverID: driver.ID, LapNumber: 3, LapTimeMS: 20000},
	}
	_, err := db.InsertLaps(ctx, laps)
	require.NoError(t, err)

	series, err := db.GetRacePace(ctx, race.ID, 2)
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Len(t, series[0].Points, 3)
	assert.InDelta(t, 16000, series[0].Points[0].AvgLapMS, 0.001)
	assert.InDelta(t, 17000, series[0].Points[1].AvgLapMS, 0.001)
	assert.InDelta(t, 19000, series[0].Points[2].AvgLapMS, 0.001)
}

func TestIngestRunLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	run := &models.IngestRun{Trigger: models.IngestTriggerManual, Scope: "full"}
	require.NoError(t, db.CreateIngestRun(ctx, run))

	run.EventsUpserted = 3
	run.LapsInserted = 120
	run.Outcome = models.IngestOutcomeSuccess
	require.NoError(t, db.FinishIngestRun(ctx, run))

	runs, total, err := db.ListIngestRuns(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, runs, 1)
	assert.Equal(t, models.IngestOutcomeSuccess, runs[0].Outcome)
	assert.Equal(t, 120, runs[0].LapsInserted)
	assert.NotNil(t, runs[0].FinishedAt)

	last, err := db.LastIngestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, last.ID)
}

func TestUserCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := &models.User{
		Username:     "pitlane",
		PasswordHash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		Role:         models.RoleUser,
	}
	require.NoError(t, db.CreateUser(ctx, user))

	err := db.CreateUser(ctx, &models.User{Username: "pitlane", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := db.GetUserByUsername(ctx, "pitlane")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.False(t, got.Disabled)

	require.NoError(t, db.UpdateUserRole(ctx, user.ID, models.RoleAdmin))
	require.NoError(t, db.SetUserDisabled(ctx, user.ID, true))

	got, err = db.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, got.Role)
	assert.True(t, got.Disabled)
}

func TestSeedDemoData(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SeedDemoData(ctx))
	// Seeding again must not duplicate anything.
	require.NoError(t, db.SeedDemoData(ctx))

	stats, err := db.GetPlatformStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Tracks)
	assert.Equal(t, int64(1), stats.Events)
	assert.Equal(t, int64(2), stats.Races)
	assert.Equal(t, int64(4), stats.Drivers)
	assert.Equal(t, int64(144), stats.Laps)
}

func seedRaceWithDriver(t *testing.T, db *DB) (*models.Race, *models.Driver) {
	t.Helper()
	ctx := context.Background()

	track := seedTrack(t, db)
	event := &models.Event{
		TrackID:  track.ID,
		Name:     "Test Event",
		StartsAt: time.Now().UTC(),
	}
	require.NoError(t, db.CreateEvent(ctx, event))

	race, err := db.UpsertRaceByExternalRef(ctx, &models.Race{
		EventID:     event.ID,
		Name:        "Heat 1",
		ExternalRef: "testraceway/races/1",
	})
	require.NoError(t, err)

	driver, err := db.UpsertDriverByExternalRef(ctx, &models.Driver{
		DisplayName: "Test Driver",
		ExternalRef: "testraceway/drivers/test-driver",
	})
	require.NoError(t, err)
	return race, driver
}
