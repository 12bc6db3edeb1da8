// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jthom32/racepulse/internal/logging"
	"github.com/jthom32/racepulse/internal/models"
)

// SeedDemoData populates a small deterministic dataset for local
// development and demos: two tracks, one completed event with two races,
// four drivers with laps, and a weather series. Idempotent via the
// external_ref upsert paths.
func (db *DB) SeedDemoData(ctx context.Context) error {
	tracks := []models.Track{
		{
			Name: "Riverside RC Raceway", Slug: "riverside-rc-raceway",
			Surface: models.SurfaceClay, LengthMeters: 180,
			Location: "Riverside, CA", Timezone: "America/Los_Angeles",
			TimingProvider: "liverc", ExternalRef: "riversiderc",
		},
		{
			Name: "Apex Indoor Speedway", Slug: "apex-indoor-speedway",
			Surface: models.SurfaceCarpet, LengthMeters: 95,
			Location: "Columbus, OH", Timezone: "America/New_York",
			TimingProvider: "liverc", ExternalRef: "apexindoor",
		},
	}
	for i := range tracks {
		if _, err := db.UpsertTrackByExternalRef(ctx, &tracks[i]); err != nil {
			return fmt.Errorf("failed to seed track %s: %w", tracks[i].Name, err)
		}
	}

	eventStart := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)
	eventEnd := eventStart.Add(9 * time.Hour)
	event := models.Event{
		TrackID:     tracks[0].ID,
		Name:        "Riverside Summer Club Race",
		Status:      models.EventCompleted,
		Source:      models.SourceLiveRC,
		ExternalRef: "riversiderc/events/2026-summer-club",
		StartsAt:    eventStart,
		EndsAt:      &eventEnd,
	}
	if _, err := db.UpsertEventByExternalRef(ctx, &event); err != nil {
		return fmt.Errorf("failed to seed event: %w", err)
	}

	drivers := make([]models.Driver, 0, len(demoDrivers))
	for _, name := range demoDrivers {
		d := models.Driver{
			DisplayName: name,
			ExternalRef: "riversiderc/drivers/" + slugify(name),
			HomeTrackID: tracks[0].ID,
		}
		stored, err := db.UpsertDriverByExternalRef(ctx, &d)
		if err != nil {
			return fmt.Errorf("failed to seed driver %s: %w", name, err)
		}
		drivers = append(drivers, *stored)
	}

	raceStart := eventStart.Add(2 * time.Hour)
	for raceIdx, raceName := range []string{"2WD Buggy Q1", "2WD Buggy A-Main"} {
		scheduled := raceStart.Add(time.Duration(raceIdx) * 3 * time.Hour)
		race := models.Race{
			EventID:         event.ID,
			Name:            raceName,
			ClassName:       "2WD Buggy",
			Round:           raceIdx + 1,
			Heat:            1,
			Status:          models.EventCompleted,
			ExternalRef:     fmt.Sprintf("%s/races/%d", event.ExternalRef, raceIdx+1),
			ScheduledAt:     &scheduled,
			DurationSeconds: 300,
		}
		stored, err := db.UpsertRaceByExternalRef(ctx, &race)
		if err != nil {
			return fmt.Errorf("failed to seed race %s: %w", raceName, err)
		}
		if err := db.seedRaceLaps(ctx, stored, drivers, scheduled); err != nil {
			return err
		}
	}

	samples := make([]models.WeatherSample, 0, 10)
	for i := 0; i < 10; i++ {
		samples = append(samples, models.WeatherSample{
			EventID:      event.ID,
			RecordedAt:   eventStart.Add(time.Duration(i) * time.Hour),
			TemperatureC: 22 + float64(i)*1.5,
			HumidityPct:  55 - float64(i)*2,
			WindSpeedKPH: 8,
			Condition:    "sunny",
			Source:       models.SourceLiveRC,
		})
	}
	if _, err := db.InsertWeatherSamples(ctx, samples); err != nil {
		return fmt.Errorf("failed to seed weather: %w", err)
	}

	logging.Info().Int("drivers", len(drivers)).Msg("Seeded demo data")
	return nil
}

var demoDrivers = []string{
	"Marco Delgado",
	"Katie Brunner",
	"Sam Okafor",
	"Jules Fontaine",
}

// seedRaceLaps generates a deterministic 18-lap stint per driver. Each
// driver has a distinct base pace and a mild tire falloff so the
// analytics endpoints return non-trivial numbers.
func (db *DB) seedRaceLaps(ctx context.Context, race *models.Race, drivers []models.Driver, start time.Time) error {
	const lapCount = 18

	laps := make([]models.Lap, 0, lapCount*len(drivers))
	elapsed := make([]int64, len(drivers))
	for lapNum := 1; lapNum <= lapCount; lapNum++ {
		type standing struct {
			idx   int
			total int64
		}
		standings := make([]standing, 0, len(drivers))
		for di := range drivers {
			base := int64(16200 + di*280)
			falloff := int64(lapNum * 35)
			jitter := int64((lapNum*7+di*13)%9) * 40
			lapTime := base + falloff + jitter
			elapsed[di] += lapTime
			standings = append(standings, standing{idx: di, total: elapsed[di]})
			laps = append(laps, models.Lap{
				RaceID:     race.ID,
				DriverID:   drivers[di].ID,
				LapNumber:  lapNum,
				LapTimeMS:  lapTime,
				RecordedAt: start.Add(time.Duration(elapsed[di]) * time.Millisecond),
			})
		}
		// Assign running positions by cumulative time.
		for pos := range standings {
			best := pos
			for j := pos + 1; j < len(standings); j++ {
				if standings[j].total < standings[best].total {
					best = j
				}
			}
			standings[pos], standings[best] = standings[best], standings[pos]
			lapIdx := len(laps) - len(drivers) + standings[pos].idx
			laps[lapIdx].Position = pos + 1
		}
	}
	if _, err := db.InsertLaps(ctx, laps); err != nil {
		return fmt.Errorf("failed to seed laps: %w", err)
	}

	for di := range drivers {
		best := int64(0)
		for _, lap := range laps {
			if lap.DriverID == drivers[di].ID && (best == 0 || lap.LapTimeMS < best) {
				best = lap.LapTimeMS
			}
		}
		entry := models.RaceDriver{
			RaceID:        race.ID,
			DriverID:      drivers[di].ID,
			CarNumber:     di + 1,
			GridPosition:  di + 1,
			LapsCompleted: lapCount,
			TotalTimeMS:   elapsed[di],
			BestLapMS:     best,
			Status:        models.ResultFinished,
		}
		if err := db.UpsertRaceEntry(ctx, &entry); err != nil {
			return fmt.Errorf("failed to seed race entry: %w", err)
		}
	}

	// Finish positions follow cumulative time, which by construction
	// follows driver index.
	entries, err := db.ListRaceEntries(ctx, race.ID)
	if err != nil {
		return err
	}
	for i := range entries {
		entries[i].FinishPosition = 0
	}
	byTotal := make([]models.RaceDriver, len(entries))
	copy(byTotal, entries)
	for i := 0; i < len(byTotal); i++ {
		best := i
		for j := i + 1; j < len(byTotal); j++ {
			if byTotal[j].TotalTimeMS < byTotal[best].TotalTimeMS {
				best = j
			}
		}
		byTotal[i], byTotal[best] = byTotal[best], byTotal[i]
		byTotal[i].FinishPosition = i + 1
		if err := db.UpsertRaceEntry(ctx, &byTotal[i]); err != nil {
			return err
		}
	}
	return nil
}
