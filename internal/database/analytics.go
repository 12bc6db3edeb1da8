// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jthom32/racepulse/internal/models"
)

// GetRaceConsistency computes per-driver lap-time distributions for a
// race. Drivers with fewer than three laps are excluded since stddev is
// meaningless for them.
func (db *DB) GetRaceConsistency(ctx context.Context, raceID string) ([]models.DriverConsistency, error) {
	query := `SELECT l.driver_id, d.display_name,
			COUNT(*) AS laps,
			MIN(l.lap_time_ms) AS best_lap_ms,
			AVG(l.lap_time_ms) AS mean_lap_ms,
			STDDEV_SAMP(l.lap_time_ms) AS stddev_lap_ms
		FROM laps l
		JOIN drivers d ON d.id = l.driver_id
		WHERE l.race_id = ?
		GROUP BY l.driver_id, d.display_name
		HAVING COUNT(*) >= 3
		ORDER BY mean_lap_ms`
	rows, err := db.conn.QueryContext(ctx, query, raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query consistency: %w", err)
	}
	defer closeWithLog(rows, "consistency rows")

	results := make([]models.DriverConsistency, 0)
	for rows.Next() {
		c := models.DriverConsistency{RaceID: raceID}
		var stddev sql.NullFloat64
		err := rows.Scan(&c.DriverID, &c.DriverName, &c.Laps, &c.BestLapMS,
			&c.MeanLapMS, &stddev)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consistency row: %w", err)
		}
		c.StddevLapMS = stddev.Float64
		if c.MeanLapMS > 0 {
			c.ConsistencyIndex = c.StddevLapMS / c.MeanLapMS
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// GetRacePace returns each driver's moving-average lap time through a
// race. The window is a trailing lap count; points before a full window
// average over the laps available so far.
func (db *DB) GetRacePace(ctx context.Context, raceID string, window int) ([]models.DriverPace, error) {
	if window < 1 {
		window = 1
	}

	lapsByDriver, names, err := db.lapSeriesByDriver(ctx, raceID)
	if err != nil {
		return nil, err
	}

	results := make([]models.DriverPace, 0, len(lapsByDriver))
	for driverID, laps := range lapsByDriver {
		pace := models.DriverPace{
			DriverID:   driverID,
			DriverName: names[driverID],
			Window:     window,
			Points:     make([]models.PacePoint, 0, len(laps)),
		}
		var sum int64
		for i, lap := range laps {
			sum += lap.LapTimeMS
			if i >= window {
				sum -= laps[i-window].LapTimeMS
			}
			n := i + 1
			if n > window {
				n = window
			}
			pace.Points = append(pace.Points, models.PacePoint{
				LapNumber: lap.LapNumber,
				AvgLapMS:  float64(sum) / float64(n),
			})
		}
		results = append(results, pace)
	}
	sortPaceByName(results)
	return results, nil
}

// GetRaceProgression returns the position-per-lap series for every driver
// in a race. Laps without a recorded position are dropped from the series.
func (db *DB) GetRaceProgression(ctx context.Context, raceID string) ([]models.DriverProgression, error) {
	lapsByDriver, names, err := db.lapSeriesByDriver(ctx, raceID)
	if err != nil {
		return nil, err
	}

	results := make([]models.DriverProgression, 0, len(lapsByDriver))
	for driverID, laps := range lapsByDriver {
		prog := models.DriverProgression{
			DriverID:   driverID,
			DriverName: names[driverID],
			Points:     make([]models.ProgressionPoint, 0, len(laps)),
		}
		for _, lap := range laps {
			if lap.Position == 0 {
				continue
			}
			prog.Points = append(prog.Points, models.ProgressionPoint{
				LapNumber: lap.LapNumber,
				Position:  lap.Position,
			})
		}
		if len(prog.Points) > 0 {
			results = append(results, prog)
		}
	}
	sortProgressionByName(results)
	return results, nil
}

// GetWeatherImpact correlates lap times with ambient temperature for each
// race of an event. Each lap is matched to the most recent weather sample
// at or before its timestamp via an ASOF join, then the Pearson
// coefficient is computed per race. Races with fewer than five matched
// laps are excluded.
func (db *DB) GetWeatherImpact(ctx context.Context, eventID string) ([]models.WeatherImpact, error) {
	query := `SELECT r.id, r.name,
			AVG(l.lap_time_ms) AS mean_lap_ms,
			AVG(w.temperature_c) AS mean_temp_c,
			AVG(w.humidity_pct) AS mean_humidity_pct,
			CORR(l.lap_time_ms, w.temperature_c) AS temp_correlation,
			COUNT(*) AS samples
		FROM races r
		JOIN laps l ON l.race_id = r.id AND l.recorded_at IS NOT NULL
		ASOF JOIN weather_samples w
			ON w.event_id = r.event_id AND w.recorded_at <= l.recorded_at
		WHERE r.event_id = ?
		GROUP BY r.id, r.name
		HAVING COUNT(*) >= 5
		ORDER BY r.name`
	rows, err := db.conn.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query weather impact: %w", err)
	}
	defer closeWithLog(rows, "weather impact rows")

	results := make([]models.WeatherImpact, 0)
	for rows.Next() {
		var w models.WeatherImpact
		var humidity, correlation sql.NullFloat64
		err := rows.Scan(&w.RaceID, &w.RaceName, &w.MeanLapMS, &w.MeanTempC,
			&humidity, &correlation, &w.Samples)
		if err != nil {
			return nil, fmt.Errorf("failed to scan weather impact row: %w", err)
		}
		w.MeanHumidityPct = humidity.Float64
		// CORR is NULL when temperature never varies within the race.
		w.TempCorrelation = correlation.Float64
		results = append(results, w)
	}
	return results, rows.Err()
}

// GetDriverStats computes a driver's career aggregates.
func (db *DB) GetDriverStats(ctx context.Context, driverID string) (*models.DriverStats, error) {
	stats := &models.DriverStats{DriverID: driverID}

	query := `SELECT COUNT(*),
			COUNT(*) FILTER (WHERE rd.finish_position = 1),
			COUNT(*) FILTER (WHERE rd.finish_position BETWEEN 1 AND 3),
			COUNT(DISTINCT r.event_id)
		FROM race_drivers rd
		JOIN races r ON r.id = rd.race_id
		WHERE rd.driver_id = ?`
	err := db.conn.QueryRowContext(ctx, query, driverID).Scan(
		&stats.RacesEntered, &stats.Wins, &stats.Podiums, &stats.EventsVisited)
	if err != nil {
		return nil, fmt.Errorf("failed to query driver stats: %w", err)
	}

	var bestLap sql.NullInt64
	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(lap_time_ms) FROM laps WHERE driver_id = ?`,
		driverID).Scan(&stats.LapsRecorded, &bestLap)
	if err != nil {
		return nil, fmt.Errorf("failed to query driver laps: %w", err)
	}
	stats.BestLapMS = bestLap.Int64
	return stats, nil
}

// GetPlatformStats returns row counts for the health and stats endpoints.
func (db *DB) GetPlatformStats(ctx context.Context) (*models.PlatformStats, error) {
	stats := &models.PlatformStats{}
	query := `SELECT
		(SELECT COUNT(*) FROM tracks),
		(SELECT COUNT(*) FROM events),
		(SELECT COUNT(*) FROM races),
		(SELECT COUNT(*) FROM drivers),
		(SELECT COUNT(*) FROM laps)`
	err := db.conn.QueryRowContext(ctx, query).Scan(
		&stats.Tracks, &stats.Events, &stats.Races, &stats.Drivers, &stats.Laps)
	if err != nil {
		return nil, fmt.Errorf("failed to query platform stats: %w", err)
	}

	lastRun, err := db.LastIngestRun(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	} else {
		stats.LastIngestAt = lastRun.FinishedAt
	}
	return stats, nil
}

// Map iteration order is random; sort series for stable API responses.

func sortPaceByName(series []models.DriverPace) {
	sort.Slice(series, func(i, j int) bool {
		if series[i].DriverName != series[j].DriverName {
			return series[i].DriverName < series[j].DriverName
		}
		return series[i].DriverID < series[j].DriverID
	})
}

func sortProgressionByName(series []models.DriverProgression) {
	sort.Slice(series, func(i, j int) bool {
		if series[i].DriverName != series[j].DriverName {
			return series[i].DriverName < series[j].DriverName
		}
		return series[i].DriverID < series[j].DriverID
	})
}

// lapSeriesByDriver loads a race's laps grouped by driver, ordered by lap
// number, along with a driver-id to display-name map.
func (db *DB) lapSeriesByDriver(ctx context.Context, raceID string) (map[string][]models.Lap, map[string]string, error) {
	query := `SELECT l.driver_id, d.display_name, l.lap_number, l.lap_time_ms, l.position
		FROM laps l
		JOIN drivers d ON d.id = l.driver_id
		WHERE l.race_id = ?
		ORDER BY l.driver_id, l.lap_number`
	rows, err := db.conn.QueryContext(ctx, query, raceID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query lap series: %w", err)
	}
	defer closeWithLog(rows, "lap series rows")

	lapsByDriver := make(map[string][]models.Lap)
	names := make(map[string]string)
	for rows.Next() {
		var lap models.Lap
		var name string
		var position sql.NullInt64
		if err := rows.Scan(&lap.DriverID, &name, &lap.LapNumber, &lap.LapTimeMS, &position); err != nil {
			return nil, nil, fmt.Errorf("failed to scan lap series row: %w", err)
		}
		lap.Position = int(position.Int64)
		lap.RaceID = raceID
		lapsByDriver[lap.DriverID] = append(lapsByDriver[lap.DriverID], lap)
		names[lap.DriverID] = name
	}
	return lapsByDriver, names, rows.Err()
}
