// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package models

import "time"

// DriverConsistency summarizes a driver's lap-time distribution in a race.
// ConsistencyIndex is stddev/mean: lower is steadier driving.
type DriverConsistency struct {
	DriverID         string  `json:"driver_id"`
	DriverName       string  `json:"driver_name,omitempty"`
	RaceID           string  `json:"race_id"`
	Laps             int     `json:"laps"`
	BestLapMS        int64   `json:"best_lap_ms"`
	MeanLapMS        float64 `json:"mean_lap_ms"`
	StddevLapMS      float64 `json:"stddev_lap_ms"`
	ConsistencyIndex float64 `json:"consistency_index"`
}

// PacePoint is one point in a driver's pace trend: the moving-average lap
// time over the trailing window ending at LapNumber.
type PacePoint struct {
	LapNumber int     `json:"lap_number"`
	AvgLapMS  float64 `json:"avg_lap_ms"`
}

// DriverPace is a driver's pace trend through a race.
type DriverPace struct {
	DriverID   string      `json:"driver_id"`
	DriverName string      `json:"driver_name,omitempty"`
	Window     int         `json:"window"`
	Points     []PacePoint `json:"points"`
}

// ProgressionPoint is a driver's position at the end of a lap.
type ProgressionPoint struct {
	LapNumber int `json:"lap_number"`
	Position  int `json:"position"`
}

// DriverProgression is the position-per-lap series for one driver,
// suitable for a race progression chart.
type DriverProgression struct {
	DriverID   string             `json:"driver_id"`
	DriverName string             `json:"driver_name,omitempty"`
	Points     []ProgressionPoint `json:"points"`
}

// WeatherImpact correlates lap times with track conditions for one race
// of an event. Correlation is the Pearson coefficient between ambient
// temperature and mean lap time across the race window.
type WeatherImpact struct {
	RaceID          string  `json:"race_id"`
	RaceName        string  `json:"race_name,omitempty"`
	MeanLapMS       float64 `json:"mean_lap_ms"`
	MeanTempC       float64 `json:"mean_temp_c"`
	MeanHumidityPct float64 `json:"mean_humidity_pct,omitempty"`
	TempCorrelation float64 `json:"temp_correlation"`
	Samples         int     `json:"samples"`
}

// DriverStats is a driver's career aggregate across all recorded races.
type DriverStats struct {
	DriverID      string `json:"driver_id"`
	RacesEntered  int    `json:"races_entered"`
	Wins          int    `json:"wins"`
	Podiums       int    `json:"podiums"`
	LapsRecorded  int64  `json:"laps_recorded"`
	BestLapMS     int64  `json:"best_lap_ms,omitempty"`
	EventsVisited int    `json:"events_visited"`
}

// DriverResult is one row of a driver's participation history.
type DriverResult struct {
	RaceID         string    `json:"race_id"`
	RaceName       string    `json:"race_name"`
	ClassName      string    `json:"class_name,omitempty"`
	EventID        string    `json:"event_id"`
	EventName      string    `json:"event_name"`
	EventStartsAt  time.Time `json:"event_starts_at"`
	FinishPosition int       `json:"finish_position,omitempty"`
	LapsCompleted  int       `json:"laps_completed"`
	TotalTimeMS    int64     `json:"total_time_ms,omitempty"`
	BestLapMS      int64     `json:"best_lap_ms,omitempty"`
	Status         string    `json:"status"`
}

// PlatformStats is the /stats payload: totals plus the last ingest run.
type PlatformStats struct {
	Tracks       int64      `json:"tracks"`
	Events       int64      `json:"events"`
	Races        int64      `json:"races"`
	Drivers      int64      `json:"drivers"`
	Laps         int64      `json:"laps"`
	LastIngestAt *time.Time `json:"last_ingest_at,omitempty"`
}
