package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/racelog/internal/race"
)

// RaceInfo is the listing row kept next to each stored record.
type RaceInfo struct {
	StartTime        int64   `json:"startTime"`
	EndTime          int64   `json:"endTime"`
	Name             string  `json:"name"`
	RoundCount       int     `json:"roundCount"`
	PointCount       int     `json:"pointCount"`
	TotalDistance    int     `json:"totalDistance"`
	AverageSpeed     float64 `json:"averageSpeed"`
	MaximumSpeed     float64 `json:"maximumSpeed"`
	FastestRoundTime int64   `json:"fastestRoundTime"`
	SavedAt          int64   `json:"savedAt"`
}

// SaveRace stores the race record under its start time, replacing any record
// already stored there.
func (db *DB) SaveRace(ctx context.Context, r *race.Race) error {
	record, err := r.Encode()
	if err != nil {
		return fmt.Errorf("encode race %d: %w", r.StartTime(), err)
	}
	s := r.Summary()
	_, err = db.ExecContext(ctx, `
		INSERT INTO races (
			start_time, end_time, name, record, round_count, point_count,
			total_distance_m, average_speed_mps, max_speed_mps, fastest_round_s
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(start_time) DO UPDATE SET
			end_time = excluded.end_time,
			name = excluded.name,
			record = excluded.record,
			round_count = excluded.round_count,
			point_count = excluded.point_count,
			total_distance_m = excluded.total_distance_m,
			average_speed_mps = excluded.average_speed_mps,
			max_speed_mps = excluded.max_speed_mps,
			fastest_round_s = excluded.fastest_round_s,
			saved_at = CAST(strftime('%s', 'now') AS INTEGER)`,
		s.StartTime, s.EndTime, s.Name, string(record), s.RoundCount, s.PointCount,
		s.TotalDistance, s.AverageSpeed, s.MaximumSpeed, s.FastestRoundTime,
	)
	if err != nil {
		return fmt.Errorf("save race %d: %w", r.StartTime(), err)
	}
	return nil
}

// RaceRecord returns the stored JSON record of the race started at startTime.
func (db *DB) RaceRecord(ctx context.Context, startTime int64) ([]byte, error) {
	var record string
	err := db.QueryRowContext(ctx, `SELECT record FROM races WHERE start_time = ?`, startTime).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", race.ErrRaceNotFound, startTime)
	}
	if err != nil {
		return nil, err
	}
	return []byte(record), nil
}

// Race returns the race started at startTime.
func (db *DB) Race(ctx context.Context, startTime int64) (*race.Race, error) {
	record, err := db.RaceRecord(ctx, startTime)
	if err != nil {
		return nil, err
	}
	r, err := race.Decode(record)
	if err != nil {
		return nil, fmt.Errorf("race %d: %w", startTime, err)
	}
	return r, nil
}

// Races returns every stored race in ascending start time order.
func (db *DB) Races(ctx context.Context) ([]*race.Race, error) {
	rows, err := db.QueryContext(ctx, `SELECT start_time, record FROM races ORDER BY start_time ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var races []*race.Race
	for rows.Next() {
		var (
			startTime int64
			record    string
		)
		if err := rows.Scan(&startTime, &record); err != nil {
			return nil, err
		}
		r, err := race.Decode([]byte(record))
		if err != nil {
			return nil, fmt.Errorf("race %d: %w", startTime, err)
		}
		races = append(races, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return races, nil
}

// LatestRace returns the most recently started race.
func (db *DB) LatestRace(ctx context.Context) (*race.Race, error) {
	var startTime int64
	err := db.QueryRowContext(ctx, `SELECT start_time FROM races ORDER BY start_time DESC LIMIT 1`).Scan(&startTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, race.ErrRaceNotFound
	}
	if err != nil {
		return nil, err
	}
	return db.Race(ctx, startTime)
}

// ListRaces returns the listing rows, newest first, without decoding records.
func (db *DB) ListRaces(ctx context.Context) ([]RaceInfo, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT start_time, end_time, name, round_count, point_count,
			total_distance_m, average_speed_mps, max_speed_mps, fastest_round_s, saved_at
		FROM races ORDER BY start_time DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []RaceInfo
	for rows.Next() {
		var info RaceInfo
		if err := rows.Scan(
			&info.StartTime,
			&info.EndTime,
			&info.Name,
			&info.RoundCount,
			&info.PointCount,
			&info.TotalDistance,
			&info.AverageSpeed,
			&info.MaximumSpeed,
			&info.FastestRoundTime,
			&info.SavedAt,
		); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return infos, nil
}

// DeleteRace removes the race started at startTime.
func (db *DB) DeleteRace(ctx context.Context, startTime int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM races WHERE start_time = ?`, startTime)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", race.ErrRaceNotFound, startTime)
	}
	return nil
}
