package race

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/racelog/internal/timeutil"
)

// Stored record field names.
const (
	keyStartTime  = "startTime"
	keyRounds     = "rounds"
	keyRacePoints = "racePoints"
	keyTimestamp  = "timestamp"
)

type roundRecord struct {
	StartTime  int64   `json:"startTime"`
	EndTime    int64   `json:"endTime"`
	RacePoints []Point `json:"racePoints"`
}

type raceRecord struct {
	StartTime int64         `json:"startTime"`
	EndTime   int64         `json:"endTime"`
	Name      string        `json:"name"`
	Rounds    []roundRecord `json:"rounds"`
}

func (r *Round) record() roundRecord {
	return roundRecord{
		StartTime:  r.startTime,
		EndTime:    r.endTime,
		RacePoints: r.Points(),
	}
}

func (r *Race) record() raceRecord {
	rec := raceRecord{
		StartTime: r.startTime,
		EndTime:   r.endTime,
		Name:      r.name,
		Rounds:    make([]roundRecord, 0, len(r.rounds)),
	}
	for _, round := range r.rounds {
		rec.Rounds = append(rec.Rounds, round.record())
	}
	return rec
}

// MarshalJSON encodes the round as its stored record.
func (r *Round) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.record())
}

// MarshalJSON encodes the race as its stored record.
func (r *Race) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.record())
}

// Encode returns the race's stored record.
func (r *Race) Encode() ([]byte, error) {
	return json.Marshal(r.record())
}

// Decode parses a stored race record. Decoded races are finished: they have
// no active round and may have no rounds at all.
func Decode(data []byte) (*Race, error) {
	var r Race
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, corrupt(err)
	}
	return &r, nil
}

// UnmarshalJSON decodes a point record. Every field except timestamp defaults
// to 0 when absent.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamp *float64 `json:"timestamp"`
		Longitude float64  `json:"longitude"`
		Latitude  float64  `json:"latitude"`
		Speed     float64  `json:"speed"`
		GForce    float64  `json:"gForce"`
		Tilt      float64  `json:"tilt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return corrupt(err)
	}
	if raw.Timestamp == nil {
		return missing("racePoint", keyTimestamp)
	}
	*p = Point{
		Timestamp: int64(*raw.Timestamp),
		Longitude: raw.Longitude,
		Latitude:  raw.Latitude,
		Speed:     raw.Speed,
		GForce:    raw.GForce,
		Tilt:      raw.Tilt,
	}
	return nil
}

// UnmarshalJSON decodes a round record. A missing racePoints list yields an
// empty round; entries that are not objects are skipped.
func (r *Round) UnmarshalJSON(data []byte) error {
	var raw struct {
		StartTime  *float64          `json:"startTime"`
		EndTime    *float64          `json:"endTime"`
		RacePoints []json.RawMessage `json:"racePoints"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return corrupt(err)
	}
	if raw.StartTime == nil {
		return missing("round", keyStartTime)
	}

	round := Round{
		startTime: int64(*raw.StartTime),
		clock:     timeutil.RealClock{},
	}
	if raw.EndTime != nil {
		round.endTime = int64(*raw.EndTime)
	}
	for _, msg := range objects(raw.RacePoints) {
		var p Point
		if err := p.UnmarshalJSON(msg); err != nil {
			return fmt.Errorf("%s[%d]: %w", keyRacePoints, len(round.points), err)
		}
		round.points = append(round.points, p)
	}
	*r = round
	return nil
}

// UnmarshalJSON decodes a race record. A missing rounds list yields a race
// with no rounds and a missing name falls back to DefaultName.
func (r *Race) UnmarshalJSON(data []byte) error {
	var raw struct {
		StartTime *float64          `json:"startTime"`
		EndTime   *float64          `json:"endTime"`
		Name      *string           `json:"name"`
		Rounds    []json.RawMessage `json:"rounds"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return corrupt(err)
	}
	if raw.StartTime == nil {
		return missing("race", keyStartTime)
	}

	race := Race{
		name:      DefaultName,
		startTime: int64(*raw.StartTime),
		active:    -1,
		clock:     timeutil.RealClock{},
	}
	if raw.EndTime != nil {
		race.endTime = int64(*raw.EndTime)
	}
	if raw.Name != nil {
		race.name = *raw.Name
	}
	for _, msg := range objects(raw.Rounds) {
		round := new(Round)
		if err := round.UnmarshalJSON(msg); err != nil {
			return fmt.Errorf("%s[%d]: %w", keyRounds, len(race.rounds), err)
		}
		race.rounds = append(race.rounds, round)
	}
	*r = race
	return nil
}

// objects drops list entries that are not JSON objects.
func objects(list []json.RawMessage) []json.RawMessage {
	out := list[:0:0]
	for _, msg := range list {
		if trimmed := bytes.TrimSpace(msg); len(trimmed) > 0 && trimmed[0] == '{' {
			out = append(out, trimmed)
		}
	}
	return out
}

func corrupt(err error) error {
	if err == nil {
		return nil
	}
	if isCorrupt(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
}

func missing(kind, field string) error {
	return fmt.Errorf("%w: %s missing %q", ErrCorruptRecord, kind, field)
}
