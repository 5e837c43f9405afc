// Package race holds the recorded race model: a Race is an ordered list of
// Rounds (laps), each an ordered list of Points. The package also derives the
// race statistics and encodes races to and from their stored JSON record.
//
// A Race is not safe for concurrent use; the session controller serializes
// all access to the race it records.
package race

import (
	"context"
	"fmt"

	"github.com/banshee-data/racelog/internal/timeutil"
)

// DefaultName is used for stored records that carry no name.
const DefaultName = "No Name Race"

// Store persists finished races keyed by their start time.
type Store interface {
	// SaveRace writes the race's record, replacing any record with the same
	// start time.
	SaveRace(ctx context.Context, r *Race) error
}

// Race is one recorded session.
type Race struct {
	name      string
	startTime int64
	endTime   int64
	rounds    []*Round
	// active indexes the running round in rounds, -1 once the race is over.
	active int
	clock  timeutil.Clock
}

// New starts a race with a single active round. A nil clock uses the wall
// clock. The caller is responsible for validating the name.
func New(name string, clock timeutil.Clock) *Race {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r := &Race{
		name:      name,
		startTime: timeutil.UnixNow(clock),
		clock:     clock,
	}
	r.rounds = []*Round{NewRound(clock)}
	r.active = 0
	return r
}

// Name returns the race name.
func (r *Race) Name() string { return r.name }

// StartTime returns the Unix second the race started. It is also the race's
// storage key.
func (r *Race) StartTime() int64 { return r.startTime }

// EndTime returns the Unix second the race ended, or 0 while it is running.
func (r *Race) EndTime() int64 { return r.endTime }

// Finished reports whether the race has no active round, either because it was
// ended or because it was decoded from storage.
func (r *Race) Finished() bool { return r.active < 0 }

// Rounds returns the rounds in chronological order. The returned slice is a
// copy; the rounds themselves are shared.
func (r *Race) Rounds() []*Round {
	out := make([]*Round, len(r.rounds))
	copy(out, r.rounds)
	return out
}

// RoundCount returns the number of rounds.
func (r *Race) RoundCount() int { return len(r.rounds) }

// ActiveRound returns the running round or nil once the race is finished.
func (r *Race) ActiveRound() *Round {
	if r.active < 0 {
		return nil
	}
	return r.rounds[r.active]
}

// Update records a point in the active round.
func (r *Race) Update(longitude, latitude, speed, gForce, tilt float64) (Point, error) {
	round := r.ActiveRound()
	if round == nil {
		return Point{}, ErrRaceFinished
	}
	return round.Update(longitude, latitude, speed, gForce, tilt)
}

// NewRound ends the active round and starts the next lap.
func (r *Race) NewRound() (*Round, error) {
	current := r.ActiveRound()
	if current == nil {
		return nil, ErrRaceFinished
	}
	current.End()

	// laps never overlap, even if the clock steps backwards
	next := newRoundAfter(r.clock, current.EndTime())
	r.rounds = append(r.rounds, next)
	r.active = len(r.rounds) - 1
	return next, nil
}

// EndRace ends the active round, stamps the race end time and writes the race
// to store. The end transition happens only once: if the write fails the race
// is left intact and EndRace may be called again to retry the write.
func (r *Race) EndRace(ctx context.Context, store Store) error {
	r.finish()
	if store == nil {
		return fmt.Errorf("persist race %d: no store configured", r.startTime)
	}
	if err := store.SaveRace(ctx, r); err != nil {
		return fmt.Errorf("persist race %d: %w", r.startTime, err)
	}
	return nil
}

func (r *Race) finish() {
	round := r.ActiveRound()
	if round == nil {
		return
	}
	round.End()
	r.endTime = timeutil.UnixNow(r.clock)
	if r.endTime < round.EndTime() {
		r.endTime = round.EndTime()
	}
	r.active = -1
}

// RoundTime returns the seconds elapsed in the active round, or 0 once the
// race is finished.
func (r *Race) RoundTime() int64 {
	round := r.ActiveRound()
	if round == nil {
		return 0
	}
	return timeutil.UnixNow(r.clock) - round.StartTime()
}

// TotalTime returns the seconds elapsed since the race started. For a
// finished race it is the race duration.
func (r *Race) TotalTime() int64 {
	if r.Finished() {
		if r.endTime == 0 {
			return 0
		}
		return r.endTime - r.startTime
	}
	return timeutil.UnixNow(r.clock) - r.startTime
}
