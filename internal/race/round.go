package race

import "github.com/banshee-data/racelog/internal/timeutil"

// Round is a single lap: an append-only sequence of points bounded by a
// start and end time.
type Round struct {
	startTime int64
	endTime   int64
	points    []Point
	clock     timeutil.Clock
}

// NewRound starts a round at the clock's current second. A nil clock uses the
// wall clock.
func NewRound(clock timeutil.Clock) *Round {
	return newRoundAfter(clock, 0)
}

// newRoundAfter starts a round no earlier than notBefore.
func newRoundAfter(clock timeutil.Clock, notBefore int64) *Round {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	start := timeutil.UnixNow(clock)
	if start < notBefore {
		start = notBefore
	}
	return &Round{
		startTime: start,
		clock:     clock,
	}
}

// StartTime returns the Unix second the round started.
func (r *Round) StartTime() int64 { return r.startTime }

// EndTime returns the Unix second the round ended, or 0 while it is running.
func (r *Round) EndTime() int64 { return r.endTime }

// Ended reports whether End has been called.
func (r *Round) Ended() bool { return r.endTime != 0 }

// Len returns the number of recorded points.
func (r *Round) Len() int { return len(r.points) }

// Points returns a copy of the recorded points in insertion order.
func (r *Round) Points() []Point {
	out := make([]Point, len(r.points))
	copy(out, r.points)
	return out
}

// Duration returns the round length in seconds. ok is false while the round
// is still running.
func (r *Round) Duration() (seconds int64, ok bool) {
	if !r.Ended() {
		return 0, false
	}
	return r.endTime - r.startTime, true
}

// Update records a new point stamped with the current time and returns it.
// Identical consecutive points are allowed. Timestamps never decrease within
// the round, even if the clock steps backwards.
func (r *Round) Update(longitude, latitude, speed, gForce, tilt float64) (Point, error) {
	if r.Ended() {
		return Point{}, ErrRoundEnded
	}
	p := newPoint(r.clock, longitude, latitude, speed, gForce, tilt)
	if floor := r.lastTimestamp(); p.Timestamp < floor {
		p.Timestamp = floor
	}
	r.points = append(r.points, p)
	return p, nil
}

// lastTimestamp is the newest point's timestamp, or the start time of an
// empty round.
func (r *Round) lastTimestamp() int64 {
	if n := len(r.points); n > 0 {
		return r.points[n-1].Timestamp
	}
	return r.startTime
}

// End stamps the round's end time. Calling End on an ended round is a no-op so
// the end time never moves.
func (r *Round) End() {
	if r.Ended() {
		return
	}
	r.endTime = timeutil.UnixNow(r.clock)
	if floor := r.lastTimestamp(); r.endTime < floor {
		// a clock stepped backwards must not produce a negative lap
		r.endTime = floor
	}
}
