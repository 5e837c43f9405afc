package race

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/racelog/internal/geo"
)

// MaximumSpeed returns the highest recorded speed in m/s, 0 without points.
func (r *Race) MaximumSpeed() float64 {
	var highest float64
	r.eachPoint(func(_ int, p Point) {
		if p.Speed > highest {
			highest = p.Speed
		}
	})
	return highest
}

// MaxTilt returns the highest recorded tilt in degrees, 0 without points.
func (r *Race) MaxTilt() float64 {
	var highest float64
	r.eachPoint(func(_ int, p Point) {
		if p.Tilt > highest {
			highest = p.Tilt
		}
	})
	return highest
}

// MaximumForce returns the highest recorded G-force, 0 without points.
func (r *Race) MaximumForce() float64 {
	var highest float64
	r.eachPoint(func(_ int, p Point) {
		if p.GForce > highest {
			highest = p.GForce
		}
	})
	return highest
}

// FastestRoundTime returns the shortest duration in seconds over finished
// rounds. Rounds that have not ended are ignored; 0 is returned when no round
// has ended.
func (r *Race) FastestRoundTime() int64 {
	var (
		shortest int64
		found    bool
	)
	for _, round := range r.rounds {
		d, ok := round.Duration()
		if !ok {
			continue
		}
		if !found || d < shortest {
			shortest, found = d, true
		}
	}
	return shortest
}

// TotalDistance returns the distance covered in whole metres: the sum of the
// truncated haversine distances between consecutive points of each round.
// No distance is counted across a round boundary.
func (r *Race) TotalDistance() int {
	var total int
	for _, round := range r.rounds {
		total += round.distance()
	}
	return total
}

// AverageSpeed returns the mean of all recorded speeds in m/s, 0 without
// points.
func (r *Race) AverageSpeed() float64 {
	var (
		count int
		sum   float64
	)
	r.eachPoint(func(_ int, p Point) {
		count++
		sum += p.Speed
	})
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func (r *Race) eachPoint(fn func(round int, p Point)) {
	for i, round := range r.rounds {
		for _, p := range round.points {
			fn(i, p)
		}
	}
}

func (r *Round) distance() int {
	var total int
	for i := 0; i+1 < len(r.points); i++ {
		a, b := r.points[i], r.points[i+1]
		total += geo.DistanceMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	}
	return total
}

// Lap describes one round of a race.
type Lap struct {
	Number    int   `json:"number"`
	StartTime int64 `json:"startTime"`
	EndTime   int64 `json:"endTime"`
	// Duration is 0 while the round is running.
	Duration int64 `json:"duration"`
	Finished bool  `json:"finished"`
	Points   int   `json:"points"`
	Distance int   `json:"distance"`
}

// Laps returns per-round figures in chronological order, numbered from 1.
func (r *Race) Laps() []Lap {
	laps := make([]Lap, 0, len(r.rounds))
	for i, round := range r.rounds {
		d, ok := round.Duration()
		laps = append(laps, Lap{
			Number:    i + 1,
			StartTime: round.startTime,
			EndTime:   round.endTime,
			Duration:  d,
			Finished:  ok,
			Points:    len(round.points),
			Distance:  round.distance(),
		})
	}
	return laps
}

// RoundDurations returns the duration in seconds of every finished round in
// chronological order.
func (r *Race) RoundDurations() []int64 {
	var out []int64
	for _, round := range r.rounds {
		if d, ok := round.Duration(); ok {
			out = append(out, d)
		}
	}
	return out
}

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Path returns every recorded position in order, across all rounds.
func (r *Race) Path() []Coordinate {
	var path []Coordinate
	r.eachPoint(func(_ int, p Point) {
		path = append(path, Coordinate{Latitude: p.Latitude, Longitude: p.Longitude})
	})
	return path
}

// Summary is the set of derived race statistics.
type Summary struct {
	Name             string  `json:"name"`
	StartTime        int64   `json:"startTime"`
	EndTime          int64   `json:"endTime"`
	RoundCount       int     `json:"roundCount"`
	PointCount       int     `json:"pointCount"`
	TotalDistance    int     `json:"totalDistance"`
	AverageSpeed     float64 `json:"averageSpeed"`
	MaximumSpeed     float64 `json:"maximumSpeed"`
	MaxTilt          float64 `json:"maxTilt"`
	MaximumForce     float64 `json:"maximumForce"`
	FastestRoundTime int64   `json:"fastestRoundTime"`
	P50Speed         float64 `json:"p50Speed"`
	P85Speed         float64 `json:"p85Speed"`
	P98Speed         float64 `json:"p98Speed"`
}

// Summary computes every statistic in a single pass over the points.
func (r *Race) Summary() Summary {
	s := Summary{
		Name:             r.name,
		StartTime:        r.startTime,
		EndTime:          r.endTime,
		RoundCount:       len(r.rounds),
		FastestRoundTime: r.FastestRoundTime(),
	}

	var (
		sum    float64
		speeds []float64
	)
	for _, round := range r.rounds {
		for i, p := range round.points {
			s.PointCount++
			sum += p.Speed
			speeds = append(speeds, p.Speed)
			if p.Speed > s.MaximumSpeed {
				s.MaximumSpeed = p.Speed
			}
			if p.Tilt > s.MaxTilt {
				s.MaxTilt = p.Tilt
			}
			if p.GForce > s.MaximumForce {
				s.MaximumForce = p.GForce
			}
			if i+1 < len(round.points) {
				next := round.points[i+1]
				s.TotalDistance += geo.DistanceMeters(p.Latitude, p.Longitude, next.Latitude, next.Longitude)
			}
		}
	}

	if s.PointCount > 0 {
		s.AverageSpeed = sum / float64(s.PointCount)
		sort.Float64s(speeds)
		s.P50Speed = stat.Quantile(0.50, stat.Empirical, speeds, nil)
		s.P85Speed = stat.Quantile(0.85, stat.Empirical, speeds, nil)
		s.P98Speed = stat.Quantile(0.98, stat.Empirical, speeds, nil)
	}
	return s
}
