package race

import "github.com/banshee-data/racelog/internal/timeutil"

// Point is one fused sensor observation. Points are values: once appended to
// a Round they are never modified.
type Point struct {
	// Timestamp is the Unix second at which the point was committed.
	Timestamp int64   `json:"timestamp"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	// Speed is in m/s.
	Speed float64 `json:"speed"`
	// GForce is the acceleration magnitude in multiples of standard gravity.
	GForce float64 `json:"gForce"`
	// Tilt is in degrees.
	Tilt float64 `json:"tilt"`
}

func newPoint(clock timeutil.Clock, longitude, latitude, speed, gForce, tilt float64) Point {
	return Point{
		Timestamp: timeutil.UnixNow(clock),
		Longitude: longitude,
		Latitude:  latitude,
		Speed:     speed,
		GForce:    gForce,
		Tilt:      tilt,
	}
}
