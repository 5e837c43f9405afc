// Package sensors turns line-oriented serial streams into typed position and
// motion events. Sources parse the lines fanned out by a serialmux, apply
// report-interval throttling and fan the resulting events out to their own
// subscribers.
package sensors

import (
	"math"
	"time"
)

// PositionEvent is one GPS fix.
type PositionEvent struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	// Speed over ground in m/s.
	Speed float64 `json:"speed"`
	// Heading is the true course in degrees.
	Heading float64 `json:"heading"`
	// Accuracy is the estimated horizontal error in metres.
	Accuracy float64   `json:"accuracy"`
	Time     time.Time `json:"time"`
}

// Finite reports whether every numeric field is a finite number.
func (e PositionEvent) Finite() bool {
	return finite(e.Longitude, e.Latitude, e.Speed, e.Heading, e.Accuracy)
}

// MotionEvent is one accelerometer sample. Axes are in multiples of standard
// gravity.
type MotionEvent struct {
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	Z    float64   `json:"z"`
	Time time.Time `json:"time"`
}

// Finite reports whether every axis is a finite number.
func (e MotionEvent) Finite() bool {
	return finite(e.X, e.Y, e.Z)
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// LineSource is the part of a serial multiplexer a sensor source reads from.
type LineSource interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// Device is a serial device that accepts start-up commands.
type Device interface {
	Initialize(commands ...string) error
}
