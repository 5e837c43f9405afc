package session

import (
	"fmt"
)

// Phase is the recording phase of the session manager.
type Phase int

const (
	NotRacing Phase = iota
	Racing
)

func (p Phase) String() string {
	switch p {
	case NotRacing:
		return "not_racing"
	case Racing:
		return "racing"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is a snapshot of the live session. Values are SI: m/s, degrees and
// multiples of g. Times are elapsed seconds.
type State struct {
	SessionID string  `json:"sessionId,omitempty"`
	Phase     Phase   `json:"phase"`
	Name      string  `json:"name,omitempty"`
	StartTime int64   `json:"startTime,omitempty"`
	Rounds    int     `json:"rounds"`
	Points    int     `json:"points"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Speed     float64 `json:"speed"`
	MaxSpeed  float64 `json:"maxSpeed"`
	Tilt      float64 `json:"tilt"`
	MaxTilt   float64 `json:"maxTilt"`
	GForce    float64 `json:"gForce"`
	MaxGForce float64 `json:"maxGForce"`
	RoundTime int64   `json:"roundTime"`
	TotalTime int64   `json:"totalTime"`
}
