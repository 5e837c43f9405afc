package api

import (
	"time"

	"github.com/banshee-data/racelog/internal/race"
	"github.com/banshee-data/racelog/internal/session"
	"github.com/banshee-data/racelog/internal/units"
)

// Display holds presentation strings for a race in the requested unit system.
type Display struct {
	Units            string `json:"units"`
	Start            string `json:"start"`
	End              string `json:"end"`
	Distance         string `json:"distance"`
	AverageSpeed     string `json:"averageSpeed"`
	MaximumSpeed     string `json:"maximumSpeed"`
	MaxTilt          string `json:"maxTilt"`
	MaximumForce     string `json:"maximumForce"`
	FastestRoundTime string `json:"fastestRoundTime"`
}

// RaceView is a race summary as served by the history endpoints.
type RaceView struct {
	race.Summary
	Display *Display `json:"display,omitempty"`
}

// LapView is one lap with its formatted duration.
type LapView struct {
	race.Lap
	DurationText string `json:"durationText"`
}

// RaceDetail is the after-race view: summary, laps and the driven path.
type RaceDetail struct {
	RaceView
	Laps []LapView         `json:"laps"`
	Path []race.Coordinate `json:"path"`
}

// LiveView is the live state with its formatted counterparts.
type LiveView struct {
	session.State
	SpeedText     string `json:"speedText"`
	MaxSpeedText  string `json:"maxSpeedText"`
	TiltText      string `json:"tiltText"`
	MaxTiltText   string `json:"maxTiltText"`
	GForceText    string `json:"gForceText"`
	MaxGForceText string `json:"maxGForceText"`
	RoundTimeText string `json:"roundTimeText"`
	TotalTimeText string `json:"totalTimeText"`
}

func newDisplay(s race.Summary, system string, loc *time.Location) *Display {
	fastest := "-"
	if s.FastestRoundTime > 0 {
		fastest = units.FormatDuration(s.FastestRoundTime)
	}
	return &Display{
		Units:            system,
		Start:            units.FormatStartTime(s.StartTime, loc),
		End:              units.FormatEndTime(s.EndTime, loc),
		Distance:         units.FormatDistance(float64(s.TotalDistance), system),
		AverageSpeed:     units.FormatSpeed(s.AverageSpeed, system),
		MaximumSpeed:     units.FormatSpeed(s.MaximumSpeed, system),
		MaxTilt:          units.FormatTilt(s.MaxTilt),
		MaximumForce:     units.FormatGForce(s.MaximumForce),
		FastestRoundTime: fastest,
	}
}

func newRaceView(r *race.Race, system string, loc *time.Location) RaceView {
	s := r.Summary()
	return RaceView{Summary: s, Display: newDisplay(s, system, loc)}
}

func newRaceDetail(r *race.Race, system string, loc *time.Location) RaceDetail {
	laps := r.Laps()
	views := make([]LapView, 0, len(laps))
	for _, l := range laps {
		text := "-"
		if l.Finished {
			text = units.FormatDuration(l.Duration)
		}
		views = append(views, LapView{Lap: l, DurationText: text})
	}
	path := r.Path()
	if path == nil {
		path = []race.Coordinate{}
	}
	return RaceDetail{
		RaceView: newRaceView(r, system, loc),
		Laps:     views,
		Path:     path,
	}
}

func newLiveView(s session.State, system string) LiveView {
	return LiveView{
		State:         s,
		SpeedText:     units.FormatSpeed(s.Speed, system),
		MaxSpeedText:  units.FormatSpeed(s.MaxSpeed, system),
		TiltText:      units.FormatTilt(s.Tilt),
		MaxTiltText:   units.FormatTilt(s.MaxTilt),
		GForceText:    units.FormatGForce(s.GForce),
		MaxGForceText: units.FormatGForce(s.MaxGForce),
		RoundTimeText: units.FormatDuration(s.RoundTime),
		TotalTimeText: units.FormatDuration(s.TotalTime),
	}
}
