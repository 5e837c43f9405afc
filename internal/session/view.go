package session

import (
	"github.com/banshee-data/racelog/internal/race"
	"github.com/banshee-data/racelog/internal/sensors"
)

// View receives best-effort notifications about the running session.
// Implementations must not block and must not call back into the controller
// or manager from inside a notification.
type View interface {
	OnGeneralRefresh(State)
	OnPositionRefresh(sensors.PositionEvent)
	OnRoundBoundary()
	OnRaceEnded(*race.Race)
	OnHistoryChanged()
}

// NopView discards every notification.
type NopView struct{}

func (NopView) OnGeneralRefresh(State)                  {}
func (NopView) OnPositionRefresh(sensors.PositionEvent) {}
func (NopView) OnRoundBoundary()                        {}
func (NopView) OnRaceEnded(*race.Race)                  {}
func (NopView) OnHistoryChanged()                       {}
