// Package session fuses live sensor events into a recorded race. A Controller
// owns one race from start to end; the Manager holds the racing phase and at
// most one controller at a time.
package session

import (
	"context"
	"math"
	"sync"

	"github.com/banshee-data/racelog/internal/monitoring"
	"github.com/banshee-data/racelog/internal/race"
	"github.com/banshee-data/racelog/internal/sensors"
	"github.com/banshee-data/racelog/internal/timeutil"
)

// PositionSource is a subscribable stream of GPS fixes.
type PositionSource interface {
	SubscribePositions() (string, <-chan sensors.PositionEvent)
	Unsubscribe(id string)
}

// MotionSource is a subscribable stream of accelerometer samples.
type MotionSource interface {
	SubscribeMotion() (string, <-chan sensors.MotionEvent)
	Unsubscribe(id string)
}

// Options configures a Controller. Nil sources are treated as silent streams.
type Options struct {
	Positions PositionSource
	Motion    MotionSource
	View      View
	Clock     timeutil.Clock
	// SessionID tags log lines and live state.
	SessionID string
}

// Controller records one race. Every event is handled to completion under the
// controller's lock, whether it arrives through Run or a direct call.
type Controller struct {
	id        string
	view      View
	positions PositionSource
	motion    MotionSource

	posID     string
	posCh     <-chan sensors.PositionEvent
	motionID  string
	motionCh  <-chan sensors.MotionEvent
	stop      chan struct{}
	stopOnce  sync.Once
	unsubOnce sync.Once

	mu      sync.Mutex
	race    *race.Race
	stopped bool
	ended   bool
	// hasFix is false until the first position arrives, which always
	// records a point, even at (0, 0).
	hasFix  bool

	longitude float64
	latitude  float64
	speed     float64
	maxSpeed  float64
	tilt      float64
	maxTilt   float64
	gForce    float64
	maxGForce float64
}

// NewController starts a race named name and subscribes to the configured
// sources. Events are only consumed once Run is called.
func NewController(name string, opts Options) *Controller {
	if opts.View == nil {
		opts.View = NopView{}
	}
	c := &Controller{
		id:        opts.SessionID,
		view:      opts.View,
		positions: opts.Positions,
		motion:    opts.Motion,
		stop:      make(chan struct{}),
		race:      race.New(name, opts.Clock),
	}
	if c.positions != nil {
		c.posID, c.posCh = c.positions.SubscribePositions()
	}
	if c.motion != nil {
		c.motionID, c.motionCh = c.motion.SubscribeMotion()
	}
	return c
}

// Run dispatches sensor events one at a time until ctx is done or the
// controller is stopped. A closed subscription is simply no longer read.
func (c *Controller) Run(ctx context.Context) error {
	positions, motion := c.posCh, c.motionCh
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case ev, ok := <-positions:
			if !ok {
				positions = nil
				continue
			}
			c.HandlePosition(ev)
		case ev, ok := <-motion:
			if !ok {
				motion = nil
				continue
			}
			c.HandleMotion(ev)
		}
	}
}

// HandlePosition fuses a GPS fix. A point is recorded only when the longitude
// or latitude differs from the previous fix; otherwise the fix updates the
// stored coordinates and nothing else. It reports whether a point was
// recorded.
func (c *Controller) HandlePosition(ev sensors.PositionEvent) bool {
	if !ev.Finite() {
		monitoring.Logf("session %s: dropping non-finite position %+v", c.id, ev)
		return false
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	changed := !c.hasFix || ev.Longitude != c.longitude || ev.Latitude != c.latitude
	c.longitude, c.latitude, c.hasFix = ev.Longitude, ev.Latitude, true
	if !changed {
		c.mu.Unlock()
		return false
	}

	c.speed = ev.Speed
	if c.speed > c.maxSpeed {
		c.maxSpeed = c.speed
	}
	if _, err := c.race.Update(ev.Longitude, ev.Latitude, c.speed, c.gForce, c.tilt); err != nil {
		c.mu.Unlock()
		monitoring.Logf("session %s: record position: %v", c.id, err)
		return false
	}
	state := c.stateLocked()
	c.mu.Unlock()

	c.view.OnGeneralRefresh(state)
	c.view.OnPositionRefresh(ev)
	return true
}

// HandleMotion updates the current tilt and G-force and their maxima. Motion
// alone never records a point; the values are embedded in the next recorded
// position.
func (c *Controller) HandleMotion(ev sensors.MotionEvent) {
	if !ev.Finite() {
		monitoring.Logf("session %s: dropping non-finite motion %+v", c.id, ev)
		return
	}
	tilt := math.Abs(ev.X) * 90
	gForce := math.Sqrt(ev.X*ev.X + ev.Y*ev.Y + ev.Z*ev.Z)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if tilt > c.maxTilt {
		c.maxTilt = tilt
	}
	if gForce > c.maxGForce {
		c.maxGForce = gForce
	}
	c.tilt, c.gForce = tilt, gForce
	state := c.stateLocked()
	c.mu.Unlock()

	c.view.OnGeneralRefresh(state)
}

// NewRound marks a lap boundary.
func (c *Controller) NewRound() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return race.ErrRaceFinished
	}
	_, err := c.race.NewRound()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.view.OnRoundBoundary()
	return nil
}

// End stops event handling, releases both subscriptions and then ends and
// persists the race. If the write fails the race stays intact and End may be
// called again to retry it.
func (c *Controller) End(ctx context.Context, store race.Store) error {
	c.Stop()

	c.mu.Lock()
	err := c.race.EndRace(ctx, store)
	if err == nil {
		c.ended = true
	}
	r := c.race
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.view.OnRaceEnded(r)
	return nil
}

// Stop ends event handling without touching the race. It is safe to call
// more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	c.unsubOnce.Do(func() {
		if c.positions != nil {
			c.positions.Unsubscribe(c.posID)
		}
		if c.motion != nil {
			c.motion.Unsubscribe(c.motionID)
		}
	})
	c.stopOnce.Do(func() { close(c.stop) })
}

// Ended reports whether the race has been ended and persisted.
func (c *Controller) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// Race returns the recorded race. It must not be modified while the
// controller is running.
func (c *Controller) Race() *race.Race {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.race
}

// SessionID returns the identifier given in Options.
func (c *Controller) SessionID() string { return c.id }

// State returns a snapshot of the live values.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	s := State{
		SessionID: c.id,
		Phase:     Racing,
		Name:      c.race.Name(),
		StartTime: c.race.StartTime(),
		Rounds:    c.race.RoundCount(),
		Longitude: c.longitude,
		Latitude:  c.latitude,
		Speed:     c.speed,
		MaxSpeed:  c.maxSpeed,
		Tilt:      c.tilt,
		MaxTilt:   c.maxTilt,
		GForce:    c.gForce,
		MaxGForce: c.maxGForce,
		RoundTime: c.race.RoundTime(),
		TotalTime: c.race.TotalTime(),
	}
	for _, round := range c.race.Rounds() {
		s.Points += round.Len()
	}
	return s
}

// Speed returns the speed of the last recorded fix in m/s.
func (c *Controller) Speed() float64 { return c.State().Speed }

// MaxSpeed returns the highest recorded speed in m/s.
func (c *Controller) MaxSpeed() float64 { return c.State().MaxSpeed }

// Tilt returns the current tilt in degrees.
func (c *Controller) Tilt() float64 { return c.State().Tilt }

// MaxTilt returns the highest tilt seen in degrees.
func (c *Controller) MaxTilt() float64 { return c.State().MaxTilt }

// GForce returns the current acceleration magnitude in g.
func (c *Controller) GForce() float64 { return c.State().GForce }

// MaxGForce returns the highest acceleration magnitude seen in g.
func (c *Controller) MaxGForce() float64 { return c.State().MaxGForce }

// RoundTime returns the seconds elapsed in the current lap.
func (c *Controller) RoundTime() int64 { return c.State().RoundTime }

// TotalTime returns the seconds elapsed since the race started.
func (c *Controller) TotalTime() int64 { return c.State().TotalTime }
