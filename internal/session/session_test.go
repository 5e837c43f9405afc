package session

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/racelog/internal/race"
	"github.com/banshee-data/racelog/internal/sensors"
	"github.com/banshee-data/racelog/internal/timeutil"
)

const testStart = 1700000000

// recorder is a View that counts notifications.
type recorder struct {
	mu       sync.Mutex
	general  []State
	position []sensors.PositionEvent
	rounds   int
	ended    []*race.Race
	history  int
}

func (r *recorder) OnGeneralRefresh(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.general = append(r.general, s)
}

func (r *recorder) OnPositionRefresh(ev sensors.PositionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position = append(r.position, ev)
}

func (r *recorder) OnRoundBoundary() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds++
}

func (r *recorder) OnRaceEnded(rc *race.Race) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, rc)
}

func (r *recorder) OnHistoryChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history++
}

func (r *recorder) counts() (general, position, rounds, ended, history int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.general), len(r.position), r.rounds, len(r.ended), r.history
}

// fakeSources implements both PositionSource and MotionSource.
type fakeSources struct {
	mu           sync.Mutex
	positions    chan sensors.PositionEvent
	motion       chan sensors.MotionEvent
	unsubscribed map[string]bool
}

func newFakeSources() *fakeSources {
	return &fakeSources{
		positions:    make(chan sensors.PositionEvent, 8),
		motion:       make(chan sensors.MotionEvent, 8),
		unsubscribed: make(map[string]bool),
	}
}

func (f *fakeSources) SubscribePositions() (string, <-chan sensors.PositionEvent) {
	return "positions", f.positions
}

func (f *fakeSources) SubscribeMotion() (string, <-chan sensors.MotionEvent) {
	return "motion", f.motion
}

func (f *fakeSources) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsubscribed[id] {
		return
	}
	f.unsubscribed[id] = true
	switch id {
	case "positions":
		close(f.positions)
	case "motion":
		close(f.motion)
	}
}

func (f *fakeSources) released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed["positions"] && f.unsubscribed["motion"]
}

// memArchive is an in-memory Archive.
type memArchive struct {
	mu    sync.Mutex
	races map[int64][]byte
	err   error
	// onSave runs before every write.
	onSave func()
}

func newMemArchive() *memArchive {
	return &memArchive{races: make(map[int64][]byte)}
}

func (a *memArchive) SaveRace(_ context.Context, r *race.Race) error {
	if a.onSave != nil {
		a.onSave()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	data, err := r.Encode()
	if err != nil {
		return err
	}
	a.races[r.StartTime()] = data
	return nil
}

func (a *memArchive) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *memArchive) Race(_ context.Context, start int64) (*race.Race, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.races[start]
	if !ok {
		return nil, race.ErrRaceNotFound
	}
	return race.Decode(data)
}

func (a *memArchive) Races(ctx context.Context) ([]*race.Race, error) {
	a.mu.Lock()
	keys := make([]int64, 0, len(a.races))
	for k := range a.races {
		keys = append(keys, k)
	}
	a.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var out []*race.Race
	for _, k := range keys {
		r, err := a.Race(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (a *memArchive) LatestRace(ctx context.Context) (*race.Race, error) {
	races, err := a.Races(ctx)
	if err != nil {
		return nil, err
	}
	if len(races) == 0 {
		return nil, race.ErrRaceNotFound
	}
	return races[len(races)-1], nil
}

func newTestController(view View) (*Controller, *timeutil.MockClock) {
	clock := timeutil.NewMockClockUnix(testStart)
	return NewController("Test Run", Options{View: view, Clock: clock, SessionID: "test"}), clock
}

func TestController_TestRunScenario(t *testing.T) {
	view := &recorder{}
	c, _ := newTestController(view)

	assert.True(t, c.HandlePosition(sensors.PositionEvent{Latitude: 0, Longitude: 0, Speed: 5}))
	assert.Equal(t, 5.0, c.MaxSpeed())
	assert.Equal(t, 1, c.State().Points)

	// Same coordinates, higher speed: nothing is recorded and the maximum holds.
	assert.False(t, c.HandlePosition(sensors.PositionEvent{Latitude: 0, Longitude: 0, Speed: 9}))
	assert.Equal(t, 5.0, c.MaxSpeed())
	assert.Equal(t, 5.0, c.Speed())
	assert.Equal(t, 1, c.State().Points)

	general, position, _, _, _ := view.counts()
	assert.Equal(t, 1, general)
	assert.Equal(t, 1, position)

	points := c.Race().ActiveRound().Points()
	require.Len(t, points, 1)
	assert.Equal(t, race.Point{Timestamp: testStart, Speed: 5}, points[0])
}

func TestController_PositionChangeRecordsFusedPoint(t *testing.T) {
	c, clock := newTestController(nil)

	c.HandleMotion(sensors.MotionEvent{X: 0.5, Y: 0, Z: 1})
	assert.Equal(t, 45.0, c.Tilt())
	assert.InDelta(t, math.Sqrt(1.25), c.GForce(), 1e-9)
	assert.Zero(t, c.State().Points, "motion alone never records a point")

	clock.Advance(time.Second)
	require.True(t, c.HandlePosition(sensors.PositionEvent{Latitude: 48.1, Longitude: 11.5, Speed: 12, Heading: 90}))

	c.HandleMotion(sensors.MotionEvent{X: -0.1, Y: 0, Z: 1})
	assert.InDelta(t, 9.0, c.Tilt(), 1e-9)
	assert.Equal(t, 45.0, c.MaxTilt())
	assert.InDelta(t, math.Sqrt(1.25), c.MaxGForce(), 1e-9)

	// Only latitude changes.
	require.True(t, c.HandlePosition(sensors.PositionEvent{Latitude: 48.2, Longitude: 11.5, Speed: 10}))
	assert.Equal(t, 12.0, c.MaxSpeed())
	assert.Equal(t, 10.0, c.Speed())

	points := c.Race().ActiveRound().Points()
	require.Len(t, points, 2)
	assert.Equal(t, 45.0, points[0].Tilt)
	assert.InDelta(t, math.Sqrt(1.25), points[0].GForce, 1e-9)
	assert.Equal(t, int64(testStart+1), points[0].Timestamp)
	assert.InDelta(t, 9.0, points[1].Tilt, 1e-9)
	assert.InDelta(t, math.Sqrt(1.01), points[1].GForce, 1e-9)
}

func TestController_DropsNonFiniteEvents(t *testing.T) {
	view := &recorder{}
	c, _ := newTestController(view)

	assert.False(t, c.HandlePosition(sensors.PositionEvent{Latitude: math.NaN(), Speed: 3}))
	c.HandleMotion(sensors.MotionEvent{X: math.Inf(1)})

	assert.Zero(t, c.State().Points)
	assert.Zero(t, c.MaxTilt())
	general, _, _, _, _ := view.counts()
	assert.Zero(t, general)

	assert.True(t, c.HandlePosition(sensors.PositionEvent{Latitude: 1, Speed: 3}))
}

func TestController_NewRound(t *testing.T) {
	view := &recorder{}
	c, clock := newTestController(view)

	clock.Advance(30 * time.Second)
	assert.Equal(t, int64(30), c.RoundTime())
	require.NoError(t, c.NewRound())
	assert.Zero(t, c.RoundTime())
	assert.Equal(t, int64(30), c.TotalTime())
	assert.Equal(t, 2, c.State().Rounds)

	_, _, rounds, _, _ := view.counts()
	assert.Equal(t, 1, rounds)
}

func TestController_EndUnsubscribesBeforePersisting(t *testing.T) {
	sources := newFakeSources()
	view := &recorder{}
	archive := newMemArchive()
	var releasedAtSave bool
	archive.onSave = func() { releasedAtSave = sources.released() }

	c := NewController("Test Run", Options{
		Positions: sources,
		Motion:    sources,
		View:      view,
		Clock:     timeutil.NewMockClockUnix(testStart),
	})
	require.True(t, c.HandlePosition(sensors.PositionEvent{Latitude: 1, Longitude: 1, Speed: 2}))

	require.NoError(t, c.End(context.Background(), archive))
	assert.True(t, releasedAtSave, "sources must be released before the race is written")
	assert.True(t, c.Ended())
	assert.True(t, c.Race().Finished())

	_, _, _, ended, _ := view.counts()
	assert.Equal(t, 1, ended)

	// Late events are ignored.
	assert.False(t, c.HandlePosition(sensors.PositionEvent{Latitude: 2, Longitude: 2, Speed: 50}))
	assert.Equal(t, 2.0, c.MaxSpeed())
	assert.ErrorIs(t, c.NewRound(), race.ErrRaceFinished)
}

func TestController_EndRetryAfterWriteFailure(t *testing.T) {
	view := &recorder{}
	c, clock := newTestController(view)
	archive := newMemArchive()
	archive.setErr(errors.New("disk full"))

	err := c.End(context.Background(), archive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, c.Ended())
	endTime := c.Race().EndTime()
	_, _, _, ended, _ := view.counts()
	assert.Zero(t, ended)

	clock.Advance(time.Minute)
	archive.setErr(nil)
	require.NoError(t, c.End(context.Background(), archive))
	assert.Equal(t, endTime, c.Race().EndTime(), "retry must not move the end time")
	_, err = archive.Race(context.Background(), testStart)
	assert.NoError(t, err)
}

func TestController_Run(t *testing.T) {
	sources := newFakeSources()
	c := NewController("Loop", Options{Positions: sources, Motion: sources, Clock: timeutil.NewMockClockUnix(testStart)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	sources.motion <- sensors.MotionEvent{X: 1}
	sources.positions <- sensors.PositionEvent{Latitude: 1, Longitude: 1, Speed: 4}
	sources.positions <- sensors.PositionEvent{Latitude: 1, Longitude: 2, Speed: 6}

	assert.Eventually(t, func() bool {
		s := c.State()
		return s.Points == 2 && s.MaxTilt == 90
	}, time.Second, 5*time.Millisecond)

	c.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.True(t, sources.released())
}

func TestManager_IllegalStates(t *testing.T) {
	m := NewManager(newMemArchive(), ManagerOptions{Clock: timeutil.NewMockClockUnix(testStart)})
	ctx := context.Background()

	_, err := m.End(ctx)
	assert.ErrorIs(t, err, ErrNoActiveRace)
	assert.ErrorIs(t, m.NewRound(), ErrNoActiveRace)
	assert.ErrorIs(t, m.Discard(), ErrNoActiveRace)

	_, err = m.Start(ctx, "ab")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = m.Start(ctx, "   ab   ")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Equal(t, NotRacing, m.Phase())

	state, err := m.Start(ctx, "Test Run")
	require.NoError(t, err)
	assert.Equal(t, Racing, state.Phase)
	assert.NotEmpty(t, state.SessionID)

	_, err = m.Start(ctx, "Second")
	assert.ErrorIs(t, err, ErrRaceActive)
	assert.Equal(t, "Test Run", m.Current().Name)

	require.NoError(t, m.Discard())
}

func TestManager_Lifecycle(t *testing.T) {
	archive := newMemArchive()
	view := &recorder{}
	clock := timeutil.NewMockClockUnix(testStart)
	m := NewManager(archive, ManagerOptions{View: view, Clock: clock})
	ctx := context.Background()

	assert.Equal(t, State{Phase: NotRacing}, m.Current())
	_, err := m.Latest(ctx)
	assert.ErrorIs(t, err, race.ErrRaceNotFound)

	for i, name := range []string{"Morning", "Afternoon"} {
		_, err := m.Start(ctx, name)
		require.NoError(t, err)
		clock.Advance(20 * time.Second)
		require.NoError(t, m.NewRound())
		clock.Advance(10 * time.Second)

		r, err := m.End(ctx)
		require.NoError(t, err)
		assert.Equal(t, name, r.Name())
		assert.Equal(t, int64(10), r.FastestRoundTime())
		assert.Equal(t, NotRacing, m.Phase())

		_, _, _, _, history := view.counts()
		assert.Equal(t, i+1, history)
		clock.Advance(time.Hour)
	}

	races, err := m.History(ctx)
	require.NoError(t, err)
	require.Len(t, races, 2)
	assert.Equal(t, "Afternoon", races[0].Name())
	assert.Equal(t, "Morning", races[1].Name())

	latest, err := m.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Afternoon", latest.Name())

	first, err := m.Race(ctx, testStart)
	require.NoError(t, err)
	assert.Equal(t, "Morning", first.Name())
	assert.Equal(t, 2, first.RoundCount())
}

func TestManager_EndFailureKeepsRacing(t *testing.T) {
	archive := newMemArchive()
	view := &recorder{}
	m := NewManager(archive, ManagerOptions{View: view, Clock: timeutil.NewMockClockUnix(testStart)})
	ctx := context.Background()

	_, err := m.Start(ctx, "Fragile")
	require.NoError(t, err)

	archive.setErr(errors.New("database is locked"))
	_, err = m.End(ctx)
	require.Error(t, err)
	assert.Equal(t, Racing, m.Phase())
	_, err = m.Start(ctx, "Other")
	assert.ErrorIs(t, err, ErrRaceActive)
	_, _, _, _, history := view.counts()
	assert.Zero(t, history)

	archive.setErr(nil)
	r, err := m.End(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Fragile", r.Name())
	assert.Equal(t, NotRacing, m.Phase())
}

func TestManager_DiscardAfterFailure(t *testing.T) {
	archive := newMemArchive()
	archive.setErr(errors.New("read-only file system"))
	m := NewManager(archive, ManagerOptions{Clock: timeutil.NewMockClockUnix(testStart)})
	ctx := context.Background()

	_, err := m.Start(ctx, "Doomed")
	require.NoError(t, err)
	_, err = m.End(ctx)
	require.Error(t, err)

	require.NoError(t, m.Discard())
	assert.Equal(t, NotRacing, m.Phase())
	races, err := m.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, races)
}

func TestManager_StartedRaceReceivesEvents(t *testing.T) {
	sources := newFakeSources()
	m := NewManager(newMemArchive(), ManagerOptions{
		Positions: sources,
		Motion:    sources,
		Clock:     timeutil.NewMockClockUnix(testStart),
	})
	ctx := context.Background()

	_, err := m.Start(ctx, "Live")
	require.NoError(t, err)
	sources.positions <- sensors.PositionEvent{Latitude: 3, Longitude: 4, Speed: 7}

	assert.Eventually(t, func() bool { return m.Current().Points == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 7.0, m.Current().MaxSpeed)

	_, err = m.End(ctx)
	require.NoError(t, err)
	assert.True(t, sources.released())
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "racing", Racing.String())
	assert.Equal(t, "not_racing", NotRacing.String())
	text, err := Racing.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "racing", string(text))
}
