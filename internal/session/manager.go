package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/banshee-data/racelog/internal/monitoring"
	"github.com/banshee-data/racelog/internal/race"
	"github.com/banshee-data/racelog/internal/timeutil"
)

// MinNameLength is the shortest accepted race name, in characters.
const MinNameLength = 3

var (
	// ErrRaceActive is returned when a race is started while another one is
	// being recorded.
	ErrRaceActive = errors.New("a race is already active")

	// ErrNoActiveRace is returned by lap, end and discard requests while no
	// race is being recorded.
	ErrNoActiveRace = errors.New("no active race")

	// ErrInvalidName is returned for race names shorter than MinNameLength.
	ErrInvalidName = errors.New("invalid race name")
)

// Archive is durable keyed storage of finished races.
type Archive interface {
	race.Store
	// Race returns the race started at startTime or race.ErrRaceNotFound.
	Race(ctx context.Context, startTime int64) (*race.Race, error)
	// Races returns every stored race in ascending start time order.
	Races(ctx context.Context) ([]*race.Race, error)
	// LatestRace returns the most recently started race or
	// race.ErrRaceNotFound when the archive is empty.
	LatestRace(ctx context.Context) (*race.Race, error)
}

// ManagerOptions configures the sources and collaborators handed to every
// controller the manager starts.
type ManagerOptions struct {
	Positions PositionSource
	Motion    MotionSource
	View      View
	Clock     timeutil.Clock
}

// Manager owns the racing phase. It starts a controller per race, runs its
// event loop and awaits the durable write when the race ends.
type Manager struct {
	archive Archive
	opts    ManagerOptions

	mu      sync.Mutex
	phase   Phase
	current *Controller
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates an idle manager persisting to archive.
func NewManager(archive Archive, opts ManagerOptions) *Manager {
	if opts.View == nil {
		opts.View = NopView{}
	}
	return &Manager{archive: archive, opts: opts}
}

// Phase returns the current phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Start begins recording a race named name. The controller's event loop runs
// until the race ends or is discarded; it is not tied to ctx.
func (m *Manager) Start(ctx context.Context, name string) (State, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < MinNameLength {
		return State{}, fmt.Errorf("%w: %q must be at least %d characters", ErrInvalidName, name, MinNameLength)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == Racing {
		return State{}, ErrRaceActive
	}

	id := uuid.NewString()
	ctrl := NewController(name, Options{
		Positions: m.opts.Positions,
		Motion:    m.opts.Motion,
		View:      m.opts.View,
		Clock:     m.opts.Clock,
		SessionID: id,
	})
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ctrl.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("session %s: event loop stopped: %v", id, err)
		}
	}()

	m.phase, m.current, m.cancel, m.done = Racing, ctrl, cancel, done
	monitoring.Logf("session %s: race %q started", id, name)

	state := ctrl.State()
	m.opts.View.OnGeneralRefresh(state)
	return state, nil
}

// NewRound marks a lap boundary in the active race.
func (m *Manager) NewRound() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Racing {
		return ErrNoActiveRace
	}
	return m.current.NewRound()
}

// End ends the active race and waits for it to be written to the archive. The
// write is not cancelled with ctx. When the write fails the manager stays in
// the Racing phase with the ended race kept so End can be retried, or the race
// abandoned with Discard.
func (m *Manager) End(ctx context.Context) (*race.Race, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Racing {
		return nil, ErrNoActiveRace
	}

	ctrl := m.current
	if err := ctrl.End(context.WithoutCancel(ctx), m.archive); err != nil {
		monitoring.Logf("session %s: end race: %v", ctrl.SessionID(), err)
		return nil, err
	}
	m.teardownLocked()

	r := ctrl.Race()
	monitoring.Logf("session %s: race %q saved (%d rounds)", ctrl.SessionID(), r.Name(), r.RoundCount())
	m.opts.View.OnHistoryChanged()
	return r, nil
}

// Discard abandons the active race without writing it.
func (m *Manager) Discard() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Racing {
		return ErrNoActiveRace
	}
	ctrl := m.current
	m.teardownLocked()
	monitoring.Logf("session %s: race %q discarded", ctrl.SessionID(), ctrl.Race().Name())
	return nil
}

func (m *Manager) teardownLocked() {
	m.current.Stop()
	m.cancel()
	<-m.done
	m.phase, m.current, m.cancel, m.done = NotRacing, nil, nil, nil
}

// Current returns the live state, or a zero state in the NotRacing phase.
func (m *Manager) Current() State {
	m.mu.Lock()
	ctrl := m.current
	m.mu.Unlock()
	if ctrl == nil {
		return State{Phase: NotRacing}
	}
	return ctrl.State()
}

// History returns every archived race, newest first.
func (m *Manager) History(ctx context.Context) ([]*race.Race, error) {
	races, err := m.archive.Races(ctx)
	if err != nil {
		return nil, fmt.Errorf("list races: %w", err)
	}
	sort.SliceStable(races, func(i, j int) bool {
		return races[i].StartTime() > races[j].StartTime()
	})
	return races, nil
}

// Latest returns the most recently started archived race.
func (m *Manager) Latest(ctx context.Context) (*race.Race, error) {
	return m.archive.LatestRace(ctx)
}

// Race returns the archived race started at startTime.
func (m *Manager) Race(ctx context.Context, startTime int64) (*race.Race, error) {
	return m.archive.Race(ctx, startTime)
}
