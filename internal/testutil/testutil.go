// Package testutil provides shared test helpers: HTTP assertions, an
// in-memory race archive and a builder for recorded races.
package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/racelog/internal/race"
	"github.com/banshee-data/racelog/internal/timeutil"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertJSON checks that a recorded response is JSON with the given status.
func AssertJSON(t testing.TB, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	AssertStatusCode(t, rec.Code, status)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Fix is one recorded sample for RaceBuilder.
type Fix struct {
	Longitude, Latitude, Speed, GForce, Tilt float64
}

// RaceBuilder records a race against a mock clock, one second per fix.
type RaceBuilder struct {
	t     testing.TB
	clock *timeutil.MockClock
	race  *race.Race
}

// NewRace starts a race named name at Unix second start.
func NewRace(t testing.TB, name string, start int64) *RaceBuilder {
	t.Helper()
	clock := timeutil.NewMockClockUnix(start)
	return &RaceBuilder{t: t, clock: clock, race: race.New(name, clock)}
}

// Fixes records each fix in the active round, advancing the clock a second
// before each.
func (b *RaceBuilder) Fixes(fixes ...Fix) *RaceBuilder {
	b.t.Helper()
	for _, f := range fixes {
		b.clock.Advance(time.Second)
		if _, err := b.race.Update(f.Longitude, f.Latitude, f.Speed, f.GForce, f.Tilt); err != nil {
			b.t.Fatalf("record fix: %v", err)
		}
	}
	return b
}

// Wait advances the clock without recording.
func (b *RaceBuilder) Wait(d time.Duration) *RaceBuilder {
	b.clock.Advance(d)
	return b
}

// Lap closes the active round and starts the next.
func (b *RaceBuilder) Lap() *RaceBuilder {
	b.t.Helper()
	if _, err := b.race.NewRound(); err != nil {
		b.t.Fatalf("new round: %v", err)
	}
	return b
}

// Race returns the race still running.
func (b *RaceBuilder) Race() *race.Race { return b.race }

// End ends the race one second later and saves it to store.
func (b *RaceBuilder) End(store race.Store) *race.Race {
	b.t.Helper()
	b.clock.Advance(time.Second)
	if err := b.race.EndRace(context.Background(), store); err != nil {
		b.t.Fatalf("end race: %v", err)
	}
	return b.race
}

// MemoryArchive is an in-memory race archive holding encoded records, so a
// load always goes through the record codec.
type MemoryArchive struct {
	mu      sync.Mutex
	records map[int64][]byte

	// SaveErr, when set, fails every SaveRace.
	SaveErr error
}

// NewMemoryArchive returns an empty archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{records: make(map[int64][]byte)}
}

func (a *MemoryArchive) SaveRace(_ context.Context, r *race.Race) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.SaveErr != nil {
		return a.SaveErr
	}
	data, err := r.Encode()
	if err != nil {
		return err
	}
	a.records[r.StartTime()] = data
	return nil
}

// PutRecord stores raw record bytes, valid or not.
func (a *MemoryArchive) PutRecord(startTime int64, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[startTime] = append([]byte(nil), data...)
}

func (a *MemoryArchive) RaceRecord(_ context.Context, startTime int64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.records[startTime]
	if !ok {
		return nil, fmt.Errorf("%w: %d", race.ErrRaceNotFound, startTime)
	}
	return append([]byte(nil), data...), nil
}

func (a *MemoryArchive) Race(ctx context.Context, startTime int64) (*race.Race, error) {
	data, err := a.RaceRecord(ctx, startTime)
	if err != nil {
		return nil, err
	}
	return race.Decode(data)
}

func (a *MemoryArchive) starts() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	starts := make([]int64, 0, len(a.records))
	for s := range a.records {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts
}

func (a *MemoryArchive) Races(ctx context.Context) ([]*race.Race, error) {
	var out []*race.Race
	for _, s := range a.starts() {
		r, err := a.Race(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (a *MemoryArchive) LatestRace(ctx context.Context) (*race.Race, error) {
	starts := a.starts()
	if len(starts) == 0 {
		return nil, race.ErrRaceNotFound
	}
	return a.Race(ctx, starts[len(starts)-1])
}

// Len returns the number of stored records.
func (a *MemoryArchive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}
