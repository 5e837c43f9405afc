package race

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/racelog/internal/geo"
	"github.com/banshee-data/racelog/internal/timeutil"
)

func TestStatistics_EmptyRace(t *testing.T) {
	r := New("Empty", timeutil.NewMockClockUnix(testStart))

	assert.Zero(t, r.MaximumSpeed())
	assert.Zero(t, r.MaxTilt())
	assert.Zero(t, r.MaximumForce())
	assert.Zero(t, r.AverageSpeed())
	assert.Zero(t, r.TotalDistance())
	assert.Zero(t, r.FastestRoundTime(), "running round must not count")
	assert.Empty(t, r.Path())

	s := r.Summary()
	assert.Zero(t, s.PointCount)
	assert.Zero(t, s.P85Speed)
	assert.Equal(t, 1, s.RoundCount)
}

func TestStatistics_DecodedRaceWithoutRounds(t *testing.T) {
	r, err := Decode([]byte(`{"startTime": 5, "endTime": 9, "name": "x"}`))
	require.NoError(t, err)

	assert.Zero(t, r.RoundCount())
	assert.Zero(t, r.FastestRoundTime())
	assert.Zero(t, r.AverageSpeed())
	assert.Zero(t, r.TotalDistance())
	assert.Equal(t, int64(4), r.TotalTime())
}

func TestAverageSpeed(t *testing.T) {
	r := New("Avg", timeutil.NewMockClockUnix(testStart))
	for i, speed := range []float64{2, 4, 6} {
		_, err := r.Update(float64(i), 0, speed, 1, 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 4.0, r.AverageSpeed())
	assert.Equal(t, 4.0, r.Summary().AverageSpeed)
}

func TestAverageSpeed_AcrossRounds(t *testing.T) {
	r := New("Avg", timeutil.NewMockClockUnix(testStart))
	_, err := r.Update(0, 0, 10, 1, 0)
	require.NoError(t, err)
	_, err = r.NewRound()
	require.NoError(t, err)
	_, err = r.Update(0, 0, 20, 1, 0)
	require.NoError(t, err)
	_, err = r.Update(0, 0, 30, 1, 0)
	require.NoError(t, err)

	assert.Equal(t, 20.0, r.AverageSpeed())
}

func TestMaxima(t *testing.T) {
	r := New("Max", timeutil.NewMockClockUnix(testStart))
	points := [][5]float64{
		{0, 0, 12.5, 1.2, 10},
		{0, 1, 30.1, 0.9, 45},
		{0, 2, 18.0, 2.4, 5},
	}
	for i, p := range points {
		if i == 2 {
			_, err := r.NewRound()
			require.NoError(t, err)
		}
		_, err := r.Update(p[0], p[1], p[2], p[3], p[4])
		require.NoError(t, err)
	}

	assert.Equal(t, 30.1, r.MaximumSpeed())
	assert.Equal(t, 45.0, r.MaxTilt())
	assert.Equal(t, 2.4, r.MaximumForce())

	s := r.Summary()
	assert.Equal(t, 30.1, s.MaximumSpeed)
	assert.Equal(t, 45.0, s.MaxTilt)
	assert.Equal(t, 2.4, s.MaximumForce)
	assert.Equal(t, 3, s.PointCount)
	assert.Equal(t, 2, s.RoundCount)
}

func TestFastestRoundTime(t *testing.T) {
	clock := timeutil.NewMockClockUnix(testStart)
	r := New("Laps", clock)
	for i, d := range []time.Duration{30, 10, 45} {
		if i > 0 {
			_, err := r.NewRound()
			require.NoError(t, err)
		}
		clock.Advance(d * time.Second)
	}
	require.NoError(t, r.EndRace(context.Background(), newMemStore()))

	assert.Equal(t, int64(10), r.FastestRoundTime())
	assert.Equal(t, int64(10), r.Summary().FastestRoundTime)

	laps := r.Laps()
	require.Len(t, laps, 3)
	assert.Equal(t, []int64{30, 10, 45}, []int64{laps[0].Duration, laps[1].Duration, laps[2].Duration})
	assert.Equal(t, 2, laps[1].Number)
	assert.Equal(t, []int64{30, 10, 45}, r.RoundDurations())
}

func TestFastestRoundTime_ExcludesRunningRound(t *testing.T) {
	clock := timeutil.NewMockClockUnix(testStart)
	r := New("Laps", clock)
	clock.Advance(30 * time.Second)
	_, err := r.NewRound()
	require.NoError(t, err)
	clock.Advance(5 * time.Second)

	// The running round is shorter so far but has no end time.
	assert.Equal(t, int64(30), r.FastestRoundTime())
	assert.Equal(t, []int64{30}, r.RoundDurations())

	laps := r.Laps()
	assert.False(t, laps[1].Finished)
	assert.Zero(t, laps[1].Duration)
}

func TestTotalDistance_ColinearPoints(t *testing.T) {
	r := New("Distance", timeutil.NewMockClockUnix(testStart))
	coords := [][2]float64{{0, 0}, {0, 0.001}, {0, 0.002}} // lat, lon
	for _, c := range coords {
		_, err := r.Update(c[1], c[0], 1, 1, 0)
		require.NoError(t, err)
	}

	want := geo.DistanceMeters(0, 0, 0, 0.001) + geo.DistanceMeters(0, 0.001, 0, 0.002)
	assert.Equal(t, want, r.TotalDistance())
	assert.Equal(t, 222, r.TotalDistance())
	assert.Equal(t, want, r.Summary().TotalDistance)
}

func TestTotalDistance_NoSegmentAcrossRounds(t *testing.T) {
	r := New("Distance", timeutil.NewMockClockUnix(testStart))
	_, err := r.Update(0, 0, 1, 1, 0)
	require.NoError(t, err)
	_, err = r.Update(0.001, 0, 1, 1, 0)
	require.NoError(t, err)
	_, err = r.NewRound()
	require.NoError(t, err)
	// A far-away first point of the next lap adds nothing on its own.
	_, err = r.Update(10, 10, 1, 1, 0)
	require.NoError(t, err)

	assert.Equal(t, geo.DistanceMeters(0, 0, 0, 0.001), r.TotalDistance())

	laps := r.Laps()
	assert.Equal(t, 111, laps[0].Distance)
	assert.Zero(t, laps[1].Distance)
}

func TestSummary_SpeedPercentiles(t *testing.T) {
	r := New("Percentiles", timeutil.NewMockClockUnix(testStart))
	for i := 1; i <= 100; i++ {
		_, err := r.Update(float64(i)/1000, 0, float64(101-i), 1, 0)
		require.NoError(t, err)
	}

	s := r.Summary()
	assert.Equal(t, 50.0, s.P50Speed)
	assert.Equal(t, 85.0, s.P85Speed)
	assert.Equal(t, 98.0, s.P98Speed)
	assert.Equal(t, 50.5, s.AverageSpeed)
}

func TestPath(t *testing.T) {
	r := New("Path", timeutil.NewMockClockUnix(testStart))
	_, err := r.Update(16.1, 48.1, 0, 1, 0)
	require.NoError(t, err)
	_, err = r.NewRound()
	require.NoError(t, err)
	_, err = r.Update(16.2, 48.2, 0, 1, 0)
	require.NoError(t, err)

	assert.Equal(t, []Coordinate{
		{Latitude: 48.1, Longitude: 16.1},
		{Latitude: 48.2, Longitude: 16.2},
	}, r.Path())
}
