package geo

import (
	"math"
	"testing"
)

func TestDistanceKm_KnownRoute(t *testing.T) {
	// Jakarta to Bandung is roughly 115-120 km.
	d := DistanceKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestDistanceKm_OneDegreeOfLongitudeAtEquator(t *testing.T) {
	want := EquatorialEarthRadiusKm * math.Pi / 180
	got := DistanceKm(0, 0, 0, 1)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("DistanceKm = %v, want %v", got, want)
	}
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	coords := [][4]float64{
		{48.2082, 16.3738, 47.0707, 15.4395},
		{0, 0, 0.001, 0.001},
		{-33.8688, 151.2093, 51.5074, -0.1278},
		{52.52, 13.405, 52.5201, 13.4051},
	}
	for _, c := range coords {
		ab := DistanceMeters(c[0], c[1], c[2], c[3])
		ba := DistanceMeters(c[2], c[3], c[0], c[1])
		if ab != ba {
			t.Errorf("DistanceMeters not symmetric for %v: %d != %d", c, ab, ba)
		}
	}
}

func TestDistanceMeters_SamePointIsZero(t *testing.T) {
	for _, c := range [][2]float64{{0, 0}, {48.2082, 16.3738}, {-90, 180}} {
		if d := DistanceMeters(c[0], c[1], c[0], c[1]); d != 0 {
			t.Errorf("DistanceMeters(%v, %v) = %d, want 0", c, c, d)
		}
	}
}

func TestDistanceMeters_Truncates(t *testing.T) {
	// 0.00006 degrees of longitude at the equator is ~6.68 m.
	if got := DistanceMeters(0, 0, 0, 0.00006); got != 6 {
		t.Errorf("DistanceMeters = %d, want 6", got)
	}
}
