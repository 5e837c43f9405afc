// Package geo provides great-circle distance helpers for latitude/longitude
// coordinates expressed in degrees.
package geo

import "math"

// EquatorialEarthRadiusKm is the equatorial radius used for all distances.
const EquatorialEarthRadiusKm = 6378.137

const degToRad = math.Pi / 180

// DistanceKm returns the haversine distance in kilometres between two
// coordinates.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLon := (lon2 - lon1) * degToRad
	dLat := (lat2 - lat1) * degToRad
	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Pow(math.Sin(dLon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EquatorialEarthRadiusKm * c
}

// DistanceMeters returns the haversine distance in whole metres. The result is
// truncated, not rounded, so summed totals stay comparable with stored races.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) int {
	return int(1000 * DistanceKm(lat1, lon1, lat2, lon2))
}
