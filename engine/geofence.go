package engine

import "math"

const earthRadiusMeters = 6371000

// HaversineMeters returns the great-circle distance between two points in
// meters.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// WithinRadius reports whether the verifier position is within radiusMeters
// of the issue position.
func WithinRadius(issueLat, issueLng, verifierLat, verifierLng, radiusMeters float64) bool {
	return HaversineMeters(issueLat, issueLng, verifierLat, verifierLng) <= radiusMeters
}
