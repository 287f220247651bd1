package routing

import (
	"math"

	"kunjungan-backend/internal/models"
)

const earthRadiusMeters = 6371000.0

// HaversineMeters calculates the great-circle distance between two GPS
// coordinates in meters.
func HaversineMeters(a, b models.Coordinate) float64 {
	lat1Rad := a.Lat * math.Pi / 180
	lat2Rad := b.Lat * math.Pi / 180
	deltaLat := (b.Lat - a.Lat) * math.Pi / 180
	deltaLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// WithinRadius reports whether b lies inside the circular geofence of the
// given radius around a. Acceptance is purely a function of the two points
// and the radius, and is monotonic in the radius.
func WithinRadius(a, b models.Coordinate, radiusMeters float64) bool {
	return HaversineMeters(a, b) <= radiusMeters
}
