// Package geo holds great-circle math over WGS 84 coordinates.
package geo

import (
	"math"

	"github.com/RefatHex/ResQ/internal/models"
)

// EarthRadiusKm is the mean Earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0

// DistanceKm returns the haversine distance between a and b in kilometers.
// Callers validate coordinates first; out-of-range input gives meaningless
// results.
func DistanceKm(a, b models.Coordinate) float64 {
	dLat := deg2rad(b.Latitude - a.Latitude)
	dLng := deg2rad(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(deg2rad(a.Latitude))*math.Cos(deg2rad(b.Latitude))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// OffsetNorth returns the point distanceKm due north of c along its meridian.
func OffsetNorth(c models.Coordinate, distanceKm float64) models.Coordinate {
	return models.Coordinate{
		Latitude:  c.Latitude + rad2deg(distanceKm/EarthRadiusKm),
		Longitude: c.Longitude,
	}
}

func deg2rad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func rad2deg(rad float64) float64 {
	return rad * 180.0 / math.Pi
}
