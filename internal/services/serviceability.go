package services

import (
	"math"

	domain "github.com/feastline/checkout/internal/domain"
)

const earthRadiusKm = 6371.0

// IsServiceable decides whether a branch can deliver to the user's location.
// Missing coordinates or a non-positive radius fail open: absent geo data
// means "unknown, do not block the user". A computed violation fails closed.
func IsServiceable(user, branch *domain.Coordinates, maxDistanceKm float64) bool {
	if user == nil || branch == nil || maxDistanceKm <= 0 {
		return true
	}
	return HaversineKm(*user, *branch) <= maxDistanceKm
}

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(a, b domain.Coordinates) float64 {
	latA := a.Latitude * math.Pi / 180
	latB := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(latA)*math.Cos(latB)*sinLng*sinLng
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
