// Package geo provides great-circle distance helpers for facility ranking.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// ValidCoordinates reports whether lat/lng is a real point on the globe.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// DistanceKm returns the haversine distance between two points in kilometers.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// RoundKm rounds a distance to one decimal place.
func RoundKm(km float64) float64 {
	return math.Round(km*10) / 10
}

// FormatDistance renders a distance for display. Clients parse this text,
// so the format must not change.
func FormatDistance(km float64) string {
	if km < 1 {
		return fmt.Sprintf("%d m away", int64(math.Round(km*1000)))
	}
	return fmt.Sprintf("%.1f km away", km)
}
