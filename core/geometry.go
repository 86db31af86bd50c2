package core

import (
	"math"

	"github.com/signalsfoundry/airspace-sentinel/model"
)

// EarthRadiusKm is the mean Earth radius used for all great-circle
// calculations (kilometres).
const EarthRadiusKm = 6371.0

const degToRad = math.Pi / 180.0

// DistanceKm returns the haversine great-circle distance between a and b in
// kilometres. It returns exactly 0 when a == b and is safe for concurrent use.
func DistanceKm(a, b model.Coordinate) float64 {
	if a == b {
		return 0
	}

	lat1 := a.Latitude * degToRad
	lat2 := b.Latitude * degToRad
	dLat := (b.Latitude - a.Latitude) * degToRad
	dLon := (b.Longitude - a.Longitude) * degToRad

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	// Rounding can push h slightly outside [0,1] near antipodal points, which
	// would make sqrt(1-h) NaN.
	if h > 1 {
		h = 1
	} else if h < 0 {
		h = 0
	}

	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Destination returns the point reached by travelling distanceKm from start
// along the initial bearing bearingDeg (clockwise from true north). Longitude
// is normalised to [-180, 180].
func Destination(start model.Coordinate, bearingDeg, distanceKm float64) model.Coordinate {
	lat1 := start.Latitude * degToRad
	lon1 := start.Longitude * degToRad
	brg := bearingDeg * degToRad
	ang := distanceKm / EarthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(
		math.Sin(brg)*math.Sin(ang)*math.Cos(lat1),
		math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2),
	)

	lon := lon2 / degToRad
	lon = math.Mod(lon+540, 360) - 180

	return model.Coordinate{Latitude: lat2 / degToRad, Longitude: lon}
}
