package model

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate lies within latitude [-90,90] and
// longitude [-180,180].
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// Zone is a circular restricted area. Zones are immutable once loaded into a
// registry; Name is the identity and must be unique within a registry.
type Zone struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RadiusKm  float64 `json:"radius_km"`
}

// Center returns the zone centre as a Coordinate.
func (z Zone) Center() Coordinate {
	return Coordinate{Latitude: z.Latitude, Longitude: z.Longitude}
}
