package core

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/airspace-sentinel/model"
)

// ErrInvalidZone is returned when a zone definition can never behave sensibly
// (non-positive radius, out-of-range centre, missing or duplicate name).
var ErrInvalidZone = errors.New("invalid zone")

// ZoneRegistry is the immutable, ordered set of restricted zones. It is built
// once at startup and shared read-only, so concurrent reads need no locking.
type ZoneRegistry struct {
	zones  []model.Zone
	byName map[string]int
}

// NewZoneRegistry validates zones and builds a registry that preserves the
// given order. An empty set is rejected: a registry that can never match is a
// configuration error.
func NewZoneRegistry(zones []model.Zone) (*ZoneRegistry, error) {
	if len(zones) == 0 {
		return nil, fmt.Errorf("%w: registry has no zones", ErrInvalidZone)
	}

	r := &ZoneRegistry{
		zones:  make([]model.Zone, 0, len(zones)),
		byName: make(map[string]int, len(zones)),
	}
	for i, z := range zones {
		if err := validateZone(z); err != nil {
			return nil, fmt.Errorf("zone %d: %w", i, err)
		}
		if _, dup := r.byName[z.Name]; dup {
			return nil, fmt.Errorf("zone %d: %w: duplicate name %q", i, ErrInvalidZone, z.Name)
		}
		r.byName[z.Name] = len(r.zones)
		r.zones = append(r.zones, z)
	}
	return r, nil
}

func validateZone(z model.Zone) error {
	if strings.TrimSpace(z.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidZone)
	}
	if math.IsNaN(z.RadiusKm) || math.IsInf(z.RadiusKm, 0) || z.RadiusKm <= 0 {
		return fmt.Errorf("%w: %q radius %v km must be positive", ErrInvalidZone, z.Name, z.RadiusKm)
	}
	if !z.Center().Valid() {
		return fmt.Errorf("%w: %q centre (%v, %v) out of range", ErrInvalidZone, z.Name, z.Latitude, z.Longitude)
	}
	return nil
}

// Zones returns the zones in registration order. The slice is a copy.
func (r *ZoneRegistry) Zones() []model.Zone {
	return append([]model.Zone(nil), r.zones...)
}

// Len returns the number of zones.
func (r *ZoneRegistry) Len() int { return len(r.zones) }

// Lookup returns the zone with the given name.
func (r *ZoneRegistry) Lookup(name string) (model.Zone, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return model.Zone{}, false
	}
	return r.zones[idx], true
}

// DefaultZones returns the built-in restricted zones used when no zone file
// is configured.
func DefaultZones() []model.Zone {
	return []model.Zone{
		{Name: "JFK Airport", Latitude: 40.6413, Longitude: -73.7781, RadiusKm: 10},
		{Name: "Los Angeles Airport", Latitude: 33.9416, Longitude: -118.4085, RadiusKm: 10},
		{Name: "Hartsfield-Jackson Atlanta Airport", Latitude: 33.6407, Longitude: -84.4277, RadiusKm: 10},
		{Name: "Denver International Airport", Latitude: 39.8561, Longitude: -104.6737, RadiusKm: 10},
		{Name: "Chicago O'Hare Airport", Latitude: 41.9742, Longitude: -87.9073, RadiusKm: 10},
		{Name: "Pentagon", Latitude: 38.8719, Longitude: -77.0563, RadiusKm: 5},
		{Name: "Area 51", Latitude: 37.2431, Longitude: -115.7930, RadiusKm: 15},
	}
}
