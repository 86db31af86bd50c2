package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/signalsfoundry/airspace-sentinel/model"
)

// On-disk zone file layout. Pointer fields tell a missing value from zero.
type zoneFileJSON struct {
	RestrictedZones []zoneJSON `json:"restricted_zones"`
}

type zoneJSON struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	RadiusKm  *float64 `json:"radius_km"`
	Radius    *float64 `json:"radius"` // legacy key, kilometres
}

// LoadZones decodes zone definitions from r. Both a bare JSON array and an
// object of the form {"restricted_zones": [...]} are accepted, matching the
// zone listing the HTTP API serves. Centres and radii are required; the
// result still has to pass NewZoneRegistry.
func LoadZones(r io.Reader) ([]model.Zone, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("LoadZones: read failed: %w", err)
	}

	var raw []zoneJSON
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0:
		return nil, fmt.Errorf("LoadZones: empty input")
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("LoadZones: decode failed: %w", err)
		}
	default:
		var file zoneFileJSON
		if err := json.Unmarshal(trimmed, &file); err != nil {
			return nil, fmt.Errorf("LoadZones: decode failed: %w", err)
		}
		raw = file.RestrictedZones
	}

	zones := make([]model.Zone, 0, len(raw))
	for i, z := range raw {
		radius := z.RadiusKm
		if radius == nil {
			radius = z.Radius
		}
		if z.Latitude == nil || z.Longitude == nil || radius == nil {
			return nil, fmt.Errorf("LoadZones: zone %d (%q): %w: latitude, longitude and radius_km are required", i, z.Name, ErrInvalidZone)
		}
		zones = append(zones, model.Zone{
			Name:      z.Name,
			Latitude:  *z.Latitude,
			Longitude: *z.Longitude,
			RadiusKm:  *radius,
		})
	}
	return zones, nil
}

// LoadZonesFile reads zone definitions from the JSON file at path.
func LoadZonesFile(path string) ([]model.Zone, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open zone file %q: %w", path, err)
	}
	defer f.Close()
	return LoadZones(f)
}
