package feed

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/signalsfoundry/airspace-sentinel/model"
)

// UnknownIdentifier replaces blank or missing identifiers.
const UnknownIdentifier = model.UnknownIdentifier

// Indexes of the fields used from an OpenSky state vector.
const (
	stateICAO24       = 0
	stateCallsign     = 1
	stateLongitude    = 5
	stateLatitude     = 6
	stateBaroAltitude = 7
	stateVelocity     = 9
	stateGeoAltitude  = 13
)

var (
	identifierKeys = []string{"callsign", "identifier", "icao24"}
	latitudeKeys   = []string{"latitude", "lat"}
	longitudeKeys  = []string{"longitude", "lon", "lng"}
	altitudeKeys   = []string{"altitude", "alt", "baro_altitude"}
	velocityKeys   = []string{"velocity", "speed", "gs"}
)

// Normalize converts raw upstream records into canonical position reports.
// Each record is either an OpenSky state vector (a JSON array) or a keyed
// object. Records that cannot be repaired are returned with Malformed set;
// Normalize never drops a record and never fails the batch.
func Normalize(records []json.RawMessage) []model.PositionReport {
	out := make([]model.PositionReport, 0, len(records))
	for i, raw := range records {
		out = append(out, NormalizeRecord(i, raw))
	}
	return out
}

// NormalizeRecord converts a single raw record. index is used in the
// malformed reason only.
func NormalizeRecord(index int, raw json.RawMessage) model.PositionReport {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var fields []any
		if err := decodeNumbers(raw, &fields); err != nil {
			return malformed(index, "record", err)
		}
		return fromStateVector(index, fields)
	case strings.HasPrefix(trimmed, "{"):
		var fields map[string]any
		if err := decodeNumbers(raw, &fields); err != nil {
			return malformed(index, "record", err)
		}
		return fromObject(index, fields)
	default:
		return malformed(index, "record", errUnsupported)
	}
}

func fromStateVector(index int, fields []any) model.PositionReport {
	at := func(i int) any {
		if i < len(fields) {
			return fields[i]
		}
		return nil
	}

	id := identifier(at(stateCallsign), at(stateICAO24))
	report, err := build(index, id, at(stateLatitude), at(stateLongitude))
	report.ICAO24 = transponder(at(stateICAO24))
	if err != nil {
		return withReason(report, err)
	}

	alt, err := optionalFloat(index, "altitude", at(stateBaroAltitude))
	if err != nil {
		return withReason(report, err)
	}
	if alt == nil {
		if alt, err = optionalFloat(index, "altitude", at(stateGeoAltitude)); err != nil {
			return withReason(report, err)
		}
	}
	report.Altitude = alt

	if report.Velocity, err = optionalFloat(index, "velocity", at(stateVelocity)); err != nil {
		return withReason(report, err)
	}
	return report
}

func fromObject(index int, fields map[string]any) model.PositionReport {
	ids := make([]any, 0, len(identifierKeys))
	for _, k := range identifierKeys {
		ids = append(ids, fields[k])
	}
	id := identifier(ids...)

	report, err := build(index, id, first(fields, latitudeKeys), first(fields, longitudeKeys))
	report.ICAO24 = transponder(fields["icao24"])
	if err != nil {
		return withReason(report, err)
	}
	if report.Altitude, err = optionalFloat(index, "altitude", first(fields, altitudeKeys)); err != nil {
		return withReason(report, err)
	}
	if report.Velocity, err = optionalFloat(index, "velocity", first(fields, velocityKeys)); err != nil {
		return withReason(report, err)
	}
	return report
}

func build(index int, id string, lat, lon any) (model.PositionReport, error) {
	report := model.PositionReport{Identifier: id}

	latitude, err := coordinate(index, "latitude", lat, 90)
	if err != nil {
		return report, err
	}
	longitude, err := coordinate(index, "longitude", lon, 180)
	if err != nil {
		return report, err
	}
	report.Latitude = latitude
	report.Longitude = longitude
	return report, nil
}

// coordinate parses a latitude or longitude; an absent value defaults to 0.
func coordinate(index int, field string, v any, limit float64) (float64, error) {
	f, err := optionalFloat(index, field, v)
	if err != nil || f == nil {
		return 0, err
	}
	if *f < -limit || *f > limit {
		return 0, &MalformedRecordError{Index: index, Field: field, Err: fmt.Errorf("%w: %v", errOutOfRange, *f)}
	}
	return *f, nil
}

func optionalFloat(index int, field string, v any) (*float64, error) {
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		f, err = t.Float64()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		f, err = strconv.ParseFloat(s, 64)
	default:
		return nil, &MalformedRecordError{Index: index, Field: field, Err: fmt.Errorf("%w: %T", errNotNumeric, v)}
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &MalformedRecordError{Index: index, Field: field, Err: fmt.Errorf("%w: %v", errNotNumeric, v)}
	}
	return &f, nil
}

// identifier returns the first non-blank string candidate.
func identifier(candidates ...any) string {
	for _, c := range candidates {
		if s, ok := c.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return UnknownIdentifier
}

func transponder(v any) string {
	s, _ := v.(string)
	return strings.ToLower(strings.TrimSpace(s))
}

func first(fields map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func malformed(index int, field string, err error) model.PositionReport {
	return withReason(model.PositionReport{Identifier: UnknownIdentifier}, &MalformedRecordError{Index: index, Field: field, Err: err})
}

func withReason(r model.PositionReport, err error) model.PositionReport {
	r.Latitude, r.Longitude = 0, 0
	r.Altitude, r.Velocity = nil, nil
	r.Malformed = true
	r.MalformedReason = err.Error()
	return r
}

func decodeNumbers(raw []byte, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	return dec.Decode(v)
}
