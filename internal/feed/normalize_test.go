package feed

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestNormalizeStateVector(t *testing.T) {
	r := NormalizeRecord(0, raw(`["a1b2c3","UAL123  ","United States",1700000000,1700000000,-77.05,38.87,1200.5,false,210.3,90,0,null,1250.0,"1200",false,0]`))
	if r.Malformed {
		t.Fatalf("unexpected malformed report: %s", r.MalformedReason)
	}
	if r.Identifier != "UAL123" || r.ICAO24 != "a1b2c3" {
		t.Fatalf("identifier = %q icao24 = %q, want UAL123 / a1b2c3", r.Identifier, r.ICAO24)
	}
	if r.Latitude != 38.87 || r.Longitude != -77.05 {
		t.Fatalf("position = (%v,%v), want (38.87,-77.05)", r.Latitude, r.Longitude)
	}
	if r.Altitude == nil || *r.Altitude != 1200.5 {
		t.Fatalf("altitude = %v, want 1200.5", r.Altitude)
	}
	if r.Velocity == nil || *r.Velocity != 210.3 {
		t.Fatalf("velocity = %v, want 210.3", r.Velocity)
	}
}

func TestNormalizeStateVectorFallsBackToICAOAndGeoAltitude(t *testing.T) {
	r := NormalizeRecord(0, raw(`["a1b2c3","   ",null,0,0,10,20,null,true,null,0,0,null,300]`))
	if r.Identifier != "a1b2c3" {
		t.Fatalf("identifier = %q, want icao24 fallback", r.Identifier)
	}
	if r.Altitude == nil || *r.Altitude != 300 {
		t.Fatalf("altitude = %v, want geo altitude 300", r.Altitude)
	}
	if r.Velocity != nil {
		t.Fatalf("velocity = %v, want nil", *r.Velocity)
	}
}

func TestNormalizeMissingCoordinatesDefaultToZero(t *testing.T) {
	r := NormalizeRecord(0, raw(`[null,null,null,0,0,null,null]`))
	if r.Malformed {
		t.Fatalf("missing coordinates must not be malformed: %s", r.MalformedReason)
	}
	if r.Identifier != UnknownIdentifier {
		t.Fatalf("identifier = %q, want %q", r.Identifier, UnknownIdentifier)
	}
	if r.Latitude != 0 || r.Longitude != 0 {
		t.Fatalf("position = (%v,%v), want (0,0)", r.Latitude, r.Longitude)
	}

	short := NormalizeRecord(1, raw(`["abc"]`))
	if short.Malformed || short.Identifier != "abc" {
		t.Fatalf("short vector: %+v", short)
	}
}

func TestNormalizeKeyedObjectAliases(t *testing.T) {
	cases := []struct {
		name string
		in   string
		id   string
		lat  float64
		lon  float64
	}{
		{"canonical", `{"callsign":"DRN1","latitude":40.1,"longitude":-73.9,"altitude":100,"velocity":12}`, "DRN1", 40.1, -73.9},
		{"short keys", `{"identifier":"DRN2","lat":"33.9","lng":-118.4,"alt":50,"speed":"3.5"}`, "DRN2", 33.9, -118.4},
		{"icao only", `{"icao24":"ab12","lat":1,"lon":2,"baro_altitude":10,"gs":4}`, "ab12", 1, 2},
		{"no id", `{"latitude":5,"longitude":6}`, UnknownIdentifier, 5, 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NormalizeRecord(0, raw(tc.in))
			if r.Malformed {
				t.Fatalf("unexpected malformed: %s", r.MalformedReason)
			}
			if r.Identifier != tc.id || r.Latitude != tc.lat || r.Longitude != tc.lon {
				t.Fatalf("got %+v", r)
			}
		})
	}
}

func TestNormalizeMarksUnrepairableRecords(t *testing.T) {
	cases := map[string]string{
		"bad latitude":  `{"callsign":"X","latitude":"north","longitude":1}`,
		"lat range":     `["x","X",null,0,0,10,95.5]`,
		"lon range":     `{"callsign":"X","latitude":1,"longitude":-181}`,
		"bool velocity": `{"callsign":"X","latitude":1,"longitude":1,"velocity":true}`,
		"scalar record": `42`,
		"broken json":   `{"callsign":`,
		"string vector": `["x","X",null,0,0,"east",1]`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			r := NormalizeRecord(3, raw(in))
			if !r.Malformed {
				t.Fatalf("expected malformed report, got %+v", r)
			}
			if r.MalformedReason == "" || !strings.HasPrefix(r.MalformedReason, "record 3") {
				t.Fatalf("reason = %q", r.MalformedReason)
			}
		})
	}
}

func TestNormalizeKeepsEveryRecord(t *testing.T) {
	in := []json.RawMessage{
		raw(`{"callsign":"A","lat":1,"lon":1}`),
		raw(`"garbage"`),
		raw(`["b","B",null,0,0,2,2]`),
	}
	out := Normalize(in)
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	if out[0].Malformed || !out[1].Malformed || out[2].Malformed {
		t.Fatalf("unexpected malformed flags: %+v", out)
	}
}

func TestMalformedRecordErrorUnwraps(t *testing.T) {
	_, err := coordinate(2, "latitude", "abc", 90)
	var mre *MalformedRecordError
	if !errors.As(err, &mre) {
		t.Fatalf("expected MalformedRecordError, got %v", err)
	}
	if mre.Index != 2 || mre.Field != "latitude" || !errors.Is(err, errNotNumeric) {
		t.Fatalf("unexpected error %+v", mre)
	}
}

func TestNormalizeObjectKeepsTransponderAddress(t *testing.T) {
	r := NormalizeRecord(3, raw(`{"callsign":"DAL9","icao24":" ABC123 ","lat":40.64,"lon":-73.77}`))
	if r.Identifier != "DAL9" || r.ICAO24 != "abc123" {
		t.Fatalf("identifier = %q icao24 = %q, want DAL9 / abc123", r.Identifier, r.ICAO24)
	}

	bad := NormalizeRecord(4, raw(`{"icao24":"def456","latitude":"north"}`))
	if !bad.Malformed || bad.ICAO24 != "def456" {
		t.Fatalf("malformed record should keep its transponder address, got %+v", bad)
	}
}
