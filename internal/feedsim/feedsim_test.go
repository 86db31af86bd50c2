package feedsim

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/signalsfoundry/airspace-sentinel/core"
	"github.com/signalsfoundry/airspace-sentinel/internal/feed"
	"github.com/signalsfoundry/airspace-sentinel/timectrl"
)

func newSim(t *testing.T, n int) *Simulator {
	t.Helper()
	sim, err := New(Config{Aircraft: n, Zones: core.DefaultZones(), Rand: rand.New(rand.NewPCG(7, 9))})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sim
}

func TestAdvanceMovesFleetWithController(t *testing.T) {
	sim := newSim(t, 8)
	before := sim.Fleet()

	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := timectrl.NewTimeController(start, 10*time.Second, timectrl.RealTime)
	sim.Advance(tc.Now())
	tc.AddListener(sim.Advance)
	tc.Step()
	tc.Step()

	after := sim.Fleet()
	for i := range before {
		moved := core.DistanceKm(before[i].Position, after[i].Position)
		maxKm := before[i].SpeedMps * 20 / 1000
		if moved <= 0 || moved > maxKm+1e-6 {
			t.Fatalf("aircraft %d moved %.4f km, want (0, %.4f]", i, moved, maxKm)
		}
		if !after[i].Position.Valid() {
			t.Fatalf("aircraft %d left valid range: %+v", i, after[i].Position)
		}
	}
}

func TestFeedClientReadsSimulatedStates(t *testing.T) {
	sim := newSim(t, 12)
	srv := httptest.NewServer(sim.Handler(nil))
	defer srv.Close()

	client, err := feed.NewOpenSkyClient(feed.OpenSkyConfig{URL: srv.URL + "/api/states/all"})
	if err != nil {
		t.Fatalf("NewOpenSkyClient: %v", err)
	}
	reports, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(reports) != 12 {
		t.Fatalf("reports = %d, want 12", len(reports))
	}
	fleet := sim.Fleet()
	for i, r := range reports {
		if r.Malformed {
			t.Fatalf("report %d malformed: %s", i, r.MalformedReason)
		}
		if r.Identifier != fleet[i].Callsign || r.Latitude != fleet[i].Position.Latitude {
			t.Fatalf("report %d = %+v, want %+v", i, r, fleet[i])
		}
	}
}

func TestBoundingBoxFilter(t *testing.T) {
	sim := newSim(t, 20)
	srv := httptest.NewServer(sim.Handler(nil))
	defer srv.Close()

	box := feed.BoundingBox{LatMin: 38, LonMin: -78, LatMax: 40, LonMax: -76}
	client, err := feed.NewOpenSkyClient(feed.OpenSkyConfig{URL: srv.URL + "/api/states/all", Box: box})
	if err != nil {
		t.Fatalf("NewOpenSkyClient: %v", err)
	}
	reports, err := client.Fetch(context.Background())
	if err != nil && err != feed.ErrEmptyPayload {
		t.Fatalf("Fetch: %v", err)
	}
	for _, r := range reports {
		if r.Latitude < 38 || r.Latitude > 40 || r.Longitude < -78 || r.Longitude > -76 {
			t.Fatalf("report %+v outside requested box", r)
		}
	}
}

func TestFailureModes(t *testing.T) {
	sim := newSim(t, 3)
	srv := httptest.NewServer(sim.Handler(nil))
	defer srv.Close()

	SlowDelay = time.Second
	client, err := feed.NewOpenSkyClient(feed.OpenSkyConfig{URL: srv.URL + "/api/states/all", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewOpenSkyClient: %v", err)
	}

	cases := map[string]string{
		"error": "status",
		"empty": "empty_payload",
		"slow":  "timeout",
	}
	for mode, reason := range cases {
		resp, err := http.Post(srv.URL+"/control/failure?mode="+mode, "", nil)
		if err != nil {
			t.Fatalf("set mode %s: %v", mode, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("set mode %s: status %d", mode, resp.StatusCode)
		}

		_, err = client.Fetch(context.Background())
		if got := feed.Reason(err); got != reason {
			t.Fatalf("mode %s: reason %q, want %q (err %v)", mode, got, reason, err)
		}
	}

	sim.SetFailureMode(FailureNone)
	if _, err := client.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch after recovery: %v", err)
	}

	resp, err := http.Post(srv.URL+"/control/failure?mode=boom", "", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown mode status = %d, want 400", resp.StatusCode)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{Aircraft: -1}); err == nil {
		t.Fatalf("expected error for negative fleet")
	}
	if _, err := New(Config{FailRate: 2}); err == nil {
		t.Fatalf("expected error for fail rate above 1")
	}
}
