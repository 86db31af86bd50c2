package feedsim

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/signalsfoundry/airspace-sentinel/internal/logging"
)

// SlowDelay is the response delay applied in FailureSlow mode.
var SlowDelay = 15 * time.Second

type statesResponse struct {
	Time   int64   `json:"time"`
	States [][]any `json:"states"`
}

// Handler serves GET /api/states/all and the failure control endpoint
// POST /control/failure?mode=none|error|empty|slow.
func (s *Simulator) Handler(log logging.Logger) http.Handler {
	if log == nil {
		log = logging.Noop()
	}
	r := httprouter.New()
	r.GET("/api/states/all", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		s.serveStates(w, req, log)
	})
	r.POST("/control/failure", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		mode, err := ParseFailureMode(req.URL.Query().Get("mode"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.SetFailureMode(mode)
		log.Info(req.Context(), "failure mode changed", logging.String("mode", string(mode)))
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func (s *Simulator) serveStates(w http.ResponseWriter, r *http.Request, log logging.Logger) {
	switch s.nextFailure() {
	case FailureError:
		http.Error(w, "simulated outage", http.StatusServiceUnavailable)
		return
	case FailureEmpty:
		writeStates(w, statesResponse{Time: time.Now().Unix()})
		return
	case FailureSlow:
		select {
		case <-time.After(SlowDelay):
		case <-r.Context().Done():
			return
		}
	}

	box, filter := parseBox(r)
	now := time.Now().Unix()
	resp := statesResponse{Time: now, States: [][]any{}}
	for _, ac := range s.Fleet() {
		p := ac.Position
		if filter && (p.Latitude < box[0] || p.Longitude < box[1] || p.Latitude > box[2] || p.Longitude > box[3]) {
			continue
		}
		resp.States = append(resp.States, []any{
			ac.ICAO24, ac.Callsign, "United States", now, now,
			p.Longitude, p.Latitude, ac.AltitudeM, false, ac.SpeedMps,
			ac.TrackDeg, 0, nil, ac.AltitudeM, nil, false, 0,
		})
	}
	log.Debug(r.Context(), "served states", logging.Int("states", len(resp.States)))
	writeStates(w, resp)
}

// parseBox reads lamin, lomin, lamax, lomax; all four must be present.
func parseBox(r *http.Request) ([4]float64, bool) {
	var box [4]float64
	q := r.URL.Query()
	for i, key := range []string{"lamin", "lomin", "lamax", "lomax"} {
		v, err := strconv.ParseFloat(q.Get(key), 64)
		if err != nil {
			return box, false
		}
		box[i] = v
	}
	return box, true
}

func writeStates(w http.ResponseWriter, resp statesResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
