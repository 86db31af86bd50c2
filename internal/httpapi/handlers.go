package httpapi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/signalsfoundry/airspace-sentinel/internal/logging"
	"github.com/signalsfoundry/airspace-sentinel/model"
)

// TestIdentifier labels single-point classification results.
const TestIdentifier = "TEST-DRONE"

type homeResponse struct {
	Message   string   `json:"message"`
	WebSocket string   `json:"websocket"`
	Endpoints []string `json:"endpoints"`
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, homeResponse{
		Message:   "Airspace sentinel is running",
		WebSocket: "ws://" + r.Host + "/ws",
		Endpoints: []string{
			"GET /ws", "GET /api/events", "GET /api/snapshot", "GET /api/zones",
			"GET|POST /api/classify", "GET /healthz",
		},
	})
}

type healthResponse struct {
	Status      string `json:"status"`
	State       string `json:"state"`
	Degraded    bool   `json:"degraded"`
	Sequence    uint64 `json:"sequence"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		State:       s.publisher.State().String(),
		Subscribers: s.publisher.Subscribers(),
	}
	if latest := s.publisher.Latest(); latest != nil {
		resp.Degraded = latest.Degraded
		resp.Sequence = latest.Sequence
		if latest.Degraded {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	snap, err := s.snapshot(r.Context(), refresh)
	if err != nil {
		s.writeSnapshotError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type legacyResponse struct {
	Drones     []model.ClassifiedReport `json:"drones"`
	Validation model.ValidationSummary  `json:"validation"`
	Source     model.SnapshotSource     `json:"source"`
	Degraded   bool                     `json:"degraded"`
}

// handleLegacyFetch runs an on-demand cycle and answers in the
// {"drones", "validation"} layout.
func (s *Server) handleLegacyFetch(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r.Context(), true)
	if err != nil {
		s.writeSnapshotError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, legacyResponse{
		Drones:     snap.Reports,
		Validation: snap.Summary,
		Source:     snap.Source,
		Degraded:   snap.Degraded,
	})
}

var errNoSnapshot = errors.New("no snapshot available yet")

func (s *Server) snapshot(ctx context.Context, refresh bool) (*model.StreamSnapshot, error) {
	if refresh {
		ctx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
		defer cancel()
		return s.publisher.Trigger(ctx)
	}
	if snap := s.publisher.Latest(); snap != nil {
		return snap, nil
	}
	return nil, errNoSnapshot
}

func (s *Server) writeSnapshotError(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context(), s.log).Warn(r.Context(), "snapshot unavailable", logging.Err(err))
	writeError(w, http.StatusServiceUnavailable, err.Error())
}

type zonesResponse struct {
	RestrictedZones []model.Zone `json:"restricted_zones"`
}

func (s *Server) handleZones(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, zonesResponse{RestrictedZones: s.classifier.Registry().Zones()})
}

type classifyResponse struct {
	Identifier   string  `json:"identifier"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Unauthorized bool    `json:"unauthorized"`
	ZoneName     *string `json:"zone_name"`
}

// handleClassify evaluates one point against the zone registry. It has no
// side effects: no alert, no persistence, no broadcast.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	pos, err := parseCoordinate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := classifyResponse{Identifier: TestIdentifier, Latitude: pos.Latitude, Longitude: pos.Longitude}
	if zone, hit := s.classifier.Classify(pos); hit {
		name := zone.Name
		resp.Unauthorized = true
		resp.ZoneName = &name
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseCoordinate(r *http.Request) (model.Coordinate, error) {
	q := r.URL.Query()
	lat, err := parseDegrees(q.Get("latitude"), "latitude", 90)
	if err != nil {
		return model.Coordinate{}, err
	}
	lon, err := parseDegrees(q.Get("longitude"), "longitude", 180)
	if err != nil {
		return model.Coordinate{}, err
	}
	return model.Coordinate{Latitude: lat, Longitude: lon}, nil
}

func parseDegrees(raw, name string, limit float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	if v < -limit || v > limit {
		return 0, fmt.Errorf("%s must be within [-%g, %g]", name, limit, limit)
	}
	return v, nil
}
