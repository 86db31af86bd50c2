// Package feedsim serves an OpenSky-compatible state vector feed populated
// with simulated aircraft, for running the sentinel without network access.
package feedsim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/signalsfoundry/airspace-sentinel/core"
	"github.com/signalsfoundry/airspace-sentinel/model"
)

// FailureMode selects how the feed misbehaves.
type FailureMode string

const (
	FailureNone  FailureMode = "none"
	FailureError FailureMode = "error" // HTTP 503
	FailureEmpty FailureMode = "empty" // 200 with no states
	FailureSlow  FailureMode = "slow"  // response delayed by SlowDelay
)

// ParseFailureMode accepts the FailureMode names.
func ParseFailureMode(s string) (FailureMode, error) {
	switch m := FailureMode(s); m {
	case FailureNone, FailureError, FailureEmpty, FailureSlow:
		return m, nil
	case "":
		return FailureNone, nil
	default:
		return "", fmt.Errorf("unknown failure mode %q", s)
	}
}

// Aircraft is one simulated target.
type Aircraft struct {
	ICAO24    string
	Callsign  string
	Position  model.Coordinate
	AltitudeM float64
	SpeedMps  float64
	TrackDeg  float64
}

// Config sizes a Simulator.
type Config struct {
	// Aircraft is the number of targets; half of the zone-bound ones start
	// inside a zone.
	Aircraft int
	// Zones anchors targets that loiter around restricted areas.
	Zones []model.Zone
	// FailRate is the probability in [0,1] of an injected 503 per request.
	FailRate float64
	Rand     *rand.Rand
}

// Simulator holds the moving fleet. It is safe for concurrent use.
type Simulator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	fleet    []Aircraft
	last     time.Time
	mode     FailureMode
	failRate float64
}

// New builds a fleet positioned around the zones and across the central US.
func New(cfg Config) (*Simulator, error) {
	if cfg.Aircraft < 0 {
		return nil, fmt.Errorf("feedsim: aircraft count %d must not be negative", cfg.Aircraft)
	}
	if cfg.FailRate < 0 || cfg.FailRate > 1 {
		return nil, fmt.Errorf("feedsim: fail rate %v outside [0,1]", cfg.FailRate)
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	s := &Simulator{rng: rng, mode: FailureNone, failRate: cfg.FailRate}
	for i := 0; i < cfg.Aircraft; i++ {
		ac := Aircraft{
			ICAO24:    fmt.Sprintf("%06x", 0xa00000+i),
			Callsign:  fmt.Sprintf("SIM%03d", i+1),
			AltitudeM: 150 + rng.Float64()*3000,
			SpeedMps:  20 + rng.Float64()*230,
			TrackDeg:  rng.Float64() * 360,
		}
		if len(cfg.Zones) > 0 && i%4 == 0 {
			z := cfg.Zones[(i/4)%len(cfg.Zones)]
			ac.Position = core.Destination(z.Center(), rng.Float64()*360, rng.Float64()*z.RadiusKm*2)
			ac.SpeedMps = 5 + rng.Float64()*25
		} else {
			ac.Position = model.Coordinate{
				Latitude:  33 + rng.Float64()*10,
				Longitude: -110 + rng.Float64()*30,
			}
		}
		s.fleet = append(s.fleet, ac)
	}
	return s, nil
}

// Advance moves every aircraft to its position at now. The first call only
// records the starting time.
func (s *Simulator) Advance(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last.IsZero() {
		s.last = now
		return
	}
	dt := now.Sub(s.last).Seconds()
	s.last = now
	if dt <= 0 {
		return
	}

	for i := range s.fleet {
		ac := &s.fleet[i]
		ac.Position = core.Destination(ac.Position, ac.TrackDeg, ac.SpeedMps*dt/1000)
		ac.TrackDeg = math.Mod(ac.TrackDeg+float64(s.rng.IntN(7)-3)+360, 360)
		ac.AltitudeM = math.Max(30, ac.AltitudeM+float64(s.rng.IntN(11)-5))
	}
}

// Fleet returns a copy of the current fleet.
func (s *Simulator) Fleet() []Aircraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Aircraft(nil), s.fleet...)
}

// SetFailureMode switches the injected failure.
func (s *Simulator) SetFailureMode(m FailureMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// FailureMode returns the active injected failure.
func (s *Simulator) FailureMode() FailureMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// nextFailure returns the failure to apply to one request.
func (s *Simulator) nextFailure() FailureMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != FailureNone {
		return s.mode
	}
	if s.failRate > 0 && s.rng.Float64() < s.failRate {
		return FailureError
	}
	return FailureNone
}
