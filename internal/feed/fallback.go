package feed

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/signalsfoundry/airspace-sentinel/model"
)

// Defaults for the fallback batch.
const (
	DefaultFallbackMin        = 3
	DefaultFallbackMax        = 7
	DefaultFallbackBackground = 10

	// fallbackJitterDeg is the maximum offset of an in-zone report from its
	// zone centre on each axis.
	fallbackJitterDeg = 0.05
)

// Background reports are spread uniformly over the continental US.
var backgroundBox = BoundingBox{LatMin: 33, LonMin: -110, LatMax: 43, LonMax: -80}

// FallbackConfig sizes a fallback batch.
type FallbackConfig struct {
	Min        int
	Max        int
	Background int
	// Rand seeds the generator. Nil uses a randomly seeded source.
	Rand *rand.Rand
}

// FallbackGenerator produces synthetic batches used while the feed is
// unavailable. It is safe for concurrent use.
type FallbackGenerator struct {
	zones      []model.Zone
	min, max   int
	background int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFallbackGenerator validates cfg. Zone centres are the anchors for the
// in-zone reports.
func NewFallbackGenerator(zones []model.Zone, cfg FallbackConfig) (*FallbackGenerator, error) {
	if len(zones) == 0 {
		return nil, fmt.Errorf("fallback generator: no zones")
	}
	if cfg.Min < 0 || cfg.Max < 0 || cfg.Background < 0 {
		return nil, fmt.Errorf("fallback generator: sizes must not be negative")
	}
	if cfg.Min > cfg.Max {
		return nil, fmt.Errorf("fallback generator: min %d above max %d", cfg.Min, cfg.Max)
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &FallbackGenerator{
		zones:      append([]model.Zone(nil), zones...),
		min:        cfg.Min,
		max:        cfg.Max,
		background: cfg.Background,
		rng:        rng,
	}, nil
}

// Generate returns a new synthetic batch. In-zone reports come first, then
// background reports; identifiers are SIM-1..SIM-n in that order.
func (g *FallbackGenerator) Generate() []model.PositionReport {
	g.mu.Lock()
	defer g.mu.Unlock()

	inZone := g.min + g.rng.IntN(g.max-g.min+1)
	out := make([]model.PositionReport, 0, inZone+g.background)

	for i := 0; i < inZone; i++ {
		z := g.zones[g.rng.IntN(len(g.zones))]
		out = append(out, g.report(len(out)+1,
			clamp(z.Latitude+g.jitter(), -90, 90),
			clamp(z.Longitude+g.jitter(), -180, 180),
		))
	}
	for i := 0; i < g.background; i++ {
		out = append(out, g.report(len(out)+1,
			uniform(g.rng, backgroundBox.LatMin, backgroundBox.LatMax),
			uniform(g.rng, backgroundBox.LonMin, backgroundBox.LonMax),
		))
	}
	return out
}

func (g *FallbackGenerator) report(n int, lat, lon float64) model.PositionReport {
	alt := float64(500 + g.rng.IntN(2501))
	vel := uniform(g.rng, 50, 300)
	return model.PositionReport{
		Identifier: fmt.Sprintf("SIM-%d", n),
		Latitude:   lat,
		Longitude:  lon,
		Altitude:   &alt,
		Velocity:   &vel,
		Synthetic:  true,
	}
}

func (g *FallbackGenerator) jitter() float64 {
	return uniform(g.rng, -fallbackJitterDeg, fallbackJitterDeg)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
