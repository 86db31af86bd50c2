package core

import "github.com/signalsfoundry/airspace-sentinel/model"

// Classifier decides whether a position falls inside a restricted zone.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	registry *ZoneRegistry
}

// NewClassifier binds a classifier to a zone registry.
func NewClassifier(registry *ZoneRegistry) *Classifier {
	return &Classifier{registry: registry}
}

// Registry returns the zone registry the classifier evaluates against.
func (c *Classifier) Registry() *ZoneRegistry { return c.registry }

// Classify returns the first zone, in registry order, whose centre lies within
// its radius of pos. The boundary is inclusive. When zones overlap, the zone
// registered first wins.
func (c *Classifier) Classify(pos model.Coordinate) (model.Zone, bool) {
	if c == nil || c.registry == nil {
		return model.Zone{}, false
	}
	for _, z := range c.registry.zones {
		if DistanceKm(pos, z.Center()) <= z.RadiusKm {
			return z, true
		}
	}
	return model.Zone{}, false
}

// ClassifyReport classifies one report. Malformed reports are not evaluated
// and come back with status unknown.
func (c *Classifier) ClassifyReport(r model.PositionReport) model.ClassifiedReport {
	out := model.ClassifiedReport{PositionReport: r}
	if r.Malformed {
		out.Status = model.AuthorizationUnknown
		return out
	}

	zone, hit := c.Classify(r.Position())
	if !hit {
		out.Status = model.AuthorizationAuthorized
		return out
	}
	name := zone.Name
	out.Status = model.AuthorizationUnauthorized
	out.Unauthorized = true
	out.ZoneName = &name
	return out
}
