package core

import (
	"github.com/signalsfoundry/airspace-sentinel/model"
	"github.com/signalsfoundry/airspace-sentinel/timectrl"
)

// Aggregator turns a batch of position reports into a snapshot. It is a pure
// transform over its inputs: it never calls alert or persistence sinks.
type Aggregator struct {
	classifier *Classifier
	clock      timectrl.Clock
}

// NewAggregator constructs an Aggregator. A nil clock defaults to the system
// clock.
func NewAggregator(classifier *Classifier, clock timectrl.Clock) *Aggregator {
	if clock == nil {
		clock = timectrl.SystemClock{}
	}
	return &Aggregator{classifier: classifier, clock: clock}
}

// Classifier returns the classifier used by the aggregator.
func (a *Aggregator) Classifier() *Classifier { return a.classifier }

// Aggregate classifies every report, keeping input order, and fills in the
// summary. Only Reports, Summary and GeneratedAt are set; the publisher stamps
// sequence and source.
func (a *Aggregator) Aggregate(reports []model.PositionReport) model.StreamSnapshot {
	classified := make([]model.ClassifiedReport, 0, len(reports))
	for _, r := range reports {
		classified = append(classified, a.classifier.ClassifyReport(r))
	}
	return model.StreamSnapshot{
		GeneratedAt: a.clock.Now(),
		Reports:     classified,
		Summary:     Summarize(classified),
	}
}

// Summarize counts reports per bucket. Every report lands in exactly one
// bucket, so ValidationPassed holds for any input, including an empty one; it
// is kept as a consistency check on the counting itself.
func Summarize(reports []model.ClassifiedReport) model.ValidationSummary {
	s := model.ValidationSummary{Total: len(reports)}
	for _, r := range reports {
		switch r.Status {
		case model.AuthorizationUnauthorized:
			s.Unauthorized++
		case model.AuthorizationAuthorized:
			s.Authorized++
		default:
			s.Unknown++
		}
	}
	s.ValidationPassed = s.Authorized+s.Unauthorized+s.Unknown == s.Total
	return s
}
