package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/airspace-sentinel/model"
)

// AlertSink receives one alert per unauthorized detection.
type AlertSink interface {
	Notify(ctx context.Context, alert model.Alert) error
}

// PersistenceSink stores a classified batch.
type PersistenceSink interface {
	Store(ctx context.Context, reports []model.ClassifiedReport) error
}

// SinkError wraps a failure returned by an alert or persistence sink. Sink
// errors are logged and counted; they never reach the publishing loop.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return fmt.Sprintf("%s sink: %v", e.Sink, e.Err) }

func (e *SinkError) Unwrap() error { return e.Err }

// MetricsRecorder captures pipeline metrics without depending on a concrete
// metrics backend.
type MetricsRecorder interface {
	ObserveCycle(source model.SnapshotSource, fetch time.Duration, summary model.ValidationSummary)
	IncFetchErrors(reason string)
	SetSubscribers(n int)
	IncSubscriberDrops()
	IncSinkDispatch(sink, result string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCycle(model.SnapshotSource, time.Duration, model.ValidationSummary) {}
func (noopMetrics) IncFetchErrors(string)                                                     {}
func (noopMetrics) SetSubscribers(int)                                                        {}
func (noopMetrics) IncSubscriberDrops()                                                       {}
func (noopMetrics) IncSinkDispatch(string, string)                                            {}
