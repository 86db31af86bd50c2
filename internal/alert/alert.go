// Package alert holds the alert sinks notified for unauthorized detections.
package alert

import (
	"context"
	"errors"

	"github.com/signalsfoundry/airspace-sentinel/internal/logging"
	"github.com/signalsfoundry/airspace-sentinel/model"
)

// Sink matches stream.AlertSink.
type Sink interface {
	Notify(ctx context.Context, a model.Alert) error
}

// LogSink writes each alert to the structured log.
type LogSink struct {
	log logging.Logger
}

// NewLogSink returns a LogSink; a nil logger discards alerts.
func NewLogSink(log logging.Logger) *LogSink {
	if log == nil {
		log = logging.Noop()
	}
	return &LogSink{log: log.With(logging.String("component", "alert"))}
}

func (s *LogSink) Notify(ctx context.Context, a model.Alert) error {
	s.log.Warn(ctx, "unauthorized drone detected",
		logging.String("identifier", a.Identifier),
		logging.String("zone", a.ZoneName),
		logging.Float64("latitude", a.Latitude),
		logging.Float64("longitude", a.Longitude),
		logging.Bool("synthetic", a.Synthetic),
		logging.Any("detected_at", a.DetectedAt),
	)
	return nil
}

// Multi notifies every sink and joins their errors. A failing sink does not
// stop the others.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, a model.Alert) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
