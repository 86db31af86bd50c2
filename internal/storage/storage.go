// Package storage persists classified batches.
package storage

import (
	"context"
	"errors"

	"github.com/signalsfoundry/airspace-sentinel/model"
)

// Sink matches stream.PersistenceSink.
type Sink interface {
	Store(ctx context.Context, reports []model.ClassifiedReport) error
}

// Multi stores the batch in every sink and joins their errors.
type Multi []Sink

func (m Multi) Store(ctx context.Context, reports []model.ClassifiedReport) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Store(ctx, reports); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
