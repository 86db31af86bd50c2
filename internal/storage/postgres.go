package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/signalsfoundry/airspace-sentinel/model"
)

const insertDetection = `INSERT INTO detections
	(identifier, latitude, longitude, altitude, velocity, status, unauthorized, zone_name, synthetic, detected_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`

// Execer is the subset of pgxpool.Pool used by PostgresSink.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink writes one detections row per report. The table is expected
// to exist.
type PostgresSink struct {
	db Execer
}

// NewPostgresSink wraps db.
func NewPostgresSink(db Execer) *PostgresSink {
	return &PostgresSink{db: db}
}

// OpenPostgres creates a pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("storage: postgres url is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("configure postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Store inserts every report. A failed row does not stop the rest; the
// returned error reports how many rows failed and wraps each failure.
func (s *PostgresSink) Store(ctx context.Context, reports []model.ClassifiedReport) error {
	var errs []error
	for _, r := range reports {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		_, err := s.db.Exec(ctx, insertDetection,
			r.Identifier, r.Latitude, r.Longitude, r.Altitude, r.Velocity,
			string(r.Status), r.Unauthorized, r.ZoneName, r.Synthetic,
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("insert %s: %w", r.Identifier, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("postgres: %d of %d rows failed: %w", len(errs), len(reports), errors.Join(errs...))
}
