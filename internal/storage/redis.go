package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/signalsfoundry/airspace-sentinel/model"
)

// Redis key layout.
const (
	droneKeyPrefix  = "sentinel:drone:"
	unauthorizedKey = "sentinel:unauthorized"
	summaryKey      = "sentinel:snapshot:summary"

	DefaultRedisTTL = 24 * time.Hour
)

// DroneKey returns the hot-state key for an identifier.
func DroneKey(id string) string { return droneKeyPrefix + id }

// DroneID picks the hot-state identifier of the i-th report in a batch. The
// transponder address wins when present. Unknown identifiers, and callsigns
// already taken earlier in the batch, get the report index as a suffix.
func DroneID(r model.ClassifiedReport, i int, taken map[string]bool) string {
	id := r.ICAO24
	if id == "" {
		id = r.Identifier
	}
	if id == "" || id == model.UnknownIdentifier || taken[id] {
		id = fmt.Sprintf("%s#%d", r.Identifier, i)
	}
	taken[id] = true
	return id
}

// RedisSink keeps the hot state of the latest batch: the last report per
// drone with a TTL, the set of currently unauthorized identifiers and the
// batch counts.
type RedisSink struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisSink wraps client. ttl <= 0 uses DefaultRedisTTL.
func NewRedisSink(client redis.UniversalClient, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisSink{client: client, ttl: ttl}
}

// OpenRedis creates a client for addr and verifies it with a ping.
func OpenRedis(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("storage: redis address is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Store writes the batch in a single pipelined transaction.
func (s *RedisSink) Store(ctx context.Context, reports []model.ClassifiedReport) error {
	var (
		unauthorized []any
		summary      = map[string]int{}
	)
	values := make(map[string][]byte, len(reports))
	taken := make(map[string]bool, len(reports))
	for i, r := range reports {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.Identifier, err)
		}
		id := DroneID(r, i, taken)
		values[DroneKey(id)] = payload
		if r.Unauthorized {
			unauthorized = append(unauthorized, id)
		}
		summary[string(r.Status)]++
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, payload := range values {
			pipe.Set(ctx, key, payload, s.ttl)
		}
		pipe.Del(ctx, unauthorizedKey)
		if len(unauthorized) > 0 {
			pipe.SAdd(ctx, unauthorizedKey, unauthorized...)
		}
		pipe.HSet(ctx, summaryKey,
			"total", len(reports),
			string(model.AuthorizationAuthorized), summary[string(model.AuthorizationAuthorized)],
			string(model.AuthorizationUnauthorized), summary[string(model.AuthorizationUnauthorized)],
			string(model.AuthorizationUnknown), summary[string(model.AuthorizationUnknown)],
			"updated_at", time.Now().UTC().Format(time.RFC3339),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: store batch: %w", err)
	}
	return nil
}

// LastReport returns the stored report for id.
func (s *RedisSink) LastReport(ctx context.Context, id string) (model.ClassifiedReport, error) {
	var r model.ClassifiedReport
	raw, err := s.client.Get(ctx, DroneKey(id)).Bytes()
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("decode %s: %w", id, err)
	}
	return r, nil
}

// Unauthorized returns the hot-state identifiers flagged in the last batch.
func (s *RedisSink) Unauthorized(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, unauthorizedKey).Result()
}
