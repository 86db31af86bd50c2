package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/signalsfoundry/airspace-sentinel/model"
)

func zone(name string) *string { return &name }

func batch() []model.ClassifiedReport {
	return []model.ClassifiedReport{
		{PositionReport: model.PositionReport{Identifier: "IN1", Latitude: 38.87, Longitude: -77.05}, Status: model.AuthorizationUnauthorized, Unauthorized: true, ZoneName: zone("Pentagon")},
		{PositionReport: model.PositionReport{Identifier: "OUT1"}, Status: model.AuthorizationAuthorized},
		{PositionReport: model.PositionReport{Identifier: "BAD1", Malformed: true}, Status: model.AuthorizationUnknown},
	}
}

type fakeExecer struct {
	calls  int
	failOn map[int]bool
	args   [][]any
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls++
	f.args = append(f.args, args)
	if !strings.Contains(sql, "INSERT INTO detections") {
		return pgconn.CommandTag{}, errors.New("unexpected statement")
	}
	if f.failOn[f.calls] {
		return pgconn.CommandTag{}, errors.New("unique violation")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPostgresSinkInsertsEveryRow(t *testing.T) {
	db := &fakeExecer{}
	if err := NewPostgresSink(db).Store(context.Background(), batch()); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if db.calls != 3 {
		t.Fatalf("Exec calls = %d, want 3", db.calls)
	}
	if got := db.args[0][5]; got != "unauthorized" {
		t.Fatalf("status arg = %v, want unauthorized", got)
	}
}

func TestPostgresSinkContinuesOnRowError(t *testing.T) {
	db := &fakeExecer{failOn: map[int]bool{1: true}}
	err := NewPostgresSink(db).Store(context.Background(), batch())
	if err == nil {
		t.Fatalf("expected error")
	}
	if db.calls != 3 {
		t.Fatalf("Exec calls = %d, want 3 despite failure", db.calls)
	}
	if !strings.Contains(err.Error(), "1 of 3 rows failed") || !strings.Contains(err.Error(), "IN1") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestPostgresSinkStopsOnCancelledContext(t *testing.T) {
	db := &fakeExecer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewPostgresSink(db).Store(ctx, batch())
	if !errors.Is(err, context.Canceled) || db.calls != 0 {
		t.Fatalf("err=%v calls=%d", err, db.calls)
	}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisSinkStoresHotState(t *testing.T) {
	mr, client := newRedis(t)
	sink := NewRedisSink(client, time.Hour)
	ctx := context.Background()

	if err := sink.Store(ctx, batch()); err != nil {
		t.Fatalf("Store: %v", err)
	}

	last, err := sink.LastReport(ctx, "IN1")
	if err != nil {
		t.Fatalf("LastReport: %v", err)
	}
	if !last.Unauthorized || last.ZoneName == nil || *last.ZoneName != "Pentagon" {
		t.Fatalf("unexpected stored report %+v", last)
	}
	if ttl := mr.TTL(DroneKey("IN1")); ttl != time.Hour {
		t.Fatalf("ttl = %s, want 1h", ttl)
	}

	ids, err := sink.Unauthorized(ctx)
	if err != nil {
		t.Fatalf("Unauthorized: %v", err)
	}
	if len(ids) != 1 || ids[0] != "IN1" {
		t.Fatalf("unauthorized = %v, want [IN1]", ids)
	}

	if got := mr.HGet(summaryKey, "total"); got != "3" {
		t.Fatalf("summary total = %q, want 3", got)
	}
	if got := mr.HGet(summaryKey, "unknown"); got != "1" {
		t.Fatalf("summary unknown = %q, want 1", got)
	}
}

func TestRedisSinkRefreshesUnauthorizedSet(t *testing.T) {
	_, client := newRedis(t)
	sink := NewRedisSink(client, 0)
	ctx := context.Background()

	if err := sink.Store(ctx, batch()); err != nil {
		t.Fatalf("Store: %v", err)
	}
	clean := []model.ClassifiedReport{{PositionReport: model.PositionReport{Identifier: "OUT2"}, Status: model.AuthorizationAuthorized}}
	if err := sink.Store(ctx, clean); err != nil {
		t.Fatalf("Store: %v", err)
	}
	ids, err := sink.Unauthorized(ctx)
	if err != nil {
		t.Fatalf("Unauthorized: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("unauthorized set should be replaced per batch, got %v", ids)
	}
}

func TestRedisSinkKeepsCollidingIdentifiersApart(t *testing.T) {
	_, client := newRedis(t)
	sink := NewRedisSink(client, time.Hour)
	ctx := context.Background()

	reports := []model.ClassifiedReport{
		{PositionReport: model.PositionReport{Identifier: "UAL1", ICAO24: "a1b2c3"}, Status: model.AuthorizationAuthorized},
		{PositionReport: model.PositionReport{Identifier: "UAL1", ICAO24: "d4e5f6", Latitude: 38.87, Longitude: -77.05}, Status: model.AuthorizationUnauthorized, Unauthorized: true, ZoneName: zone("Pentagon")},
		{PositionReport: model.PositionReport{Identifier: model.UnknownIdentifier, Malformed: true}, Status: model.AuthorizationUnknown},
		{PositionReport: model.PositionReport{Identifier: model.UnknownIdentifier, Malformed: true}, Status: model.AuthorizationUnknown},
		{PositionReport: model.PositionReport{Identifier: "N123"}, Status: model.AuthorizationAuthorized},
		{PositionReport: model.PositionReport{Identifier: "N123", Latitude: 1}, Status: model.AuthorizationAuthorized},
	}
	if err := sink.Store(ctx, reports); err != nil {
		t.Fatalf("Store: %v", err)
	}

	for _, id := range []string{"a1b2c3", "d4e5f6", "Unknown#2", "Unknown#3", "N123", "N123#5"} {
		if _, err := sink.LastReport(ctx, id); err != nil {
			t.Fatalf("LastReport(%s): %v", id, err)
		}
	}
	dup, err := sink.LastReport(ctx, "N123#5")
	if err != nil || dup.Latitude != 1 {
		t.Fatalf("second N123 report = %+v, %v", dup, err)
	}
	keys, err := client.Keys(ctx, droneKeyPrefix+"*").Result()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != len(reports) {
		t.Fatalf("stored %d drone keys, want %d: %v", len(keys), len(reports), keys)
	}
	ids, err := sink.Unauthorized(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "d4e5f6" {
		t.Fatalf("unauthorized = %v, %v, want [d4e5f6]", ids, err)
	}
}

func TestRedisSinkReportsConnectionErrors(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()
	if err := NewRedisSink(client, 0).Store(context.Background(), batch()); err == nil {
		t.Fatalf("expected error from closed redis")
	}
}

func TestOpenRedisPings(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := OpenRedis(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	_ = client.Close()

	if _, err := OpenRedis(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

type failingSink struct{ err error }

func (f failingSink) Store(context.Context, []model.ClassifiedReport) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	err := Multi{failingSink{}, nil, failingSink{err: boom}}.Store(context.Background(), batch())
	if !errors.Is(err, boom) {
		t.Fatalf("Multi error = %v, want boom", err)
	}
}
