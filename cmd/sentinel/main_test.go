package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/signalsfoundry/airspace-sentinel/internal/config"
	"github.com/signalsfoundry/airspace-sentinel/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const statesBody = `{"time":1700000000,"states":[
	["a1","DRN1  ","US",0,0,-77.0369,38.8977,1000,false,120,0,0,null,1000,null,false,0],
	["a2","FAR1  ","US",0,0,-100.0,35.0,1000,false,120,0,0,null,1000,null,false,0]
]}`

func testConfig(t *testing.T, feedURL string) config.Config {
	t.Helper()
	env := map[string]string{
		"FEED_URL":           feedURL,
		"BROADCAST_INTERVAL": "50ms",
		"LOG_LEVEL":          "warn",
	}
	cfg, err := config.Load(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestSentinelStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(statesBody))
	}))
	defer upstream.Close()

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := testConfig(t, upstream.URL)
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, log, listeners{http: httpLis, grpc: grpcLis})
	}()

	base := "http://" + httpLis.Addr().String()
	var snap struct {
		Sequence uint64 `json:"sequence"`
		Source   string `json:"source"`
		Summary  struct {
			Total        int `json:"total"`
			Unauthorized int `json:"unauthorized"`
			Authorized   int `json:"authorized"`
		} `json:"summary"`
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(base + "/api/snapshot")
		if err == nil {
			ok := resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&snap) == nil
			resp.Body.Close()
			if ok {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never became available: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if snap.Source != "live" {
		t.Fatalf("source = %q, want live", snap.Source)
	}
	if snap.Summary.Total != 2 || snap.Summary.Unauthorized != 1 || snap.Summary.Authorized != 1 {
		t.Fatalf("summary = %+v, want 2 total, 1 unauthorized, 1 authorized", snap.Summary)
	}

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	health := healthpb.NewHealthClient(conn)
	for {
		resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{Service: "sentinel.feed"})
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("feed health never reported SERVING: %v %v", resp, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(12 * time.Second):
		t.Fatalf("run did not exit after cancellation")
	}
}

func TestRunRejectsMissingZonesFile(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/api/states/all")
	cfg.ZonesFile = t.TempDir() + "/missing.json"

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer lis.Close()

	err = run(context.Background(), cfg, logging.Noop(), listeners{http: lis})
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Key != "ZONES_FILE" {
		t.Fatalf("run error = %v, want ZONES_FILE configuration error", err)
	}
}
