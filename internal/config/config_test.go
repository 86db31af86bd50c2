package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8000" || cfg.GRPCAddr != ":50051" {
		t.Fatalf("addresses = %q, %q", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.Interval != 10*time.Second || cfg.Feed.Timeout != 10*time.Second {
		t.Fatalf("interval=%s timeout=%s", cfg.Interval, cfg.Feed.Timeout)
	}
	if cfg.Fallback.Min != 3 || cfg.Fallback.Max != 7 || cfg.Fallback.Background != 10 {
		t.Fatalf("fallback = %+v", cfg.Fallback)
	}
	if !cfg.Alerts.Enabled || cfg.Alerts.MaxInFlight != 16 || cfg.Alerts.QueueSize != 1024 || cfg.Alerts.MQTTTopic != "sentinel/alerts" {
		t.Fatalf("alerts = %+v", cfg.Alerts)
	}
	if cfg.Persist.Enabled || cfg.Persist.RedisTTL != 24*time.Hour {
		t.Fatalf("persist = %+v", cfg.Persist)
	}
	if !cfg.Feed.Box.IsZero() {
		t.Fatalf("bbox should be empty by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(env(map[string]string{
		"SENTINEL_HTTP_ADDR": "127.0.0.1:9000",
		"SENTINEL_GRPC_ADDR": "",
		"FEED_BBOX":          "33, -110, 43, -80",
		"FEED_MAX_RECORDS":   "500",
		"BROADCAST_INTERVAL": "2s",
		"ALERTS_ENABLED":     "false",
		"PERSIST_ENABLED":    "true",
		"REDIS_ADDR":         "localhost:6379",
		"LOG_LEVEL":          "DEBUG",
		"LOG_FORMAT":         "json",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9000" || cfg.Interval != 2*time.Second || cfg.Feed.MaxRecords != 500 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.GRPCAddr != "" {
		t.Fatalf("empty SENTINEL_GRPC_ADDR should disable grpc, got %q", cfg.GRPCAddr)
	}
	if cfg.Feed.Box.LatMin != 33 || cfg.Feed.Box.LonMax != -80 {
		t.Fatalf("bbox = %+v", cfg.Feed.Box)
	}
	if cfg.Alerts.Enabled || !cfg.Persist.Enabled || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected flags %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"FEED_TIMEOUT":        {"FEED_TIMEOUT": "soon"},
		"BROADCAST_INTERVAL":  {"BROADCAST_INTERVAL": "0s"},
		"FALLBACK_MIN":        {"FALLBACK_MIN": "9", "FALLBACK_MAX": "2"},
		"FALLBACK_BACKGROUND": {"FALLBACK_BACKGROUND": "-1"},
		"ALERT_MAX_INFLIGHT":  {"ALERT_MAX_INFLIGHT": "0"},
		"SINK_QUEUE_SIZE":     {"SINK_QUEUE_SIZE": "-4"},
		"ALERTS_ENABLED":      {"ALERTS_ENABLED": "maybe"},
		"PERSIST_ENABLED":     {"PERSIST_ENABLED": "true"},
		"FEED_BBOX":           {"FEED_BBOX": "1,2,3"},
		"LOG_LEVEL":           {"LOG_LEVEL": "loud"},
		"TRACING_EXPORTER":    {"TRACING_ENABLED": "true", "TRACING_EXPORTER": "zipkin"},
	}
	for key, vars := range cases {
		t.Run(key, func(t *testing.T) {
			_, err := Load(env(vars))
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cerr.Key != key {
				t.Fatalf("error key = %q, want %q (%v)", cerr.Key, key, err)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SENTINEL_TEST_ENV_KEY=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("SENTINEL_TEST_ENV_KEY", "")
	os.Unsetenv("SENTINEL_TEST_ENV_KEY")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("SENTINEL_TEST_ENV_KEY"); got != "from-file" {
		t.Fatalf("env = %q, want from-file", got)
	}
}
