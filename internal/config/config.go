// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/signalsfoundry/airspace-sentinel/internal/alert"
	"github.com/signalsfoundry/airspace-sentinel/internal/feed"
	"github.com/signalsfoundry/airspace-sentinel/internal/observability"
	"github.com/signalsfoundry/airspace-sentinel/internal/storage"
	"github.com/signalsfoundry/airspace-sentinel/internal/stream"
)

// ConfigurationError reports an invalid option. The service refuses to
// start when one is returned.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// FeedConfig configures the upstream feed.
type FeedConfig struct {
	URL        string
	Timeout    time.Duration
	Box        feed.BoundingBox
	MaxRecords int
}

// FallbackConfig sizes the degraded-mode batch.
type FallbackConfig struct {
	Min        int
	Max        int
	Background int
}

// AlertConfig configures alert dispatch.
type AlertConfig struct {
	Enabled     bool
	MQTTBroker  string
	MQTTTopic   string
	MQTTClient  string
	MaxInFlight int
	QueueSize   int
	SinkTimeout time.Duration
}

// PersistConfig configures batch persistence.
type PersistConfig struct {
	Enabled     bool
	PostgresURL string
	RedisAddr   string
	RedisTTL    time.Duration
}

// Config is the full service configuration.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	Feed      FeedConfig
	Interval  time.Duration
	Fallback  FallbackConfig
	ZonesFile string

	Alerts  AlertConfig
	Persist PersistConfig

	LogLevel  string
	LogFormat string
	Tracing   observability.TracingConfig
}

// LoadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &ConfigurationError{Key: "env-file", Err: err}
	}
	return nil
}

// Load builds a Config from lookup (os.LookupEnv when nil).
func Load(lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	r := reader{lookup: lookup}

	cfg := Config{
		HTTPAddr:    r.str("SENTINEL_HTTP_ADDR", ":8000"),
		GRPCAddr:    r.optional("SENTINEL_GRPC_ADDR", ":50051"),
		MetricsAddr: r.str("METRICS_ADDR", ""),
		Feed: FeedConfig{
			URL:        r.str("FEED_URL", feed.DefaultURL),
			Timeout:    r.positiveDuration("FEED_TIMEOUT", feed.DefaultTimeout),
			Box:        r.bbox("FEED_BBOX"),
			MaxRecords: r.nonNegativeInt("FEED_MAX_RECORDS", 0),
		},
		Interval: r.positiveDuration("BROADCAST_INTERVAL", stream.DefaultInterval),
		Fallback: FallbackConfig{
			Min:        r.nonNegativeInt("FALLBACK_MIN", feed.DefaultFallbackMin),
			Max:        r.nonNegativeInt("FALLBACK_MAX", feed.DefaultFallbackMax),
			Background: r.nonNegativeInt("FALLBACK_BACKGROUND", feed.DefaultFallbackBackground),
		},
		ZonesFile: r.str("ZONES_FILE", ""),
		Alerts: AlertConfig{
			Enabled:     r.boolean("ALERTS_ENABLED", true),
			MQTTBroker:  r.str("ALERT_MQTT_BROKER", ""),
			MQTTTopic:   r.str("ALERT_MQTT_TOPIC", alert.DefaultTopic),
			MQTTClient:  r.str("ALERT_MQTT_CLIENT_ID", alert.DefaultClientID),
			MaxInFlight: r.positiveInt("ALERT_MAX_INFLIGHT", stream.DefaultMaxInFlight),
			QueueSize:   r.positiveInt("SINK_QUEUE_SIZE", stream.DefaultQueueSize),
			SinkTimeout: r.positiveDuration("SINK_TIMEOUT", stream.DefaultSinkTimeout),
		},
		Persist: PersistConfig{
			Enabled:     r.boolean("PERSIST_ENABLED", false),
			PostgresURL: r.str("POSTGRES_URL", ""),
			RedisAddr:   r.str("REDIS_ADDR", ""),
			RedisTTL:    r.positiveDuration("REDIS_TTL", storage.DefaultRedisTTL),
		},
		LogLevel:  strings.ToLower(r.str("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(r.str("LOG_FORMAT", "text")),
		Tracing:   observability.TracingConfigFromEnv(lookup),
	}

	if err := r.err(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, &ConfigurationError{Key: "SENTINEL_HTTP_ADDR", Err: errors.New("must not be empty")})
	}
	if c.Fallback.Min > c.Fallback.Max {
		errs = append(errs, &ConfigurationError{Key: "FALLBACK_MIN", Err: fmt.Errorf("%d above FALLBACK_MAX %d", c.Fallback.Min, c.Fallback.Max)})
	}
	if c.Persist.Enabled && c.Persist.PostgresURL == "" && c.Persist.RedisAddr == "" {
		errs = append(errs, &ConfigurationError{Key: "PERSIST_ENABLED", Err: errors.New("requires POSTGRES_URL or REDIS_ADDR")})
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, &ConfigurationError{Key: "LOG_LEVEL", Err: fmt.Errorf("unknown level %q", c.LogLevel)})
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, &ConfigurationError{Key: "LOG_FORMAT", Err: fmt.Errorf("unknown format %q", c.LogFormat)})
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "otlp", "otlpgrpc":
		default:
			errs = append(errs, &ConfigurationError{Key: "TRACING_EXPORTER", Err: fmt.Errorf("unsupported exporter %q", c.Tracing.Exporter)})
		}
	}
	return errors.Join(errs...)
}

// reader collects parse errors so every bad key is reported at once.
type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *reader) fail(key string, err error) {
	r.errs = append(r.errs, &ConfigurationError{Key: key, Err: err})
}

func (r *reader) err() error { return errors.Join(r.errs...) }

func (r *reader) str(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

// optional is like str but an explicitly empty value disables the option.
func (r *reader) optional(key, def string) string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v)
}

func (r *reader) boolean(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, fmt.Errorf("invalid boolean %q", v))
		return def
	}
	return b
}

func (r *reader) integer(key string, def int) (int, bool) {
	v, ok := r.raw(key)
	if !ok {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, fmt.Errorf("invalid integer %q", v))
		return def, false
	}
	return n, true
}

func (r *reader) nonNegativeInt(key string, def int) int {
	n, ok := r.integer(key, def)
	if ok && n < 0 {
		r.fail(key, fmt.Errorf("must not be negative, got %d", n))
		return def
	}
	return n
}

func (r *reader) positiveInt(key string, def int) int {
	n, ok := r.integer(key, def)
	if ok && n <= 0 {
		r.fail(key, fmt.Errorf("must be positive, got %d", n))
		return def
	}
	return n
}

func (r *reader) positiveDuration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, fmt.Errorf("invalid duration %q", v))
		return def
	}
	if d <= 0 {
		r.fail(key, fmt.Errorf("must be positive, got %s", d))
		return def
	}
	return d
}

func (r *reader) bbox(key string) feed.BoundingBox {
	v, ok := r.raw(key)
	if !ok {
		return feed.BoundingBox{}
	}
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		r.fail(key, fmt.Errorf("want lamin,lomin,lamax,lomax, got %q", v))
		return feed.BoundingBox{}
	}
	var vals [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			r.fail(key, fmt.Errorf("invalid number %q", p))
			return feed.BoundingBox{}
		}
		vals[i] = f
	}
	box := feed.BoundingBox{LatMin: vals[0], LonMin: vals[1], LatMax: vals[2], LonMax: vals[3]}
	if err := box.Validate(); err != nil {
		r.fail(key, err)
		return feed.BoundingBox{}
	}
	return box
}
