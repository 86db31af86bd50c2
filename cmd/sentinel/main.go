package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/airspace-sentinel/core"
	"github.com/signalsfoundry/airspace-sentinel/internal/alert"
	"github.com/signalsfoundry/airspace-sentinel/internal/config"
	"github.com/signalsfoundry/airspace-sentinel/internal/feed"
	"github.com/signalsfoundry/airspace-sentinel/internal/healthsrv"
	"github.com/signalsfoundry/airspace-sentinel/internal/httpapi"
	"github.com/signalsfoundry/airspace-sentinel/internal/logging"
	"github.com/signalsfoundry/airspace-sentinel/internal/observability"
	"github.com/signalsfoundry/airspace-sentinel/internal/storage"
	"github.com/signalsfoundry/airspace-sentinel/internal/stream"
	"github.com/signalsfoundry/airspace-sentinel/timectrl"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before reading the environment")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, listeners{}); err != nil {
		log.Error(context.Background(), "sentinel exited", logging.Err(err))
		os.Exit(1)
	}
}

// listeners lets tests inject pre-bound sockets. Nil listeners are opened
// from the configured addresses.
type listeners struct {
	http net.Listener
	grpc net.Listener
}

func run(ctx context.Context, cfg config.Config, log logging.Logger, lis listeners) error {
	registry, err := loadRegistry(cfg.ZonesFile)
	if err != nil {
		return err
	}

	cfg.Tracing.Attributes = append(cfg.Tracing.Attributes, observability.PipelineAttributes(cfg.Feed.URL, registry.Len())...)
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewPipelineCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	classifier := core.NewClassifier(registry)
	log.Info(ctx, "zone registry loaded", logging.Int("zones", registry.Len()), logging.String("source", zoneSource(cfg.ZonesFile)))

	fetcher, err := feed.NewOpenSkyClient(feed.OpenSkyConfig{
		URL:        cfg.Feed.URL,
		Timeout:    cfg.Feed.Timeout,
		Box:        cfg.Feed.Box,
		MaxRecords: cfg.Feed.MaxRecords,
		Logger:     log,
	})
	if err != nil {
		return &config.ConfigurationError{Key: "FEED_URL", Err: err}
	}
	fallback, err := feed.NewFallbackGenerator(registry.Zones(), feed.FallbackConfig{
		Min:        cfg.Fallback.Min,
		Max:        cfg.Fallback.Max,
		Background: cfg.Fallback.Background,
	})
	if err != nil {
		return &config.ConfigurationError{Key: "FALLBACK_MIN", Err: err}
	}

	alerts, closeAlerts, err := buildAlertSink(ctx, cfg.Alerts, log)
	if err != nil {
		return err
	}
	defer closeAlerts()

	persistence, closeStores, err := buildPersistenceSink(ctx, cfg.Persist, log)
	if err != nil {
		return err
	}
	defer closeStores()

	publisher, err := stream.NewPublisher(stream.Config{
		Fetcher:     fetcher,
		Fallback:    fallback,
		Aggregator:  core.NewAggregator(classifier, timectrl.SystemClock{}),
		Interval:    cfg.Interval,
		Alerts:      alerts,
		Persistence: persistence,
		Dispatcher: stream.NewDispatcher(stream.DispatcherConfig{
			MaxInFlight: cfg.Alerts.MaxInFlight,
			QueueSize:   cfg.Alerts.QueueSize,
			Timeout:     cfg.Alerts.SinkTimeout,
			Logger:      log,
			Metrics:     collector,
		}),
		Metrics: collector,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Config{
		Publisher:    publisher,
		Classifier:   classifier,
		Metrics:      collector,
		Logger:       log,
		ServeMetrics: cfg.MetricsAddr == "",
	})
	if lis.http == nil {
		if lis.http, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
			return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
		}
	}
	httpSrv := &http.Server{Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := httpSrv.Serve(lis.http); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "http server exited", logging.Err(err))
		}
	}()
	log.Info(ctx, "serving http", logging.String("addr", lis.http.Addr().String()))

	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)

	var health *healthsrv.Server
	if lis.grpc == nil && cfg.GRPCAddr != "" {
		if lis.grpc, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
		}
	}
	if lis.grpc != nil {
		health = healthsrv.New(publisher, collector, log)
		go health.Watch(ctx)
		go func() {
			if err := health.Serve(lis.grpc); err != nil {
				log.Error(ctx, "grpc health server exited", logging.Err(err))
			}
		}()
		log.Info(ctx, "serving grpc health", logging.String("addr", lis.grpc.Addr().String()))
	}

	runErr := make(chan error, 1)
	go func() { runErr <- publisher.Run(ctx) }()

	<-ctx.Done()
	log.Info(context.Background(), "shutting down sentinel")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if health != nil {
		health.Shutdown(shutdownCtx)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "http shutdown incomplete", logging.Err(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	select {
	case err := <-runErr:
		return err
	case <-shutdownCtx.Done():
		return fmt.Errorf("publisher did not stop: %w", shutdownCtx.Err())
	}
}

func loadRegistry(path string) (*core.ZoneRegistry, error) {
	zones := core.DefaultZones()
	if path != "" {
		loaded, err := core.LoadZonesFile(path)
		if err != nil {
			return nil, &config.ConfigurationError{Key: "ZONES_FILE", Err: err}
		}
		zones = loaded
	}
	registry, err := core.NewZoneRegistry(zones)
	if err != nil {
		return nil, &config.ConfigurationError{Key: "ZONES_FILE", Err: err}
	}
	return registry, nil
}

func zoneSource(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}

// buildAlertSink returns a nil sink when alerts are disabled.
func buildAlertSink(ctx context.Context, cfg config.AlertConfig, log logging.Logger) (stream.AlertSink, func(), error) {
	if !cfg.Enabled {
		log.Info(ctx, "alerts disabled")
		return nil, func() {}, nil
	}
	sinks := alert.Multi{alert.NewLogSink(log)}
	if cfg.MQTTBroker == "" {
		return sinks, func() {}, nil
	}

	client, err := alert.Connect(ctx, alert.MQTTConfig{Broker: cfg.MQTTBroker, ClientID: cfg.MQTTClient})
	if err != nil {
		return nil, nil, err
	}
	mqttSink := alert.NewMQTTSink(client, cfg.MQTTTopic)
	log.Info(ctx, "mqtt alerts enabled", logging.String("broker", cfg.MQTTBroker), logging.String("topic", mqttSink.Topic()))
	return append(sinks, mqttSink), func() { client.Disconnect(250) }, nil
}

// buildPersistenceSink returns a nil sink when persistence is disabled.
func buildPersistenceSink(ctx context.Context, cfg config.PersistConfig, log logging.Logger) (stream.PersistenceSink, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}

	var (
		sinks   storage.Multi
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.PostgresURL != "" {
		pool, err := storage.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
		sinks = append(sinks, storage.NewPostgresSink(pool))
		log.Info(ctx, "postgres persistence enabled")
	}
	if cfg.RedisAddr != "" {
		client, err := storage.OpenRedis(ctx, cfg.RedisAddr)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		sinks = append(sinks, storage.NewRedisSink(client, cfg.RedisTTL))
		log.Info(ctx, "redis hot state enabled", logging.String("addr", cfg.RedisAddr))
	}
	return sinks, closeAll, nil
}

func serveMetrics(addr string, collector *observability.PipelineCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
