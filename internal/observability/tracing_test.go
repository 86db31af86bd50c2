package observability

import (
	"context"
	"testing"

	"github.com/signalsfoundry/airspace-sentinel/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTracingConfigFromEnvDefaults(t *testing.T) {
	cfg := TracingConfigFromEnv(func(string) (string, bool) { return "", false })
	if cfg.Enabled || cfg.Exporter != "stdout" || cfg.ServiceName != "airspace-sentinel" || cfg.SampleRatio != 1 {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
}

func TestTracingConfigFromEnvOverrides(t *testing.T) {
	env := map[string]string{
		"TRACING_ENABLED":      "TRUE",
		"TRACING_EXPORTER":     "OTLP",
		"OTLP_ENDPOINT":        "collector:4317",
		"TRACING_SAMPLE_RATIO": "0.25",
	}
	cfg := TracingConfigFromEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" || cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected config: %#v", cfg)
	}

	env["TRACING_SAMPLE_RATIO"] = "7"
	cfg = TracingConfigFromEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if cfg.SampleRatio != 1 {
		t.Fatalf("out-of-range ratio should fall back to 1, got %v", cfg.SampleRatio)
	}
}

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	_, span := StartSpan(context.Background(), "test")
	span.End()
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestCycleSamplerKeepsRequestCycles(t *testing.T) {
	sampler := NewCycleSampler(0)
	traceID := trace.TraceID{1, 2, 3, 4}

	request := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       traceID,
		Name:          "stream.cycle",
		Attributes:    []attribute.KeyValue{AttrTrigger.String(TriggerRequest)},
	})
	if request.Decision != sdktrace.RecordAndSample {
		t.Fatalf("request cycle decision = %v, want RecordAndSample", request.Decision)
	}

	tick := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       traceID,
		Name:          "stream.cycle",
		Attributes:    []attribute.KeyValue{AttrTrigger.String(TriggerTick)},
	})
	if tick.Decision != sdktrace.Drop {
		t.Fatalf("tick cycle decision at ratio 0 = %v, want Drop", tick.Decision)
	}

	always := NewCycleSampler(1).ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       traceID,
		Name:          "stream.cycle",
	})
	if always.Decision != sdktrace.RecordAndSample {
		t.Fatalf("ratio 1 decision = %v, want RecordAndSample", always.Decision)
	}
}

func TestTracingResourceCarriesPipelineAttributes(t *testing.T) {
	cfg := TracingConfig{
		ServiceName: "airspace-sentinel",
		Attributes:  PipelineAttributes("https://opensky-network.org/api/states/all", 7),
	}
	res, err := tracingResource(context.Background(), cfg)
	if err != nil {
		t.Fatalf("tracingResource: %v", err)
	}
	set := res.Set()
	if v, ok := set.Value("sentinel.zones"); !ok || v.AsInt64() != 7 {
		t.Fatalf("sentinel.zones = %v (present %v), want 7", v.AsInt64(), ok)
	}
	if v, ok := set.Value("sentinel.feed.host"); !ok || v.AsString() != "opensky-network.org" {
		t.Fatalf("sentinel.feed.host = %q (present %v)", v.AsString(), ok)
	}
	if v, ok := set.Value("service.name"); !ok || v.AsString() != "airspace-sentinel" {
		t.Fatalf("service.name = %q (present %v)", v.AsString(), ok)
	}
}

func TestPipelineAttributesSkipsUnparsableURL(t *testing.T) {
	attrs := PipelineAttributes("::not a url", 3)
	if len(attrs) != 1 || attrs[0].Key != "sentinel.zones" {
		t.Fatalf("attrs = %v, want only the zone count", attrs)
	}
}
