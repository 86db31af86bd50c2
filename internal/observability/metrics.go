package observability

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/signalsfoundry/airspace-sentinel/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// PipelineCollector bundles Prometheus metrics for the classification
// pipeline and provides helpers to wire them into HTTP and gRPC servers.
// A nil *PipelineCollector is a valid no-op recorder.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	Cycles          *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	FetchErrors     *prometheus.CounterVec
	SnapshotReports *prometheus.GaugeVec
	Subscribers     prometheus.Gauge
	SubscriberDrops prometheus.Counter
	SinkDispatches  *prometheus.CounterVec

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
	RPCRequests   *prometheus.CounterVec
}

// NewPipelineCollector registers pipeline metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	cycles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_cycles_total",
		Help: "Publishing cycles completed, labeled by snapshot source (live or fallback).",
	}, []string{"source"}), "sentinel_cycles_total")
	if err != nil {
		return nil, err
	}

	fetchDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_fetch_duration_seconds",
		Help:    "Upstream feed fetch latency in seconds, including failed fetches.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}), "sentinel_fetch_duration_seconds")
	if err != nil {
		return nil, err
	}

	fetchErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_fetch_errors_total",
		Help: "Cycles that fell back to synthetic data, labeled by reason.",
	}, []string{"reason"}), "sentinel_fetch_errors_total")
	if err != nil {
		return nil, err
	}

	reports, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_snapshot_reports",
		Help: "Reports in the latest snapshot, labeled by classification status.",
	}, []string{"status"}), "sentinel_snapshot_reports")
	if err != nil {
		return nil, err
	}

	subscribers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_subscribers",
		Help: "Currently connected stream subscribers.",
	}), "sentinel_subscribers")
	if err != nil {
		return nil, err
	}

	drops, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_subscriber_drops_total",
		Help: "Snapshots discarded from a slow subscriber's buffer in favour of a newer one.",
	}), "sentinel_subscriber_drops_total")
	if err != nil {
		return nil, err
	}

	sinks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_sink_dispatch_total",
		Help: "Alert and persistence dispatches, labeled by sink and result (ok, error, dropped).",
	}, []string{"sink", "result"}), "sentinel_sink_dispatch_total")
	if err != nil {
		return nil, err
	}

	httpRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_http_requests_total",
		Help: "Handled HTTP requests, labeled by route, method and status code.",
	}, []string{"route", "method", "code"}), "sentinel_http_requests_total")
	if err != nil {
		return nil, err
	}

	httpDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds. Streaming routes observe the connection lifetime.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route"}), "sentinel_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	rpcRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_grpc_requests_total",
		Help: "Handled gRPC requests, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "sentinel_grpc_requests_total")
	if err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:        gatherer,
		Cycles:          cycles,
		FetchDuration:   fetchDuration,
		FetchErrors:     fetchErrors,
		SnapshotReports: reports,
		Subscribers:     subscribers,
		SubscriberDrops: drops,
		SinkDispatches:  sinks,
		HTTPRequests:    httpRequests,
		HTTPDurations:   httpDurations,
		RPCRequests:     rpcRequests,
	}, nil
}

// ObserveCycle records a completed publishing cycle.
func (c *PipelineCollector) ObserveCycle(source model.SnapshotSource, fetch time.Duration, summary model.ValidationSummary) {
	if c == nil {
		return
	}
	c.Cycles.WithLabelValues(string(source)).Inc()
	c.FetchDuration.Observe(fetch.Seconds())
	c.SnapshotReports.WithLabelValues(string(model.AuthorizationAuthorized)).Set(float64(summary.Authorized))
	c.SnapshotReports.WithLabelValues(string(model.AuthorizationUnauthorized)).Set(float64(summary.Unauthorized))
	c.SnapshotReports.WithLabelValues(string(model.AuthorizationUnknown)).Set(float64(summary.Unknown))
}

// IncFetchErrors counts a degraded cycle.
func (c *PipelineCollector) IncFetchErrors(reason string) {
	if c == nil {
		return
	}
	c.FetchErrors.WithLabelValues(reason).Inc()
}

// SetSubscribers updates the subscriber gauge.
func (c *PipelineCollector) SetSubscribers(n int) {
	if c == nil {
		return
	}
	c.Subscribers.Set(float64(n))
}

// IncSubscriberDrops counts a coalesced snapshot.
func (c *PipelineCollector) IncSubscriberDrops() {
	if c == nil {
		return
	}
	c.SubscriberDrops.Inc()
}

// IncSinkDispatch counts one sink dispatch outcome.
func (c *PipelineCollector) IncSinkDispatch(sink, result string) {
	if c == nil {
		return
	}
	c.SinkDispatches.WithLabelValues(sink, result).Inc()
}

// InstrumentHandler wraps h so that each request is counted and timed under
// the given route label.
func (c *PipelineCollector) InstrumentHandler(route string, h http.Handler) http.Handler {
	if c == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(sw, r)
		c.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		c.HTTPDurations.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// UnaryServerInterceptor records request counts for unary RPCs.
func (c *PipelineCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PipelineCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// statusWriter captures the response status. It forwards Flush, Hijack and Unwrap so
// streaming handlers (SSE, WebSocket upgrade) keep working behind it.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	w.wroteHeader = true
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
