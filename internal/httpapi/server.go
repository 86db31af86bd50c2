// Package httpapi exposes snapshots, zones and single-point classification
// over HTTP, with WebSocket and Server-Sent Events push.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/signalsfoundry/airspace-sentinel/core"
	"github.com/signalsfoundry/airspace-sentinel/internal/logging"
	"github.com/signalsfoundry/airspace-sentinel/internal/observability"
	"github.com/signalsfoundry/airspace-sentinel/internal/stream"
	"github.com/signalsfoundry/airspace-sentinel/model"
)

// Publisher is the part of stream.Publisher the HTTP layer depends on.
type Publisher interface {
	Latest() *model.StreamSnapshot
	Trigger(ctx context.Context) (*model.StreamSnapshot, error)
	Subscribe() *stream.Subscription
	State() stream.State
	Subscribers() int
}

// Config wires a Server.
type Config struct {
	Publisher  Publisher
	Classifier *core.Classifier
	Metrics    *observability.PipelineCollector
	Logger     logging.Logger

	// ServeMetrics mounts /metrics on this server.
	ServeMetrics bool
	// RefreshTimeout bounds an on-demand cycle.
	RefreshTimeout time.Duration
	// PingInterval is the WebSocket keepalive and SSE comment interval.
	PingInterval time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	publisher      Publisher
	classifier     *core.Classifier
	metrics        *observability.PipelineCollector
	log            logging.Logger
	serveMetrics   bool
	refreshTimeout time.Duration
	pingInterval   time.Duration
	upgrader       websocket.Upgrader
}

// New builds a Server. Publisher and Classifier are required.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Noop()
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Server{
		publisher:      cfg.Publisher,
		classifier:     cfg.Classifier,
		metrics:        cfg.Metrics,
		log:            cfg.Logger.With(logging.String("component", "httpapi")),
		serveMetrics:   cfg.ServeMetrics,
		refreshTimeout: cfg.RefreshTimeout,
		pingInterval:   cfg.PingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.HandleOPTIONS = false
	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.route(r, http.MethodGet, "/", s.handleHome)
	s.route(r, http.MethodGet, "/healthz", s.handleHealth)
	s.route(r, http.MethodGet, "/ws", s.handleWebSocket)
	s.route(r, http.MethodGet, "/api/events", s.handleEvents)
	s.route(r, http.MethodGet, "/api/snapshot", s.handleSnapshot)
	s.route(r, http.MethodGet, "/fetch-drones-live", s.handleLegacyFetch)
	s.route(r, http.MethodGet, "/api/zones", s.handleZones)
	s.route(r, http.MethodGet, "/restricted-zones", s.handleZones)
	s.route(r, http.MethodGet, "/api/classify", s.handleClassify)
	s.route(r, http.MethodPost, "/api/classify", s.handleClassify)
	s.route(r, http.MethodPost, "/force-drone", s.handleClassify)
	if s.serveMetrics {
		r.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	return requestIDMiddleware(s.log, accessLogMiddleware(corsMiddleware(r)))
}

func (s *Server) route(r *httprouter.Router, method, path string, h http.HandlerFunc) {
	r.Handler(method, path, s.metrics.InstrumentHandler(path, h))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
