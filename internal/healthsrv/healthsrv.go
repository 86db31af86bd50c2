// Package healthsrv serves the gRPC health protocol. The feed service
// reports SERVING while snapshots are live data and NOT_SERVING while the
// publisher is degraded or stopped.
package healthsrv

import (
	"context"
	"net"

	"github.com/signalsfoundry/airspace-sentinel/internal/logging"
	"github.com/signalsfoundry/airspace-sentinel/internal/observability"
	"github.com/signalsfoundry/airspace-sentinel/internal/stream"
	"github.com/signalsfoundry/airspace-sentinel/model"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// FeedService is the health service name tracking feed liveness.
const FeedService = "sentinel.feed"

// SnapshotSource is the part of stream.Publisher the health server watches.
type SnapshotSource interface {
	Latest() *model.StreamSnapshot
	Subscribe() *stream.Subscription
}

// Server wraps a gRPC server exposing grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	source SnapshotSource
	log    logging.Logger
}

// New builds the server. metrics may be nil.
func New(source SnapshotSource, metrics *observability.PipelineCollector, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	gs := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log),
			SpanAttributesUnaryServerInterceptor(),
			metrics.UnaryServerInterceptor(),
		),
	)
	hs := health.NewServer()
	hs.SetServingStatus(FeedService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	return &Server{
		grpc:   gs,
		health: hs,
		source: source,
		log:    log.With(logging.String("component", "healthsrv")),
	}
}

// Watch follows published snapshots and updates the feed status until the
// subscription ends or ctx is cancelled.
func (s *Server) Watch(ctx context.Context) {
	sub := s.source.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.C():
			if !ok {
				s.health.SetServingStatus(FeedService, healthpb.HealthCheckResponse_NOT_SERVING)
				return
			}
			s.apply(ctx, snap)
		}
	}
}

func (s *Server) apply(ctx context.Context, snap *model.StreamSnapshot) {
	status := healthpb.HealthCheckResponse_SERVING
	if snap.Degraded {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(FeedService, status)
	s.log.Debug(ctx, "feed health updated",
		logging.String("status", status.String()),
		logging.Uint64("sequence", snap.Sequence),
	)
}

// Serve blocks serving on lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Shutdown marks every service NOT_SERVING and stops gracefully, or
// forcefully once ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}
