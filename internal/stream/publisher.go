package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/airspace-sentinel/core"
	"github.com/signalsfoundry/airspace-sentinel/internal/feed"
	"github.com/signalsfoundry/airspace-sentinel/internal/logging"
	"github.com/signalsfoundry/airspace-sentinel/internal/observability"
	"github.com/signalsfoundry/airspace-sentinel/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultInterval is the time between publishing cycles.
const DefaultInterval = 10 * time.Second

const shutdownDrainTimeout = 10 * time.Second

var (
	// ErrNotRunning is returned by Trigger before Run has started.
	ErrNotRunning = errors.New("stream: publisher not running")
	// ErrStopped is returned once the publishing loop has exited.
	ErrStopped = errors.New("stream: publisher stopped")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("stream: publisher already running")
)

// FallbackSource supplies the synthetic batch served while degraded.
type FallbackSource interface {
	Generate() []model.PositionReport
}

// Config wires a Publisher.
type Config struct {
	Fetcher    feed.Fetcher
	Fallback   FallbackSource
	Aggregator *core.Aggregator
	Interval   time.Duration

	// Alerts and Persistence are optional.
	Alerts      AlertSink
	Persistence PersistenceSink
	Dispatcher  *Dispatcher

	SubscriberBuffer int
	Metrics          MetricsRecorder
	Logger           logging.Logger
}

// Publisher runs a single publishing loop shared by every subscriber. The
// loop is the only writer of snapshots; readers use Latest or Subscribe.
type Publisher struct {
	fetcher     feed.Fetcher
	fallback    FallbackSource
	aggregator  *core.Aggregator
	interval    time.Duration
	alerts      AlertSink
	persistence PersistenceSink
	dispatcher  *Dispatcher
	metrics     MetricsRecorder
	log         logging.Logger

	hub      *Hub
	latest   atomic.Pointer[model.StreamSnapshot]
	state    atomic.Int32
	running  atomic.Bool
	sequence uint64

	triggers chan triggerRequest
	done     chan struct{}
}

type triggerRequest struct {
	ctx   context.Context
	reply chan *model.StreamSnapshot
}

// NewPublisher validates cfg and applies defaults.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("stream: fetcher is required")
	}
	if cfg.Fallback == nil {
		return nil, fmt.Errorf("stream: fallback source is required")
	}
	if cfg.Aggregator == nil {
		return nil, fmt.Errorf("stream: aggregator is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Noop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewDispatcher(DispatcherConfig{Logger: cfg.Logger, Metrics: cfg.Metrics})
	}

	return &Publisher{
		fetcher:     cfg.Fetcher,
		fallback:    cfg.Fallback,
		aggregator:  cfg.Aggregator,
		interval:    cfg.Interval,
		alerts:      cfg.Alerts,
		persistence: cfg.Persistence,
		dispatcher:  cfg.Dispatcher,
		metrics:     cfg.Metrics,
		log:         cfg.Logger.With(logging.String("component", "publisher")),
		hub:         NewHub(cfg.SubscriberBuffer, cfg.Metrics),
		triggers:    make(chan triggerRequest),
		done:        make(chan struct{}),
	}, nil
}

// Latest returns the most recent snapshot, or nil before the first cycle.
func (p *Publisher) Latest() *model.StreamSnapshot { return p.latest.Load() }

// State returns the current lifecycle phase.
func (p *Publisher) State() State { return State(p.state.Load()) }

// Subscribe registers a subscriber seeded with the latest snapshot.
func (p *Publisher) Subscribe() *Subscription { return p.hub.Subscribe(p.latest.Load()) }

// Subscribers returns the number of active subscriptions.
func (p *Publisher) Subscribers() int { return p.hub.Len() }

// Done is closed when Run returns.
func (p *Publisher) Done() <-chan struct{} { return p.done }

// Run executes a cycle immediately and then once per interval until ctx is
// cancelled. On exit it closes every subscription and waits for in-flight
// sink calls. It returns nil after a cancellation.
func (p *Publisher) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.shutdown(ctx)

	p.log.Info(ctx, "publisher started", logging.Duration("interval", p.interval))

	p.cycle(ctx, observability.TriggerTick)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.cycle(ctx, observability.TriggerTick)
		case req := <-p.triggers:
			snap := p.cycle(withRequestSpan(ctx, req.ctx), observability.TriggerRequest)
			req.reply <- snap
			ticker.Reset(p.interval)
		}
	}
}

// Trigger asks the loop for an immediate cycle and returns its snapshot.
func (p *Publisher) Trigger(ctx context.Context) (*model.StreamSnapshot, error) {
	if !p.running.Load() {
		return nil, ErrNotRunning
	}
	req := triggerRequest{ctx: ctx, reply: make(chan *model.StreamSnapshot, 1)}
	select {
	case p.triggers <- req:
	case <-p.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case snap := <-req.reply:
		if snap == nil {
			return nil, ErrStopped
		}
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Publisher) shutdown(ctx context.Context) {
	p.setState(StateStopped)
	p.hub.Close()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownDrainTimeout)
	defer cancel()
	if err := p.dispatcher.Close(drainCtx); err != nil {
		p.log.Warn(drainCtx, "sink calls still in flight at shutdown", logging.Err(err))
	}
	close(p.done)
	p.log.Info(drainCtx, "publisher stopped")
}

// cycle runs fetch, classify and broadcast once. It returns nil when ctx was
// cancelled before the snapshot could be published.
func (p *Publisher) cycle(ctx context.Context, trigger string) *model.StreamSnapshot {
	ctx, span := observability.StartSpan(ctx, "stream.cycle", observability.AttrTrigger.String(trigger))
	defer span.End()

	p.setState(StateFetching)
	fetchCtx, fetchSpan := observability.StartSpan(ctx, "stream.fetch")
	start := time.Now()
	reports, err := p.fetcher.Fetch(fetchCtx)
	fetchDuration := time.Since(start)
	if err == nil && len(reports) == 0 {
		err = feed.ErrEmptyPayload
	}
	if err != nil {
		fetchSpan.RecordError(err)
		fetchSpan.SetStatus(codes.Error, feed.Reason(err))
	}
	fetchSpan.End()

	if ctx.Err() != nil {
		return nil
	}

	source := model.SourceLive
	var degradedReason string
	if err != nil {
		p.setState(StateDegraded)
		reason := feed.Reason(err)
		degradedReason = err.Error()
		p.metrics.IncFetchErrors(reason)
		p.log.Warn(ctx, "feed unavailable; serving fallback batch",
			logging.String("reason", reason),
			logging.Err(err),
		)
		reports = p.fallback.Generate()
		for i := range reports {
			reports[i].Synthetic = true
		}
		source = model.SourceFallback
	}

	p.setState(StateClassifying)
	snap := p.aggregator.Aggregate(reports)
	p.sequence++
	snap.Sequence = p.sequence
	snap.Source = source
	snap.Degraded = source == model.SourceFallback
	snap.DegradedReason = degradedReason

	p.setState(StateBroadcasting)
	published := &snap
	p.latest.Store(published)
	p.hub.Broadcast(published)
	p.metrics.ObserveCycle(source, fetchDuration, snap.Summary)

	span.SetAttributes(
		attribute.Int64("sentinel.sequence", int64(snap.Sequence)),
		attribute.String("sentinel.source", string(source)),
		attribute.Int("sentinel.total", snap.Summary.Total),
		attribute.Int("sentinel.unauthorized", snap.Summary.Unauthorized),
	)
	p.log.Debug(ctx, "snapshot published",
		logging.Uint64("sequence", snap.Sequence),
		logging.String("source", string(source)),
		logging.Int("total", snap.Summary.Total),
		logging.Int("unauthorized", snap.Summary.Unauthorized),
		logging.Int("subscribers", p.hub.Len()),
	)

	p.dispatchSideEffects(ctx, published)

	if snap.Degraded {
		p.setState(StateDegraded)
	} else {
		p.setState(StateIdle)
	}
	return published
}

func (p *Publisher) dispatchSideEffects(ctx context.Context, snap *model.StreamSnapshot) {
	if p.alerts != nil {
		for _, r := range snap.Reports {
			if !r.Unauthorized || r.ZoneName == nil {
				continue
			}
			a := model.Alert{
				Identifier: r.Identifier,
				Latitude:   r.Latitude,
				Longitude:  r.Longitude,
				ZoneName:   *r.ZoneName,
				DetectedAt: snap.GeneratedAt,
				Synthetic:  r.Synthetic,
			}
			p.dispatcher.Go(ctx, "alert", func(ctx context.Context) error {
				return p.alerts.Notify(ctx, a)
			})
		}
	}
	if p.persistence != nil && len(snap.Reports) > 0 {
		reports := snap.Reports
		p.dispatcher.Go(ctx, "persistence", func(ctx context.Context) error {
			return p.persistence.Store(ctx, reports)
		})
	}
}

func (p *Publisher) setState(s State) { p.state.Store(int32(s)) }

// withRequestSpan makes a triggered cycle a child of the caller's span while
// keeping the loop's cancellation.
func withRequestSpan(loop, request context.Context) context.Context {
	if request == nil {
		return loop
	}
	sc := trace.SpanContextFromContext(request)
	if !sc.IsValid() {
		return loop
	}
	return trace.ContextWithSpanContext(loop, sc)
}
