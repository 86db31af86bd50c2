package stream

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/airspace-sentinel/internal/logging"
	"golang.org/x/sync/semaphore"
)

// Defaults for sink dispatch.
const (
	DefaultMaxInFlight = 16
	DefaultQueueSize   = 1024
	DefaultSinkTimeout = 5 * time.Second
)

// Dispatch outcomes recorded per sink.
const (
	DispatchOK      = "ok"
	DispatchError   = "error"
	DispatchDropped = "dropped"
)

// DispatcherConfig bounds sink dispatch. MaxInFlight and QueueSize apply to
// each sink name separately.
type DispatcherConfig struct {
	MaxInFlight int
	QueueSize   int
	Timeout     time.Duration
	Logger      logging.Logger
	Metrics     MetricsRecorder
}

// Dispatcher runs sink calls asynchronously. Every sink name has its own
// queue drained by at most MaxInFlight concurrent calls, so a burst on one
// sink never starves another. A call is dropped and counted only when its
// sink's queue is full or the dispatcher is closed.
type Dispatcher struct {
	maxInFlight int64
	queueSize   int
	timeout     time.Duration
	log         logging.Logger
	metrics     MetricsRecorder

	mu     sync.Mutex
	closed bool
	lanes  map[string]*lane
	wg     sync.WaitGroup
}

type lane struct {
	sink  string
	sem   *semaphore.Weighted
	queue chan job
}

type job struct {
	ctx context.Context
	fn  func(context.Context) error
}

// NewDispatcher applies defaults for unset fields.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSinkTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Noop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Dispatcher{
		maxInFlight: int64(cfg.MaxInFlight),
		queueSize:   cfg.QueueSize,
		timeout:     cfg.Timeout,
		log:         cfg.Logger.With(logging.String("component", "dispatcher")),
		metrics:     cfg.Metrics,
		lanes:       make(map[string]*lane),
	}
}

// Go queues fn under the named sink. The call gets its own timeout and
// keeps ctx values but not its cancellation. Go never blocks; it returns
// false when the call was dropped.
func (d *Dispatcher) Go(ctx context.Context, sink string, fn func(context.Context) error) bool {
	ctx = context.WithoutCancel(ctx)

	d.mu.Lock()
	accepted := false
	if !d.closed {
		select {
		case d.laneLocked(sink).queue <- job{ctx: ctx, fn: fn}:
			accepted = true
		default:
		}
	}
	d.mu.Unlock()

	if !accepted {
		d.metrics.IncSinkDispatch(sink, DispatchDropped)
		d.log.Warn(ctx, "sink dispatch dropped", logging.String("sink", sink))
	}
	return accepted
}

func (d *Dispatcher) laneLocked(sink string) *lane {
	l, ok := d.lanes[sink]
	if !ok {
		l = &lane{
			sink:  sink,
			sem:   semaphore.NewWeighted(d.maxInFlight),
			queue: make(chan job, d.queueSize),
		}
		d.lanes[sink] = l
		d.wg.Add(1)
		go d.drain(l)
	}
	return l
}

// drain takes a slot before receiving, so queued calls stay in the queue
// while the sink is saturated.
func (d *Dispatcher) drain(l *lane) {
	defer d.wg.Done()
	for {
		_ = l.sem.Acquire(context.Background(), 1)
		j, ok := <-l.queue
		if !ok {
			l.sem.Release(1)
			return
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer l.sem.Release(1)
			d.call(l.sink, j)
		}()
	}
}

func (d *Dispatcher) call(sink string, j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
	defer cancel()

	if err := j.fn(ctx); err != nil {
		serr := &SinkError{Sink: sink, Err: err}
		d.metrics.IncSinkDispatch(sink, DispatchError)
		d.log.Warn(ctx, "sink call failed", logging.String("sink", sink), logging.Err(serr))
		return
	}
	d.metrics.IncSinkDispatch(sink, DispatchOK)
}

// Close stops accepting calls and waits for queued and in-flight ones, or
// for ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, l := range d.lanes {
			close(l.queue)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
