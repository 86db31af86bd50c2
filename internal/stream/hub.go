package stream

import (
	"sync"

	"github.com/signalsfoundry/airspace-sentinel/model"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 4

// Hub fans snapshots out to subscribers. Delivery never blocks: when a
// subscriber's buffer is full its oldest pending snapshot is discarded.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	closed  bool
	buffer  int
	metrics MetricsRecorder
}

// NewHub creates a hub. buffer <= 0 uses DefaultSubscriberBuffer.
func NewHub(buffer int, metrics MetricsRecorder) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Hub{
		subs:    make(map[*Subscription]struct{}),
		buffer:  buffer,
		metrics: metrics,
	}
}

// Subscription receives snapshots in strictly increasing sequence order.
type Subscription struct {
	hub *Hub
	ch  chan *model.StreamSnapshot

	mu      sync.Mutex
	closed  bool
	lastSeq uint64
}

// C returns the delivery channel. It is closed when the subscription or the
// hub is closed.
func (s *Subscription) C() <-chan *model.StreamSnapshot { return s.ch }

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Subscribe registers a subscriber. A non-nil seed is queued immediately so
// the subscriber starts from the latest snapshot. Subscribing to a closed hub
// returns an already-closed subscription.
func (h *Hub) Subscribe(seed *model.StreamSnapshot) *Subscription {
	sub := &Subscription{hub: h, ch: make(chan *model.StreamSnapshot, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.shutdown()
		return sub
	}
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
	if seed != nil {
		sub.deliver(seed)
	}
	return sub
}

// Len returns the current subscriber count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast delivers snap to every subscriber and returns how many pending
// snapshots were discarded to make room.
func (h *Hub) Broadcast(snap *model.StreamSnapshot) int {
	h.mu.Lock()
	targets := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	dropped := 0
	for _, sub := range targets {
		if sub.deliver(snap) {
			dropped++
			h.metrics.IncSubscriberDrops()
		}
	}
	return dropped
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[*Subscription]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.shutdown()
	}
	h.metrics.SetSubscribers(0)
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()

	sub.shutdown()
	if ok {
		h.metrics.SetSubscribers(n)
	}
}

// deliver queues snap, evicting the oldest pending snapshot when the buffer
// is full. It reports whether a snapshot was evicted. Snapshots at or below
// the last delivered sequence are ignored.
func (s *Subscription) deliver(snap *model.StreamSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || snap.Sequence <= s.lastSeq {
		return false
	}
	s.lastSeq = snap.Sequence

	select {
	case s.ch <- snap:
		return false
	default:
	}

	evicted := false
	select {
	case <-s.ch:
		evicted = true
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
	return evicted
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
