package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source used by the pipeline. Components depend on this
// interface rather than calling time.Now directly so tests can pin timestamps.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock reads wall-clock time in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock time.Time

// Now implements Clock.
func (f FixedClock) Now() time.Time { return time.Time(f) }

// Mode describes how the TimeController advances simulated time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances by Tick on every wall-clock tick of AccelInterval, so
	// one real second can cover many simulated seconds.
	Accelerated
)

// AccelInterval is the wall-clock period between steps in Accelerated mode.
const AccelInterval = 10 * time.Millisecond

// TimeController drives simulated time and notifies registered listeners on
// every step. It implements Clock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []func(time.Time)
}

// NewTimeController constructs a controller positioned at start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulated time. Implements Clock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// AddListener registers a callback invoked after every step.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Step advances simulated time by one Tick and notifies listeners outside the
// lock. It returns the new time.
func (tc *TimeController) Step() time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	now := tc.currentTime
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// Start steps the controller until duration of simulated time has elapsed
// (forever when duration <= 0) or ctx is cancelled. It returns a channel that
// is closed when the controller finishes.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		interval := tc.Tick
		if tc.Mode == Accelerated {
			interval = AccelInterval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			tc.Step()
			elapsed += tc.Tick
		}
	}()
	return done
}
