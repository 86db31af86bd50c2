package timectrl

import (
	"context"
	"testing"
	"time"
)

func TestFixedClock(t *testing.T) {
	at := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := FixedClock(at)
	if got := c.Now(); !got.Equal(at) {
		t.Fatalf("Now() = %v, want %v", got, at)
	}
}

func TestTimeControllerStepNotifiesListeners(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	var seen []time.Time
	tc.AddListener(func(now time.Time) { seen = append(seen, now) })

	tc.Step()
	tc.Step()

	if len(seen) != 2 {
		t.Fatalf("listener calls = %d, want 2", len(seen))
	}
	if want := start.Add(2 * time.Second); !tc.Now().Equal(want) || !seen[1].Equal(want) {
		t.Fatalf("Now() = %v, last seen %v, want %v", tc.Now(), seen[1], want)
	}
}

func TestTimeControllerStartStopsAfterDuration(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 5*time.Second, Accelerated)

	done := tc.Start(context.Background(), 15*time.Second)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not finish")
	}

	expected := start.Add(15 * time.Second)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
}

func TestTimeControllerStartHonoursCancel(t *testing.T) {
	tc := NewTimeController(time.Now(), time.Second, Accelerated)
	ctx, cancel := context.WithCancel(context.Background())
	done := tc.Start(ctx, 0)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("controller ignored cancellation")
	}
}
