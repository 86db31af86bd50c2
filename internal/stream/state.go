// Package stream runs the publishing loop: fetch, classify, broadcast and
// dispatch side effects to alert and persistence sinks.
package stream

// State is the publisher lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateClassifying
	StateBroadcasting
	// StateDegraded is held while the last fetch failed and fallback data is
	// being served.
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateClassifying:
		return "classifying"
	case StateBroadcasting:
		return "broadcasting"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
