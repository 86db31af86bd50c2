package model

import "time"

// Authorization is the classification bucket of a report.
type Authorization string

const (
	AuthorizationAuthorized   Authorization = "authorized"
	AuthorizationUnauthorized Authorization = "unauthorized"
	// AuthorizationUnknown is used for reports the feed adapter could not repair.
	AuthorizationUnknown Authorization = "unknown"
)

// UnknownIdentifier replaces blank or missing identifiers.
const UnknownIdentifier = "Unknown"

// PositionReport is the canonical shape of a single upstream position record.
// Latitude and Longitude are always set (absent upstream values default to 0).
type PositionReport struct {
	Identifier string `json:"identifier"`
	// ICAO24 is the lower-case transponder address when the feed carries one.
	ICAO24    string   `json:"icao24,omitempty"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude"`
	Velocity  *float64 `json:"velocity"`

	// Synthetic marks reports produced by the fallback generator.
	Synthetic bool `json:"synthetic"`

	// Malformed marks a record whose source data could not be repaired. Such
	// reports are never classified and land in the unknown bucket.
	Malformed       bool   `json:"malformed,omitempty"`
	MalformedReason string `json:"malformed_reason,omitempty"`
}

// Position returns the report coordinates.
func (p PositionReport) Position() Coordinate {
	return Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
}

// ClassifiedReport is a PositionReport with its classification result.
// ZoneName is non-nil iff Unauthorized is true.
type ClassifiedReport struct {
	PositionReport

	Status       Authorization `json:"status"`
	Unauthorized bool          `json:"unauthorized"`
	ZoneName     *string       `json:"zone_name"`
}

// ValidationSummary holds the per-bucket counts of one batch.
type ValidationSummary struct {
	Total            int  `json:"total"`
	Authorized       int  `json:"authorized"`
	Unauthorized     int  `json:"unauthorized"`
	Unknown          int  `json:"unknown"`
	ValidationPassed bool `json:"validation_passed"`
}

// SnapshotSource tells consumers whether a snapshot carries live data.
type SnapshotSource string

const (
	SourceLive     SnapshotSource = "live"
	SourceFallback SnapshotSource = "fallback"
)

// StreamSnapshot is the immutable result of one publishing cycle. Once
// published it is shared between subscribers and must not be modified.
type StreamSnapshot struct {
	Sequence       uint64             `json:"sequence"`
	GeneratedAt    time.Time          `json:"generated_at"`
	Source         SnapshotSource     `json:"source"`
	Degraded       bool               `json:"degraded"`
	DegradedReason string             `json:"degraded_reason,omitempty"`
	Reports        []ClassifiedReport `json:"reports"`
	Summary        ValidationSummary  `json:"summary"`
}

// Alert is the payload handed to alert sinks for one unauthorized detection.
type Alert struct {
	Identifier string    `json:"identifier"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ZoneName   string    `json:"zone_name"`
	DetectedAt time.Time `json:"detected_at"`
	Synthetic  bool      `json:"synthetic"`
}
