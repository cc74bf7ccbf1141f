package proximity

import (
	"errors"
	"time"

	"ketchup/internal/domain/geo"
)

var (
	// ErrStaleSample is returned for a sample captured before the last evaluated one
	ErrStaleSample = errors.New("stale sample ignored")

	// ErrInaccurateSample is returned for a sample whose reported accuracy is too coarse
	ErrInaccurateSample = errors.New("inaccurate sample ignored")
)

// Membership is the confirmed geofence state for a tracked venue
type Membership string

const (
	MembershipUnknown Membership = "unknown"
	MembershipOutside Membership = "outside"
	MembershipInside  Membership = "inside"
)

// TransitionType identifies the direction of a geofence crossing
type TransitionType string

const (
	TransitionEnter TransitionType = "enter"
	TransitionExit  TransitionType = "exit"
)

// TransitionEvent is emitted when a confirmed membership change occurs
type TransitionEvent struct {
	VenueID        string         `json:"venue_id"`
	Type           TransitionType `json:"type"`
	DistanceMeters float64        `json:"distance_meters"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// PendingTransition is a raw membership flip awaiting dwell confirmation
type PendingTransition struct {
	Type       TransitionType `json:"type"`
	Samples    int            `json:"samples"`
	FirstSeen  time.Time      `json:"first_seen"`
	LastSeenAt time.Time      `json:"last_seen_at"`
}

// State is the per-venue proximity state of one user
type State struct {
	VenueID            string             `json:"venue_id"`
	Membership         Membership         `json:"membership"`
	IsInside           bool               `json:"is_inside"`
	LastDistanceMeters float64            `json:"last_distance_meters"`
	LastEvaluatedAt    time.Time          `json:"last_evaluated_at"`
	Pending            *PendingTransition `json:"pending,omitempty"`
}

// Tracker ingests location samples and reports geofence transitions
type Tracker interface {
	// Ingest evaluates a sample against all tracked venues
	Ingest(sample geo.LocationSample) ([]TransitionEvent, error)

	// Admit reports the error Ingest would reject a sample with, if any
	Admit(sample geo.LocationSample) error

	// TrackVenue adds a venue to the evaluated set
	TrackVenue(venue geo.Venue) error

	// UntrackVenue removes a venue and discards its state
	UntrackVenue(venueID string)

	// State returns the current state for a venue
	State(venueID string) (State, bool)

	// States returns the state of every tracked venue
	States() []State

	// PendingTransition returns the unconfirmed transition for a venue, if any
	PendingTransition(venueID string) *PendingTransition
}
