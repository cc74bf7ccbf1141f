// internal/domain/checkin/manager.go

package checkin

import (
	"context"
	"time"

	"ketchup/internal/domain/proximity"
)

// ChangeKind identifies what happened to a session
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeExtended ChangeKind = "extended"
	ChangeEnded    ChangeKind = "ended"
	ChangeExpired  ChangeKind = "expired"
)

// Change describes one session mutation made by a Manager
type Change struct {
	Kind    ChangeKind   `json:"kind"`
	Session VenueSession `json:"session"`
	// Cause is the transition that triggered the change, nil for manual actions and sweeps
	Cause *proximity.TransitionEvent `json:"cause,omitempty"`
}

// Manager binds proximity transitions to the session lifecycle of one user
type Manager interface {
	// HandleTransition applies the check-in policy to a transition event
	HandleTransition(evt proximity.TransitionEvent) (*Change, error)

	// CheckIn starts a session explicitly, or extends the active one
	CheckIn(venueID string) (*Change, error)

	// GetActiveSession returns the active session at a venue
	GetActiveSession(venueID string) (*VenueSession, bool)

	// ListActiveSessions returns all active sessions ordered by check-in time
	ListActiveSessions() []VenueSession

	// ExtendSession manually extends the active session at a venue
	ExtendSession(venueID string, extra time.Duration) (*VenueSession, error)

	// CheckOutSession manually ends the active session at a venue
	CheckOutSession(venueID string) (*VenueSession, error)

	// Sweep expires every active session that has run out of time
	Sweep(at time.Time) []VenueSession

	// OnChange registers a handler called after every session mutation
	OnChange(handler func(Change))
}

// HistoryStore persists session snapshots beyond their active lifetime
type HistoryStore interface {
	// SaveSession upserts a session snapshot
	SaveSession(ctx context.Context, s VenueSession) error

	// FindSessions returns sessions matching the filter, newest check-in first
	FindSessions(ctx context.Context, filter HistoryFilter) ([]VenueSession, error)
}

// HistoryFilter defines criteria for querying session history
type HistoryFilter struct {
	UserID   string
	VenueID  string
	Statuses []Status
	Since    time.Time
	Limit    int
	Offset   int
}
