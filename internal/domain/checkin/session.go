package checkin

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidDuration is returned for a non-positive session duration
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrSessionNotActive is returned when extending a session that is no longer active
	ErrSessionNotActive = errors.New("session not active")

	// ErrNoActiveSession is returned by manual actions on a venue with no active session
	ErrNoActiveSession = errors.New("no active session")
)

// Status represents the lifecycle status of a venue session
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusEnded   Status = "ended"
)

// Source records how a session was started
type Source string

const (
	SourceGeofence Source = "geofence"
	SourceManual   Source = "manual"
)

// VenueSession is a time-bounded check-in of a user at a venue
type VenueSession struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	VenueID     string     `json:"venue_id"`
	Source      Source     `json:"source"`
	Status      Status     `json:"status"`
	CheckedInAt time.Time  `json:"checked_in_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// NewVenueSession starts an active session lasting d from now
func NewVenueSession(userID, venueID string, source Source, d time.Duration, now time.Time) (*VenueSession, error) {
	if d <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDuration, d)
	}

	return &VenueSession{
		ID:          uuid.New().String(),
		UserID:      userID,
		VenueID:     venueID,
		Source:      source,
		Status:      StatusActive,
		CheckedInAt: now,
		ExpiresAt:   now.Add(d),
	}, nil
}

// IsActive reports whether the session is in the active state
func (s *VenueSession) IsActive() bool {
	return s.Status == StatusActive
}

// Extend pushes the expiry forward by d, counting from the later of now and the current expiry.
func (s *VenueSession) Extend(d time.Duration, now time.Time) error {
	if !s.IsActive() {
		return fmt.Errorf("%w: session %s is %s", ErrSessionNotActive, s.ID, s.Status)
	}
	if d <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDuration, d)
	}

	base := s.ExpiresAt
	if now.After(base) {
		base = now
	}
	s.ExpiresAt = base.Add(d)

	return nil
}

// Remaining returns the time left before expiry, never negative
func (s *VenueSession) Remaining(at time.Time) time.Duration {
	left := s.ExpiresAt.Sub(at)
	if left < 0 {
		return 0
	}
	return left
}

// RemainingSeconds is Remaining expressed in seconds
func (s *VenueSession) RemainingSeconds(at time.Time) float64 {
	return s.Remaining(at).Seconds()
}

// IsExpired reports whether an active session has run out of time at the given instant
func (s *VenueSession) IsExpired(at time.Time) bool {
	return s.IsActive() && s.Remaining(at) == 0
}

// Expire moves an expired active session to StatusExpired.
// It returns false when the session was not due.
func (s *VenueSession) Expire(at time.Time) bool {
	if !s.IsExpired(at) {
		return false
	}
	s.Status = StatusExpired
	endedAt := s.ExpiresAt
	s.EndedAt = &endedAt
	return true
}

// End checks the session out. Calling End on a session that is not active is a no-op.
func (s *VenueSession) End(now time.Time) bool {
	if !s.IsActive() {
		return false
	}
	s.Status = StatusEnded
	s.EndedAt = &now
	return true
}
