// internal/service/checkin/manager.go

package checkin

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"ketchup/internal/domain/checkin"
	"ketchup/internal/domain/proximity"
)

var _ checkin.Manager = (*SessionManager)(nil)

// SessionManagerConfig contains the check-in policy for a session manager
type SessionManagerConfig struct {
	// AutoCheckIn creates a session on a geofence enter
	AutoCheckIn bool

	// AutoCheckOutOnExit ends the active session on a geofence exit
	AutoCheckOutOnExit bool

	// DefaultDuration is used for new sessions and re-entry extensions
	DefaultDuration time.Duration
}

// SessionManager implements the checkin.Manager interface for a single user.
// It holds no locks; the caller serializes every call.
type SessionManager struct {
	userID   string
	config   SessionManagerConfig
	now      func() time.Time
	active   map[string]*checkin.VenueSession
	handlers []func(checkin.Change)
}

// NewSessionManager creates a session manager for userID.
// now supplies the current time; nil means time.Now.
func NewSessionManager(userID string, config SessionManagerConfig, now func() time.Time) *SessionManager {
	if now == nil {
		now = time.Now
	}

	return &SessionManager{
		userID: userID,
		config: config,
		now:    now,
		active: make(map[string]*checkin.VenueSession),
	}
}

// UserID returns the user this manager belongs to
func (m *SessionManager) UserID() string {
	return m.userID
}

// OnChange registers a handler called after every session mutation
func (m *SessionManager) OnChange(handler func(checkin.Change)) {
	m.handlers = append(m.handlers, handler)
}

// HandleTransition applies the check-in policy to a transition event.
// A nil change with a nil error means the policy ignored the event.
func (m *SessionManager) HandleTransition(evt proximity.TransitionEvent) (*checkin.Change, error) {
	switch evt.Type {
	case proximity.TransitionEnter:
		if s, ok := m.active[evt.VenueID]; ok {
			// Re-entry after a short excursion
			return m.extend(s, m.config.DefaultDuration, &evt)
		}
		if !m.config.AutoCheckIn {
			return nil, nil
		}
		return m.create(evt.VenueID, checkin.SourceGeofence, &evt)

	case proximity.TransitionExit:
		if !m.config.AutoCheckOutOnExit {
			return nil, nil
		}
		s, ok := m.active[evt.VenueID]
		if !ok {
			return nil, nil
		}
		return m.end(s, &evt), nil

	default:
		return nil, fmt.Errorf("unknown transition type %q", evt.Type)
	}
}

// CheckIn starts a session explicitly, as a QR scan does.
// If the venue already has an active session it is extended instead.
func (m *SessionManager) CheckIn(venueID string) (*checkin.Change, error) {
	if venueID == "" {
		return nil, errors.New("venue id is required")
	}

	if s, ok := m.active[venueID]; ok {
		return m.extend(s, m.config.DefaultDuration, nil)
	}
	return m.create(venueID, checkin.SourceManual, nil)
}

// GetActiveSession returns a copy of the active session at a venue
func (m *SessionManager) GetActiveSession(venueID string) (*checkin.VenueSession, bool) {
	s, ok := m.active[venueID]
	if !ok {
		return nil, false
	}
	c := *s
	return &c, true
}

// ListActiveSessions returns copies of all active sessions, oldest check-in first
func (m *SessionManager) ListActiveSessions() []checkin.VenueSession {
	sessions := make([]checkin.VenueSession, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, *s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CheckedInAt.Equal(sessions[j].CheckedInAt) {
			return sessions[i].VenueID < sessions[j].VenueID
		}
		return sessions[i].CheckedInAt.Before(sessions[j].CheckedInAt)
	})

	return sessions
}

// ExtendSession manually extends the active session at a venue
func (m *SessionManager) ExtendSession(venueID string, extra time.Duration) (*checkin.VenueSession, error) {
	s, ok := m.active[venueID]
	if !ok {
		return nil, fmt.Errorf("%w at venue %s", checkin.ErrNoActiveSession, venueID)
	}

	change, err := m.extend(s, extra, nil)
	if err != nil {
		return nil, err
	}
	return &change.Session, nil
}

// CheckOutSession manually ends the active session at a venue
func (m *SessionManager) CheckOutSession(venueID string) (*checkin.VenueSession, error) {
	s, ok := m.active[venueID]
	if !ok {
		return nil, fmt.Errorf("%w at venue %s", checkin.ErrNoActiveSession, venueID)
	}

	change := m.end(s, nil)
	return &change.Session, nil
}

// CheckOutAll ends every active session, as on logout
func (m *SessionManager) CheckOutAll() []checkin.VenueSession {
	var ended []checkin.VenueSession
	for _, s := range m.ListActiveSessions() {
		change := m.end(m.active[s.VenueID], nil)
		ended = append(ended, change.Session)
	}
	return ended
}

// Sweep expires every active session with no time remaining at the given instant
func (m *SessionManager) Sweep(at time.Time) []checkin.VenueSession {
	var expired []checkin.VenueSession

	for _, snapshot := range m.ListActiveSessions() {
		s := m.active[snapshot.VenueID]
		if !s.Expire(at) {
			continue
		}
		delete(m.active, s.VenueID)

		expired = append(expired, *s)
		m.notify(checkin.Change{Kind: checkin.ChangeExpired, Session: *s})
	}

	return expired
}

func (m *SessionManager) create(venueID string, source checkin.Source, cause *proximity.TransitionEvent) (*checkin.Change, error) {
	s, err := checkin.NewVenueSession(m.userID, venueID, source, m.config.DefaultDuration, m.now())
	if err != nil {
		return nil, fmt.Errorf("error creating session at venue %s: %w", venueID, err)
	}
	m.active[venueID] = s

	change := checkin.Change{Kind: checkin.ChangeCreated, Session: *s, Cause: cause}
	m.notify(change)
	return &change, nil
}

func (m *SessionManager) extend(s *checkin.VenueSession, d time.Duration, cause *proximity.TransitionEvent) (*checkin.Change, error) {
	if err := s.Extend(d, m.now()); err != nil {
		return nil, fmt.Errorf("error extending session %s: %w", s.ID, err)
	}

	change := checkin.Change{Kind: checkin.ChangeExtended, Session: *s, Cause: cause}
	m.notify(change)
	return &change, nil
}

func (m *SessionManager) end(s *checkin.VenueSession, cause *proximity.TransitionEvent) *checkin.Change {
	s.End(m.now())
	delete(m.active, s.VenueID)

	change := checkin.Change{Kind: checkin.ChangeEnded, Session: *s, Cause: cause}
	m.notify(change)
	return &change
}

// notify calls all registered change handlers
func (m *SessionManager) notify(change checkin.Change) {
	for _, handler := range m.handlers {
		handler(change)
	}
}
