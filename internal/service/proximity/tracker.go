// internal/service/proximity/tracker.go

package proximity

import (
	"fmt"

	"ketchup/internal/domain/geo"
	"ketchup/internal/domain/proximity"
)

var _ proximity.Tracker = (*Tracker)(nil)

// GeofenceEvaluator decides venue membership for a single point
type GeofenceEvaluator interface {
	Evaluate(point geo.Coordinate, venue geo.Venue) (geo.GeofenceResult, error)
}

// TrackerConfig contains configuration for the proximity tracker
type TrackerConfig struct {
	// MinDwellSamples is how many consecutive samples a membership flip must persist before it is emitted
	MinDwellSamples int

	// MaxAccuracyMeters rejects samples reporting a coarser accuracy. Zero disables the check.
	MaxAccuracyMeters float64
}

// Tracker implements the proximity.Tracker interface.
// It is not safe for concurrent use; callers serialize access.
type Tracker struct {
	evaluator GeofenceEvaluator
	config    TrackerConfig
	order     []string
	venues    map[string]geo.Venue
	states    map[string]*proximity.State
}

// NewTracker creates a tracker with no venues
func NewTracker(evaluator GeofenceEvaluator, config TrackerConfig) *Tracker {
	if config.MinDwellSamples < 1 {
		config.MinDwellSamples = 1
	}

	return &Tracker{
		evaluator: evaluator,
		config:    config,
		venues:    make(map[string]geo.Venue),
		states:    make(map[string]*proximity.State),
	}
}

// TrackVenue adds a venue to the evaluated set.
// Tracking a venue that is already tracked updates its geometry and keeps its state.
func (t *Tracker) TrackVenue(venue geo.Venue) error {
	if err := venue.Validate(); err != nil {
		return err
	}

	if _, exists := t.venues[venue.ID]; !exists {
		t.order = append(t.order, venue.ID)
		t.states[venue.ID] = &proximity.State{
			VenueID:    venue.ID,
			Membership: proximity.MembershipUnknown,
		}
	}
	t.venues[venue.ID] = venue

	return nil
}

// UntrackVenue removes a venue and discards its state without emitting an event
func (t *Tracker) UntrackVenue(venueID string) {
	if _, exists := t.venues[venueID]; !exists {
		return
	}

	delete(t.venues, venueID)
	delete(t.states, venueID)

	for i, id := range t.order {
		if id == venueID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// TrackedVenues returns the tracked venues in the order they were added
func (t *Tracker) TrackedVenues() []geo.Venue {
	venues := make([]geo.Venue, 0, len(t.order))
	for _, id := range t.order {
		venues = append(venues, t.venues[id])
	}
	return venues
}

// Admit reports whether Ingest would accept the sample, without touching state
func (t *Tracker) Admit(sample geo.LocationSample) error {
	if err := sample.Coordinate.Validate(); err != nil {
		return err
	}

	if t.config.MaxAccuracyMeters > 0 && sample.AccuracyMeters != nil && *sample.AccuracyMeters > t.config.MaxAccuracyMeters {
		return fmt.Errorf("%w: accuracy %.1fm exceeds %.1fm",
			proximity.ErrInaccurateSample, *sample.AccuracyMeters, t.config.MaxAccuracyMeters)
	}

	for _, id := range t.order {
		st := t.states[id]
		if st.Membership != proximity.MembershipUnknown && sample.CapturedAt.Before(st.LastEvaluatedAt) {
			return fmt.Errorf("%w: captured at %s, venue %s last evaluated at %s",
				proximity.ErrStaleSample, sample.CapturedAt, id, st.LastEvaluatedAt)
		}
	}

	return nil
}

// Ingest evaluates a sample against every tracked venue and returns confirmed transitions.
// A rejected sample leaves all state untouched.
func (t *Tracker) Ingest(sample geo.LocationSample) ([]proximity.TransitionEvent, error) {
	if err := t.Admit(sample); err != nil {
		return nil, err
	}

	// Evaluate everything before touching state
	results := make([]geo.GeofenceResult, 0, len(t.order))
	for _, id := range t.order {
		result, err := t.evaluator.Evaluate(sample.Coordinate, t.venues[id])
		if err != nil {
			return nil, fmt.Errorf("error evaluating venue %s: %w", id, err)
		}
		results = append(results, result)
	}

	var events []proximity.TransitionEvent
	for i, id := range t.order {
		if evt := t.apply(t.states[id], results[i], sample); evt != nil {
			events = append(events, *evt)
		}
	}

	return events, nil
}

// apply advances one venue's state machine with an evaluation result
func (t *Tracker) apply(st *proximity.State, result geo.GeofenceResult, sample geo.LocationSample) *proximity.TransitionEvent {
	st.LastDistanceMeters = result.DistanceMeters
	st.LastEvaluatedAt = sample.CapturedAt

	// First evaluation only sets the baseline
	if st.Membership == proximity.MembershipUnknown {
		st.IsInside = result.IsWithin
		st.Membership = membershipOf(result.IsWithin)
		return nil
	}

	if result.IsWithin == st.IsInside {
		st.Pending = nil
		return nil
	}

	transition := proximity.TransitionExit
	if result.IsWithin {
		transition = proximity.TransitionEnter
	}

	if st.Pending == nil || st.Pending.Type != transition {
		st.Pending = &proximity.PendingTransition{
			Type:      transition,
			FirstSeen: sample.CapturedAt,
		}
	}
	st.Pending.Samples++
	st.Pending.LastSeenAt = sample.CapturedAt

	if st.Pending.Samples < t.config.MinDwellSamples {
		return nil
	}

	st.Pending = nil
	st.IsInside = result.IsWithin
	st.Membership = membershipOf(result.IsWithin)

	return &proximity.TransitionEvent{
		VenueID:        st.VenueID,
		Type:           transition,
		DistanceMeters: result.DistanceMeters,
		OccurredAt:     sample.CapturedAt,
	}
}

func membershipOf(inside bool) proximity.Membership {
	if inside {
		return proximity.MembershipInside
	}
	return proximity.MembershipOutside
}

// State returns a copy of the state for a venue
func (t *Tracker) State(venueID string) (proximity.State, bool) {
	st, ok := t.states[venueID]
	if !ok {
		return proximity.State{}, false
	}
	return copyState(st), true
}

// States returns copies of all venue states in tracking order
func (t *Tracker) States() []proximity.State {
	states := make([]proximity.State, 0, len(t.order))
	for _, id := range t.order {
		states = append(states, copyState(t.states[id]))
	}
	return states
}

// PendingTransition returns the unconfirmed transition for a venue, or nil
func (t *Tracker) PendingTransition(venueID string) *proximity.PendingTransition {
	st, ok := t.states[venueID]
	if !ok || st.Pending == nil {
		return nil
	}
	pending := *st.Pending
	return &pending
}

func copyState(st *proximity.State) proximity.State {
	c := *st
	if st.Pending != nil {
		pending := *st.Pending
		c.Pending = &pending
	}
	return c
}
