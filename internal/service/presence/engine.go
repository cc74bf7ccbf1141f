// internal/service/presence/engine.go

package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ketchup/internal/domain/checkin"
	"ketchup/internal/domain/geo"
	"ketchup/internal/domain/proximity"
	checkinService "ketchup/internal/service/checkin"
	proximityService "ketchup/internal/service/proximity"
)

// ErrEngineStopped is returned for commands sent to an engine that has shut down
var ErrEngineStopped = errors.New("presence engine stopped")

// IngestResult is what one accepted location sample produced
type IngestResult struct {
	Transitions []proximity.TransitionEvent `json:"transitions"`
	Changes     []checkin.Change            `json:"changes"`
}

type command struct {
	fn     func() error
	result chan error
}

// Engine owns the tracker and session manager of one user.
// All access happens on its run goroutine.
type Engine struct {
	userID   string
	hub      *Hub
	tracker  *proximityService.Tracker
	sessions *checkinService.SessionManager
	commands chan command
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	lastRefresh  *geo.Coordinate
	lastAccepted time.Time
}

func newEngine(parent context.Context, hub *Hub, userID string) *Engine {
	ctx, cancel := context.WithCancel(parent)

	e := &Engine{
		userID:   userID,
		hub:      hub,
		tracker:  proximityService.NewTracker(hub.evaluator, hub.config.Tracker),
		sessions: checkinService.NewSessionManager(userID, hub.config.Sessions, hub.now),
		commands: make(chan command, hub.config.CommandBuffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	e.sessions.OnChange(e.observeChange)

	return e
}

// run executes commands and sweeps until the engine is cancelled
func (e *Engine) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.hub.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case cmd := <-e.commands:
			cmd.result <- cmd.fn()
		case <-ticker.C:
			e.sessions.Sweep(e.hub.now())
		}
	}
}

// do runs fn on the engine goroutine and waits for it.
// ctx bounds only the wait for a queue slot; a queued command always
// reports its own result.
func (e *Engine) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := command{fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrEngineStopped
	case e.commands <- cmd:
	}

	select {
	case <-e.done:
		// The command may have run just before shutdown
		select {
		case err := <-cmd.result:
			return err
		default:
			return ErrEngineStopped
		}
	case err := <-cmd.result:
		return err
	}
}

// stop cancels the loop and waits for it to exit
func (e *Engine) stop() {
	e.cancel()
	<-e.done
}

func (e *Engine) ingest(ctx context.Context, sample geo.LocationSample) (*IngestResult, error) {
	log := e.hub.log.WithField("user_id", e.userID)

	// Rejected samples must not move the tracked set
	if err := e.tracker.Admit(sample); err != nil {
		e.hub.metrics.SamplesIngested.WithLabelValues(sampleOutcome(err)).Inc()
		return nil, err
	}
	if e.lastAccepted.IsZero() || !sample.CapturedAt.Before(e.lastAccepted) {
		if err := e.refreshVenues(ctx, sample.Coordinate); err != nil {
			log.WithError(err).Warn("Venue refresh failed, evaluating against current venues")
		}
	}

	transitions, err := e.tracker.Ingest(sample)
	if err != nil {
		e.hub.metrics.SamplesIngested.WithLabelValues(sampleOutcome(err)).Inc()
		return nil, err
	}
	e.hub.metrics.SamplesIngested.WithLabelValues("accepted").Inc()
	e.lastAccepted = sample.CapturedAt

	// The sample is committed; session errors are reported alongside what did happen
	result := &IngestResult{Transitions: transitions}
	var errs []error
	for _, evt := range transitions {
		e.observeTransition(evt)

		change, err := e.sessions.HandleTransition(evt)
		if err != nil {
			log.WithError(err).WithField("venue_id", evt.VenueID).Warn("Transition not applied to sessions")
			errs = append(errs, fmt.Errorf("error applying %s at venue %s: %w", evt.Type, evt.VenueID, err))
			continue
		}
		if change != nil {
			result.Changes = append(result.Changes, *change)
		}
	}

	return result, errors.Join(errs...)
}

// refreshVenues reconciles the tracked set with the directory once the user
// has moved far enough from the last refresh point
func (e *Engine) refreshVenues(ctx context.Context, at geo.Coordinate) error {
	cfg := e.hub.config
	if cfg.TrackingRadiusMeters <= 0 {
		return nil
	}

	if e.lastRefresh != nil {
		moved, err := e.hub.evaluator.DistanceMeters(*e.lastRefresh, at)
		if err != nil {
			return err
		}
		if moved <= cfg.VenueRefreshDistanceMeters {
			return nil
		}
	}

	venues, err := e.hub.directory.FindNearbyVenues(ctx, at, cfg.TrackingRadiusMeters)
	if err != nil {
		return fmt.Errorf("error loading nearby venues: %w", err)
	}

	nearby := make(map[string]bool, len(venues))
	for _, v := range venues {
		if err := e.tracker.TrackVenue(v); err != nil {
			e.hub.log.WithError(err).WithField("venue_id", v.ID).Warn("Skipping invalid venue")
			continue
		}
		nearby[v.ID] = true
	}

	for _, v := range e.tracker.TrackedVenues() {
		if nearby[v.ID] {
			continue
		}
		// Keep watching venues with an active session so an exit can still end it
		if _, active := e.sessions.GetActiveSession(v.ID); active {
			continue
		}
		e.tracker.UntrackVenue(v.ID)
	}

	e.lastRefresh = &at
	e.hub.log.WithFields(logrus.Fields{
		"user_id": e.userID,
		"venues":  len(nearby),
	}).Debug("Refreshed tracked venues")

	return nil
}

// trackVenue makes sure a venue is tracked, as for a manual check-in
func (e *Engine) trackVenue(v geo.Venue) {
	if _, ok := e.tracker.State(v.ID); ok {
		return
	}
	if err := e.tracker.TrackVenue(v); err != nil {
		e.hub.log.WithError(err).WithField("venue_id", v.ID).Warn("Could not track checked-in venue")
	}
}

func (e *Engine) observeTransition(evt proximity.TransitionEvent) {
	e.hub.metrics.Transitions.WithLabelValues(string(evt.Type)).Inc()

	e.hub.log.WithFields(logrus.Fields{
		"user_id":  e.userID,
		"venue_id": evt.VenueID,
		"type":     evt.Type,
		"distance": evt.DistanceMeters,
	}).Info("Geofence transition")

	if err := e.hub.publisher.PublishTransition(e.userID, evt); err != nil {
		e.hub.metrics.PublishFailures.Inc()
		e.hub.log.WithError(err).WithField("user_id", e.userID).Warn("Error publishing transition event")
	}
}

// observeChange persists, publishes and counts every session mutation.
// Failures are logged and do not undo the change.
func (e *Engine) observeChange(change checkin.Change) {
	log := e.hub.log.WithFields(logrus.Fields{
		"user_id":    e.userID,
		"venue_id":   change.Session.VenueID,
		"session_id": change.Session.ID,
		"kind":       change.Kind,
	})
	log.Info("Session changed")

	e.hub.metrics.SessionChanges.WithLabelValues(string(change.Kind)).Inc()
	switch change.Kind {
	case checkin.ChangeCreated:
		e.hub.metrics.ActiveSessions.Inc()
	case checkin.ChangeEnded, checkin.ChangeExpired:
		e.hub.metrics.ActiveSessions.Dec()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), e.hub.config.PersistTimeout)
	defer cancel()

	if err := e.hub.history.SaveSession(ctx, change.Session); err != nil {
		log.WithError(err).Warn("Error saving session")
	}

	if err := e.hub.publisher.PublishSessionChange(change, e.hub.now()); err != nil {
		e.hub.metrics.PublishFailures.Inc()
		log.WithError(err).Warn("Error publishing session event")
	}
}

func sampleOutcome(err error) string {
	switch {
	case errors.Is(err, proximity.ErrStaleSample):
		return "stale"
	case errors.Is(err, proximity.ErrInaccurateSample):
		return "inaccurate"
	case errors.Is(err, geo.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
