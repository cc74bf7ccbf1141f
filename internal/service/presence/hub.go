// internal/service/presence/hub.go

package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ketchup/internal/domain/checkin"
	"ketchup/internal/domain/geo"
	"ketchup/internal/domain/proximity"
	"ketchup/internal/domain/venue"
	"ketchup/internal/metrics"
	checkinService "ketchup/internal/service/checkin"
	proximityService "ketchup/internal/service/proximity"
)

// Evaluator is the geo capability engines need
type Evaluator interface {
	proximityService.GeofenceEvaluator
	DistanceMeters(a, b geo.Coordinate) (float64, error)
}

// Publisher fans presence events out to subscribers
type Publisher interface {
	PublishTransition(userID string, evt proximity.TransitionEvent) error
	PublishSessionChange(change checkin.Change, at time.Time) error
}

// HubConfig contains configuration for the presence hub
type HubConfig struct {
	Tracker  proximityService.TrackerConfig
	Sessions checkinService.SessionManagerConfig

	SweepInterval              time.Duration
	TrackingRadiusMeters       float64
	VenueRefreshDistanceMeters float64
	CommandBuffer              int
	PersistTimeout             time.Duration
	HistoryLimit               int

	// Clock supplies the current time; nil means time.Now
	Clock func() time.Time
}

// Hub routes per-user presence operations to that user's engine
type Hub struct {
	evaluator Evaluator
	directory venue.Directory
	history   checkin.HistoryStore
	publisher Publisher
	metrics   *metrics.Presence
	log       logrus.FieldLogger
	config    HubConfig
	now       func() time.Time

	engines map[string]*Engine
	stopped bool
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHub creates a new presence hub
func NewHub(
	evaluator Evaluator,
	directory venue.Directory,
	history checkin.HistoryStore,
	publisher Publisher,
	m *metrics.Presence,
	config HubConfig,
	log logrus.FieldLogger,
) *Hub {
	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}
	if config.CommandBuffer <= 0 {
		config.CommandBuffer = 64
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = 5 * time.Second
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 50
	}

	now := config.Clock
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		evaluator: evaluator,
		directory: directory,
		history:   history,
		publisher: publisher,
		metrics:   m,
		log:       log.WithField("component", "presence"),
		config:    config,
		now:       now,
		engines:   make(map[string]*Engine),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Ingest feeds a location sample to the user's engine.
// When applying a transition to the sessions fails, the error is returned
// together with the result, since the sample itself has been committed.
func (h *Hub) Ingest(ctx context.Context, userID string, sample geo.LocationSample) (*IngestResult, error) {
	e, err := h.engine(userID)
	if err != nil {
		return nil, err
	}

	var result *IngestResult
	err = e.do(ctx, func() error {
		var err error
		result, err = e.ingest(ctx, sample)
		return err
	})
	return result, err
}

// CheckIn starts or extends a session at a venue explicitly
func (h *Hub) CheckIn(ctx context.Context, userID, venueID string) (*checkin.Change, error) {
	v, err := h.directory.GetVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}

	e, err := h.engine(userID)
	if err != nil {
		return nil, err
	}

	var change *checkin.Change
	err = e.do(ctx, func() error {
		e.trackVenue(*v)
		var err error
		change, err = e.sessions.CheckIn(venueID)
		return err
	})
	return change, err
}

// Extend extends the user's active session at a venue
func (h *Hub) Extend(ctx context.Context, userID, venueID string, extra time.Duration) (*checkin.VenueSession, error) {
	e, err := h.engine(userID)
	if err != nil {
		return nil, err
	}

	var s *checkin.VenueSession
	err = e.do(ctx, func() error {
		var err error
		s, err = e.sessions.ExtendSession(venueID, extra)
		return err
	})
	return s, err
}

// CheckOut ends the user's active session at a venue
func (h *Hub) CheckOut(ctx context.Context, userID, venueID string) (*checkin.VenueSession, error) {
	e, err := h.engine(userID)
	if err != nil {
		return nil, err
	}

	var s *checkin.VenueSession
	err = e.do(ctx, func() error {
		var err error
		s, err = e.sessions.CheckOutSession(venueID)
		return err
	})
	return s, err
}

// ActiveSessions lists the user's active sessions
func (h *Hub) ActiveSessions(ctx context.Context, userID string) ([]checkin.VenueSession, error) {
	e, err := h.engine(userID)
	if err != nil {
		return nil, err
	}

	var sessions []checkin.VenueSession
	err = e.do(ctx, func() error {
		sessions = e.sessions.ListActiveSessions()
		return nil
	})
	return sessions, err
}

// Proximity returns the user's per-venue proximity states
func (h *Hub) Proximity(ctx context.Context, userID string) ([]proximity.State, error) {
	e, err := h.engine(userID)
	if err != nil {
		return nil, err
	}

	var states []proximity.State
	err = e.do(ctx, func() error {
		states = e.tracker.States()
		return nil
	})
	return states, err
}

// History returns the user's past and present sessions from the store
func (h *Hub) History(ctx context.Context, userID string, limit, offset int) ([]checkin.VenueSession, error) {
	if limit <= 0 || limit > h.config.HistoryLimit {
		limit = h.config.HistoryLimit
	}

	sessions, err := h.history.FindSessions(ctx, checkin.HistoryFilter{
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("error loading session history: %w", err)
	}
	return sessions, nil
}

// Logout checks the user out everywhere and tears down their engine
func (h *Hub) Logout(ctx context.Context, userID string) ([]checkin.VenueSession, error) {
	h.mu.Lock()
	e, ok := h.engines[userID]
	if ok {
		delete(h.engines, userID)
	}
	h.mu.Unlock()

	if !ok {
		return nil, nil
	}
	defer func() {
		e.stop()
		h.metrics.ActiveEngines.Dec()
	}()

	var ended []checkin.VenueSession
	err := e.do(ctx, func() error {
		ended = e.sessions.CheckOutAll()
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.log.WithFields(logrus.Fields{
		"user_id": userID,
		"ended":   len(ended),
	}).Info("User logged out")

	return ended, nil
}

// EngineCount returns the number of running engines
func (h *Hub) EngineCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.engines)
}

// Stop gracefully stops every engine
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	// Signal all engines to stop
	h.cancel()

	// Create channel for wait group completion
	c := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(c)
	}()

	// Wait for all engines with timeout
	select {
	case <-c:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.Lock()
	h.metrics.ActiveEngines.Sub(float64(len(h.engines)))
	h.engines = make(map[string]*Engine)
	h.mu.Unlock()

	return nil
}

// engine returns the user's engine, starting one on first use
func (h *Hub) engine(userID string) (*Engine, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", geo.ErrInvalidInput)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil, ErrEngineStopped
	}

	if e, ok := h.engines[userID]; ok {
		return e, nil
	}

	e := newEngine(h.ctx, h, userID)
	h.engines[userID] = e
	h.metrics.ActiveEngines.Inc()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		e.run()
	}()

	h.log.WithField("user_id", userID).Debug("Started presence engine")
	return e, nil
}
