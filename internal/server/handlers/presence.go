// internal/server/handlers/presence.go

package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"ketchup/internal/domain/checkin"
	"ketchup/internal/domain/geo"
	"ketchup/internal/domain/proximity"
	"ketchup/internal/service/presence"
)

// PresenceService is the per-user presence API served over HTTP
type PresenceService interface {
	Ingest(ctx context.Context, userID string, sample geo.LocationSample) (*presence.IngestResult, error)
	CheckIn(ctx context.Context, userID, venueID string) (*checkin.Change, error)
	Extend(ctx context.Context, userID, venueID string, extra time.Duration) (*checkin.VenueSession, error)
	CheckOut(ctx context.Context, userID, venueID string) (*checkin.VenueSession, error)
	ActiveSessions(ctx context.Context, userID string) ([]checkin.VenueSession, error)
	Proximity(ctx context.Context, userID string) ([]proximity.State, error)
	History(ctx context.Context, userID string, limit, offset int) ([]checkin.VenueSession, error)
	Logout(ctx context.Context, userID string) ([]checkin.VenueSession, error)
}

// PresenceHandler handles location, proximity and session requests for the authenticated user
type PresenceHandler struct {
	service PresenceService
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(service PresenceService, log logrus.FieldLogger) *PresenceHandler {
	return &PresenceHandler{
		service: service,
		log:     log,
		now:     time.Now,
	}
}

type locationRequest struct {
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	CapturedAt     *time.Time `json:"captured_at"`
	AccuracyMeters *float64   `json:"accuracy_meters"`
}

// PostLocation ingests a location sample
func (h *PresenceHandler) PostLocation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		respondWithError(w, http.StatusBadRequest, "Missing location", nil)
		return
	}

	sample := geo.LocationSample{
		Coordinate:     geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude},
		CapturedAt:     h.now(),
		AccuracyMeters: req.AccuracyMeters,
	}
	if req.CapturedAt != nil {
		sample.CapturedAt = *req.CapturedAt
	}

	result, err := h.service.Ingest(r.Context(), userID, sample)
	if err != nil {
		respondWithDomainError(w, h.log, "Location sample rejected", err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// GetProximity returns the user's proximity state for every tracked venue
func (h *PresenceHandler) GetProximity(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	states, err := h.service.Proximity(r.Context(), userID)
	if err != nil {
		respondWithDomainError(w, h.log, "Failed to get proximity", err)
		return
	}
	if states == nil {
		states = []proximity.State{}
	}

	respondWithJSON(w, http.StatusOK, states)
}

type checkInRequest struct {
	VenueID string `json:"venue_id"`
}

// CheckIn starts a session at a venue, or extends the active one
func (h *PresenceHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.VenueID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing venue_id", nil)
		return
	}

	change, err := h.service.CheckIn(r.Context(), userID, req.VenueID)
	if err != nil {
		respondWithDomainError(w, h.log, "Failed to check in", err)
		return
	}

	code := http.StatusOK
	if change.Kind == checkin.ChangeCreated {
		code = http.StatusCreated
	}
	respondWithJSON(w, code, sessionResponse(change.Session, h.now()))
}

// ListSessions returns the user's active sessions
func (h *PresenceHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	sessions, err := h.service.ActiveSessions(r.Context(), userID)
	if err != nil {
		respondWithDomainError(w, h.log, "Failed to list sessions", err)
		return
	}

	now := h.now()
	response := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, sessionResponse(s, now))
	}

	respondWithJSON(w, http.StatusOK, response)
}

// History returns the user's stored sessions, newest first
func (h *PresenceHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil || limit < 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid offset", err)
		return
	}

	sessions, err := h.service.History(r.Context(), userID, limit, offset)
	if err != nil {
		respondWithDomainError(w, h.log, "Failed to load history", err)
		return
	}
	if sessions == nil {
		sessions = []checkin.VenueSession{}
	}

	respondWithJSON(w, http.StatusOK, sessions)
}

type extendRequest struct {
	ExtraSeconds int64 `json:"extra_seconds"`
}

// maxExtraSeconds is the largest extension a time.Duration can hold
const maxExtraSeconds = math.MaxInt64 / int64(time.Second)

// ExtendSession extends the active session at a venue
func (h *PresenceHandler) ExtendSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.ExtraSeconds > maxExtraSeconds {
		respondWithError(w, http.StatusBadRequest, "extra_seconds out of range", nil)
		return
	}

	s, err := h.service.Extend(r.Context(), userID, chi.URLParam(r, "venueID"), time.Duration(req.ExtraSeconds)*time.Second)
	if err != nil {
		respondWithDomainError(w, h.log, "Failed to extend session", err)
		return
	}

	respondWithJSON(w, http.StatusOK, sessionResponse(*s, h.now()))
}

// CheckOut ends the active session at a venue
func (h *PresenceHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	s, err := h.service.CheckOut(r.Context(), userID, chi.URLParam(r, "venueID"))
	if err != nil {
		respondWithDomainError(w, h.log, "Failed to check out", err)
		return
	}

	respondWithJSON(w, http.StatusOK, sessionResponse(*s, h.now()))
}

// Logout ends every active session and releases the user's presence state
func (h *PresenceHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	ended, err := h.service.Logout(r.Context(), userID)
	if err != nil {
		respondWithDomainError(w, h.log, "Failed to log out", err)
		return
	}
	if ended == nil {
		ended = []checkin.VenueSession{}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"ended": ended})
}

func (h *PresenceHandler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthenticated", nil)
	}
	return userID, ok
}

// sessionView is a session plus its remaining time at response time
type sessionView struct {
	checkin.VenueSession
	RemainingSeconds float64 `json:"remaining_seconds"`
}

func sessionResponse(s checkin.VenueSession, now time.Time) sessionView {
	view := sessionView{VenueSession: s}
	if s.IsActive() {
		view.RemainingSeconds = s.RemainingSeconds(now)
	}
	return view
}
