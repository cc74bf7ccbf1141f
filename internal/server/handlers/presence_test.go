package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ketchup/internal/domain/checkin"
	"ketchup/internal/domain/geo"
	"ketchup/internal/domain/proximity"
	"ketchup/internal/logger"
	"ketchup/internal/service/presence"
)

// MockPresenceService is a mock implementation of PresenceService
type MockPresenceService struct {
	mock.Mock
}

func (m *MockPresenceService) Ingest(ctx context.Context, userID string, sample geo.LocationSample) (*presence.IngestResult, error) {
	args := m.Called(ctx, userID, sample)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*presence.IngestResult), args.Error(1)
}

func (m *MockPresenceService) CheckIn(ctx context.Context, userID, venueID string) (*checkin.Change, error) {
	args := m.Called(ctx, userID, venueID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkin.Change), args.Error(1)
}

func (m *MockPresenceService) Extend(ctx context.Context, userID, venueID string, extra time.Duration) (*checkin.VenueSession, error) {
	args := m.Called(ctx, userID, venueID, extra)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkin.VenueSession), args.Error(1)
}

func (m *MockPresenceService) CheckOut(ctx context.Context, userID, venueID string) (*checkin.VenueSession, error) {
	args := m.Called(ctx, userID, venueID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkin.VenueSession), args.Error(1)
}

func (m *MockPresenceService) ActiveSessions(ctx context.Context, userID string) ([]checkin.VenueSession, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]checkin.VenueSession), args.Error(1)
}

func (m *MockPresenceService) Proximity(ctx context.Context, userID string) ([]proximity.State, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]proximity.State), args.Error(1)
}

func (m *MockPresenceService) History(ctx context.Context, userID string, limit, offset int) ([]checkin.VenueSession, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]checkin.VenueSession), args.Error(1)
}

func (m *MockPresenceService) Logout(ctx context.Context, userID string) ([]checkin.VenueSession, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]checkin.VenueSession), args.Error(1)
}

var now = time.Date(2026, 7, 4, 19, 0, 0, 0, time.UTC)

func newPresenceRouter(service PresenceService) http.Handler {
	h := NewPresenceHandler(service, logger.Discard())
	h.now = func() time.Time { return now }

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := r.Header.Get("X-Test-User"); userID != "" {
				r = r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Post("/locations", h.PostLocation)
	r.Get("/proximity", h.GetProximity)
	r.Delete("/presence", h.Logout)
	r.Get("/sessions", h.ListSessions)
	r.Post("/sessions", h.CheckIn)
	r.Get("/sessions/history", h.History)
	r.Post("/sessions/{venueID}/extend", h.ExtendSession)
	r.Post("/sessions/{venueID}/checkout", h.CheckOut)
	return r
}

func do(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-Test-User", "u1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func activeSession() checkin.VenueSession {
	return checkin.VenueSession{
		ID: "s1", UserID: "u1", VenueID: "cafe",
		Source: checkin.SourceGeofence, Status: checkin.StatusActive,
		CheckedInAt: now.Add(-30 * time.Minute), ExpiresAt: now.Add(90 * time.Minute),
	}
}

func TestPostLocation(t *testing.T) {
	service := new(MockPresenceService)
	captured := now.Add(-time.Second)
	accuracy := 8.0

	expected := geo.LocationSample{
		Coordinate:     geo.Coordinate{Latitude: 23.01, Longitude: 72.48},
		CapturedAt:     captured,
		AccuracyMeters: &accuracy,
	}
	service.On("Ingest", mock.Anything, "u1", expected).Return(&presence.IngestResult{
		Transitions: []proximity.TransitionEvent{{VenueID: "cafe", Type: proximity.TransitionEnter, OccurredAt: captured}},
	}, nil)

	body := fmt.Sprintf(`{"latitude":23.01,"longitude":72.48,"accuracy_meters":8,"captured_at":%q}`, captured.Format(time.RFC3339Nano))
	rec := do(t, newPresenceRouter(service), http.MethodPost, "/locations", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result presence.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Transitions, 1)
	assert.Equal(t, proximity.TransitionEnter, result.Transitions[0].Type)
	service.AssertExpectations(t)
}

func TestPostLocationDefaultsCaptureTime(t *testing.T) {
	service := new(MockPresenceService)
	service.On("Ingest", mock.Anything, "u1", mock.MatchedBy(func(s geo.LocationSample) bool {
		return s.CapturedAt.Equal(now) && s.AccuracyMeters == nil
	})).Return(&presence.IngestResult{}, nil)

	rec := do(t, newPresenceRouter(service), http.MethodPost, "/locations", `{"latitude":23.01,"longitude":72.48}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	service.AssertExpectations(t)
}

func TestPostLocationErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		err     error
		want    int
		reaches bool
	}{
		{"malformed body", `{`, nil, http.StatusBadRequest, false},
		{"missing longitude", `{"latitude":1}`, nil, http.StatusBadRequest, false},
		{"invalid coordinate", `{"latitude":91,"longitude":0}`, geo.ErrInvalidInput, http.StatusBadRequest, true},
		{"stale", `{"latitude":1,"longitude":1}`, fmt.Errorf("%w: old", proximity.ErrStaleSample), http.StatusConflict, true},
		{"inaccurate", `{"latitude":1,"longitude":1}`, proximity.ErrInaccurateSample, http.StatusUnprocessableEntity, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockPresenceService)
			if tt.reaches {
				service.On("Ingest", mock.Anything, "u1", mock.Anything).Return(nil, tt.err)
			}

			rec := do(t, newPresenceRouter(service), http.MethodPost, "/locations", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			service.AssertExpectations(t)
		})
	}
}

func TestUnauthenticated(t *testing.T) {
	service := new(MockPresenceService)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	newPresenceRouter(service).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	service.AssertNotCalled(t, "ActiveSessions", mock.Anything, mock.Anything)
}

func TestGetProximityEmpty(t *testing.T) {
	service := new(MockPresenceService)
	service.On("Proximity", mock.Anything, "u1").Return(nil, nil)

	rec := do(t, newPresenceRouter(service), http.MethodGet, "/proximity", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCheckIn(t *testing.T) {
	service := new(MockPresenceService)
	s := activeSession()
	s.Source = checkin.SourceManual
	service.On("CheckIn", mock.Anything, "u1", "cafe").Return(&checkin.Change{Kind: checkin.ChangeCreated, Session: s}, nil).Once()
	service.On("CheckIn", mock.Anything, "u1", "cafe").Return(&checkin.Change{Kind: checkin.ChangeExtended, Session: s}, nil).Once()

	router := newPresenceRouter(service)

	rec := do(t, router, http.MethodPost, "/sessions", `{"venue_id":"cafe"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "cafe", view["venue_id"])
	assert.Equal(t, "manual", view["source"])
	assert.Equal(t, 5400.0, view["remaining_seconds"])

	rec = do(t, router, http.MethodPost, "/sessions", `{"venue_id":"cafe"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/sessions", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	service.AssertExpectations(t)
}

func TestListSessions(t *testing.T) {
	service := new(MockPresenceService)
	service.On("ActiveSessions", mock.Anything, "u1").Return([]checkin.VenueSession{activeSession()}, nil)

	rec := do(t, newPresenceRouter(service), http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "s1", views[0]["id"])
	assert.Equal(t, 5400.0, views[0]["remaining_seconds"])
}

func TestExtendSession(t *testing.T) {
	service := new(MockPresenceService)
	s := activeSession()
	s.ExpiresAt = s.ExpiresAt.Add(15 * time.Minute)
	service.On("Extend", mock.Anything, "u1", "cafe", 900*time.Second).Return(&s, nil)
	service.On("Extend", mock.Anything, "u1", "bar", 900*time.Second).Return(nil, fmt.Errorf("%w at venue bar", checkin.ErrNoActiveSession))
	service.On("Extend", mock.Anything, "u1", "cafe", time.Duration(0)).Return(nil, checkin.ErrInvalidDuration)

	router := newPresenceRouter(service)

	rec := do(t, router, http.MethodPost, "/sessions/cafe/extend", `{"extra_seconds":900}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/sessions/bar/extend", `{"extra_seconds":900}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPost, "/sessions/cafe/extend", `{"extra_seconds":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Would overflow time.Duration; never reaches the service
	for _, body := range []string{`{"extra_seconds":9223372037}`, `{"extra_seconds":18446744074}`} {
		rec = do(t, router, http.MethodPost, "/sessions/cafe/extend", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	service.AssertExpectations(t)
	service.AssertNumberOfCalls(t, "Extend", 3)
}

func TestCheckOut(t *testing.T) {
	service := new(MockPresenceService)
	s := activeSession()
	s.End(now)
	service.On("CheckOut", mock.Anything, "u1", "cafe").Return(&s, nil)
	service.On("CheckOut", mock.Anything, "u1", "bar").Return(nil, checkin.ErrNoActiveSession)

	router := newPresenceRouter(service)

	rec := do(t, router, http.MethodPost, "/sessions/cafe/checkout", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "ended", view["status"])
	assert.Equal(t, 0.0, view["remaining_seconds"])

	rec = do(t, router, http.MethodPost, "/sessions/bar/checkout", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistory(t *testing.T) {
	service := new(MockPresenceService)
	service.On("History", mock.Anything, "u1", 10, 20).Return([]checkin.VenueSession{activeSession()}, nil)

	router := newPresenceRouter(service)

	rec := do(t, router, http.MethodGet, "/sessions/history?limit=10&offset=20", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/sessions/history?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	service.AssertExpectations(t)
}

func TestLogout(t *testing.T) {
	service := new(MockPresenceService)
	service.On("Logout", mock.Anything, "u1").Return(nil, nil)

	rec := do(t, newPresenceRouter(service), http.MethodDelete, "/presence", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ended":[]}`, rec.Body.String())
}

func TestServerErrorHidesDetail(t *testing.T) {
	service := new(MockPresenceService)
	service.On("ActiveSessions", mock.Anything, "u1").Return(nil, fmt.Errorf("connection refused"))

	rec := do(t, newPresenceRouter(service), http.MethodGet, "/sessions", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}
