package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ketchup/internal/domain/geo"
	"ketchup/internal/domain/venue"
	"ketchup/internal/metrics"
)

// MockStore is a mock implementation of Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetVenue(ctx context.Context, id string) (*geo.Venue, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*geo.Venue), args.Error(1)
}

func (m *MockStore) FindNearbyVenues(ctx context.Context, location geo.Coordinate, radiusMeters float64) ([]geo.Venue, error) {
	args := m.Called(ctx, location, radiusMeters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]geo.Venue), args.Error(1)
}

func (m *MockStore) SaveVenue(ctx context.Context, v geo.Venue) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

var cafe = geo.Venue{
	ID:           "cafe",
	Name:         "Cafe",
	Location:     geo.Coordinate{Latitude: 23.01, Longitude: 72.48},
	RadiusMeters: 60,
}

func newDirectory(store *MockStore) (*CachedDirectory, *metrics.Presence) {
	m := metrics.NewPresence()
	return NewCachedDirectory(store, CachedDirectoryConfig{TTL: time.Minute, CleanupInterval: time.Minute}, m), m
}

func TestGetVenueCachesHits(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("GetVenue", ctx, "cafe").Return(&geo.Venue{ID: cafe.ID, Name: cafe.Name, Location: cafe.Location, RadiusMeters: cafe.RadiusMeters}, nil).Once()

	dir, m := newDirectory(store)

	first, err := dir.GetVenue(ctx, "cafe")
	require.NoError(t, err)
	second, err := dir.GetVenue(ctx, "cafe")
	require.NoError(t, err)

	assert.Equal(t, cafe, *first)
	assert.Equal(t, cafe, *second)
	store.AssertExpectations(t)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.VenueCacheLookup.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VenueCacheLookup.WithLabelValues("miss")))
}

func TestGetVenueNotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("GetVenue", ctx, "ghost").Return(nil, venue.ErrNotFound).Twice()

	dir, _ := newDirectory(store)

	_, err := dir.GetVenue(ctx, "ghost")
	assert.ErrorIs(t, err, venue.ErrNotFound)
	_, err = dir.GetVenue(ctx, "ghost")
	assert.ErrorIs(t, err, venue.ErrNotFound)

	store.AssertExpectations(t)
}

func TestFindNearbyVenuesSharesGridCell(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	here := geo.Coordinate{Latitude: 23.01, Longitude: 72.48}
	store.On("FindNearbyVenues", ctx, here, 2000.0).Return([]geo.Venue{cafe}, nil).Once()

	dir, _ := newDirectory(store)

	venues, err := dir.FindNearbyVenues(ctx, here, 2000)
	require.NoError(t, err)
	assert.Equal(t, []geo.Venue{cafe}, venues)

	// A couple of meters away lands in the same cell
	jitter := geo.Coordinate{Latitude: 23.01001, Longitude: 72.48001}
	venues, err = dir.FindNearbyVenues(ctx, jitter, 2000)
	require.NoError(t, err)
	assert.Equal(t, []geo.Venue{cafe}, venues)

	// Nearby results also warm the by-id entries
	v, err := dir.GetVenue(ctx, "cafe")
	require.NoError(t, err)
	assert.Equal(t, cafe, *v)

	store.AssertExpectations(t)
}

func TestFindNearbyVenuesReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("FindNearbyVenues", ctx, cafe.Location, 500.0).Return([]geo.Venue{cafe}, nil).Once()

	dir, _ := newDirectory(store)

	venues, err := dir.FindNearbyVenues(ctx, cafe.Location, 500)
	require.NoError(t, err)
	venues[0].Name = "mutated"

	venues, err = dir.FindNearbyVenues(ctx, cafe.Location, 500)
	require.NoError(t, err)
	assert.Equal(t, "Cafe", venues[0].Name)
}

func TestFindNearbyVenuesInvalidLocation(t *testing.T) {
	store := new(MockStore)
	dir, _ := newDirectory(store)

	_, err := dir.FindNearbyVenues(context.Background(), geo.Coordinate{Latitude: -91}, 500)
	assert.ErrorIs(t, err, geo.ErrInvalidInput)
	store.AssertNotCalled(t, "FindNearbyVenues", mock.Anything, mock.Anything, mock.Anything)
}

func TestSaveVenueInvalidatesNearby(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	bar := geo.Venue{ID: "bar", Name: "Bar", Location: geo.Coordinate{Latitude: 23.0101, Longitude: 72.4801}}

	store.On("FindNearbyVenues", ctx, cafe.Location, 2000.0).Return([]geo.Venue{cafe}, nil).Once()
	store.On("SaveVenue", ctx, bar).Return(nil).Once()
	store.On("FindNearbyVenues", ctx, cafe.Location, 2000.0).Return([]geo.Venue{cafe, bar}, nil).Once()

	dir, _ := newDirectory(store)

	_, err := dir.FindNearbyVenues(ctx, cafe.Location, 2000)
	require.NoError(t, err)

	require.NoError(t, dir.SaveVenue(ctx, bar))

	venues, err := dir.FindNearbyVenues(ctx, cafe.Location, 2000)
	require.NoError(t, err)
	assert.Len(t, venues, 2)

	v, err := dir.GetVenue(ctx, "bar")
	require.NoError(t, err)
	assert.Equal(t, bar, *v)

	store.AssertExpectations(t)
}

func TestSaveVenueStoreError(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("SaveVenue", ctx, cafe).Return(errors.New("db down"))
	store.On("GetVenue", ctx, "cafe").Return(nil, venue.ErrNotFound)

	dir, _ := newDirectory(store)

	assert.Error(t, dir.SaveVenue(ctx, cafe))

	// Failed writes are not cached
	_, err := dir.GetVenue(ctx, "cafe")
	assert.ErrorIs(t, err, venue.ErrNotFound)
}
