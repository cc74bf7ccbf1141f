package proximity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ketchup/internal/domain/geo"
	"ketchup/internal/domain/proximity"
	geoService "ketchup/internal/service/geo"
)

var (
	start   = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	cafe    = geo.Venue{ID: "cafe", Name: "Cafe", Location: geo.Coordinate{Latitude: 23.01, Longitude: 72.48}, RadiusMeters: 60}
	inside  = geo.Coordinate{Latitude: 23.01, Longitude: 72.48}
	outside = geo.Coordinate{Latitude: 23.012, Longitude: 72.48}
)

func newTracker(t *testing.T, minDwell int, venues ...geo.Venue) *Tracker {
	t.Helper()
	tr := NewTracker(geoService.NewEvaluator(60), TrackerConfig{MinDwellSamples: minDwell})
	for _, v := range venues {
		require.NoError(t, tr.TrackVenue(v))
	}
	return tr
}

func sampleAt(c geo.Coordinate, offset time.Duration) geo.LocationSample {
	return geo.LocationSample{Coordinate: c, CapturedAt: start.Add(offset)}
}

// feed ingests coordinates one second apart and returns all events
func feed(t *testing.T, tr *Tracker, coords ...geo.Coordinate) []proximity.TransitionEvent {
	t.Helper()
	var all []proximity.TransitionEvent
	for i, c := range coords {
		events, err := tr.Ingest(sampleAt(c, time.Duration(i)*time.Second))
		require.NoError(t, err)
		all = append(all, events...)
	}
	return all
}

func TestFirstSampleSetsBaselineSilently(t *testing.T) {
	tr := newTracker(t, 1, cafe)

	st, ok := tr.State("cafe")
	require.True(t, ok)
	assert.Equal(t, proximity.MembershipUnknown, st.Membership)

	events, err := tr.Ingest(sampleAt(inside, 0))
	require.NoError(t, err)
	assert.Empty(t, events)

	st, _ = tr.State("cafe")
	assert.Equal(t, proximity.MembershipInside, st.Membership)
	assert.True(t, st.IsInside)
	assert.Equal(t, 0.0, st.LastDistanceMeters)
	assert.Equal(t, start, st.LastEvaluatedAt)
}

func TestEnterAfterOutsideSamples(t *testing.T) {
	tr := newTracker(t, 1, cafe)

	events := feed(t, tr, outside, outside, inside)

	require.Len(t, events, 1)
	assert.Equal(t, "cafe", events[0].VenueID)
	assert.Equal(t, proximity.TransitionEnter, events[0].Type)
	assert.Equal(t, start.Add(2*time.Second), events[0].OccurredAt)
	assert.Equal(t, 0.0, events[0].DistanceMeters)
}

func TestOneEventPerStateChangeWithoutDebounce(t *testing.T) {
	tr := newTracker(t, 1, cafe)

	events := feed(t, tr, outside, inside, inside, outside, outside, inside)

	require.Len(t, events, 3)
	assert.Equal(t, proximity.TransitionEnter, events[0].Type)
	assert.Equal(t, proximity.TransitionExit, events[1].Type)
	assert.Equal(t, proximity.TransitionEnter, events[2].Type)
}

func TestDebounceSuppressesShortExcursion(t *testing.T) {
	tr := newTracker(t, 3, cafe)

	events := feed(t, tr, outside, inside, outside, outside, outside)
	assert.Empty(t, events)
	assert.Nil(t, tr.PendingTransition("cafe"))

	st, _ := tr.State("cafe")
	assert.Equal(t, proximity.MembershipOutside, st.Membership)
}

func TestDebounceConfirmsAfterDwell(t *testing.T) {
	tr := newTracker(t, 3, cafe)

	events := feed(t, tr, outside, inside, inside)
	assert.Empty(t, events)

	pending := tr.PendingTransition("cafe")
	require.NotNil(t, pending)
	assert.Equal(t, proximity.TransitionEnter, pending.Type)
	assert.Equal(t, 2, pending.Samples)
	assert.Equal(t, start.Add(time.Second), pending.FirstSeen)

	events, err := tr.Ingest(sampleAt(inside, 3*time.Second))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, proximity.TransitionEnter, events[0].Type)
	assert.Equal(t, start.Add(3*time.Second), events[0].OccurredAt)
	assert.Nil(t, tr.PendingTransition("cafe"))
}

func TestContradictingSampleResetsDwellCounter(t *testing.T) {
	tr := newTracker(t, 2, cafe)

	// the outside sample between the two inside samples restarts the count
	events := feed(t, tr, outside, inside, outside, inside)
	assert.Empty(t, events)

	events, err := tr.Ingest(sampleAt(inside, 10*time.Second))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, proximity.TransitionEnter, events[0].Type)
}

func TestStaleSampleIsRejectedWithoutStateChange(t *testing.T) {
	tr := newTracker(t, 1, cafe)
	feed(t, tr, outside, outside)

	before, _ := tr.State("cafe")

	events, err := tr.Ingest(geo.LocationSample{Coordinate: inside, CapturedAt: start})
	assert.ErrorIs(t, err, proximity.ErrStaleSample)
	assert.Nil(t, events)

	after, _ := tr.State("cafe")
	assert.Equal(t, before, after)
}

func TestEqualTimestampIsAccepted(t *testing.T) {
	tr := newTracker(t, 1, cafe)
	feed(t, tr, outside)

	events, err := tr.Ingest(sampleAt(inside, 0))
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestInvalidSampleCoordinate(t *testing.T) {
	tr := newTracker(t, 1, cafe)

	_, err := tr.Ingest(sampleAt(geo.Coordinate{Latitude: 91}, 0))
	assert.ErrorIs(t, err, geo.ErrInvalidInput)

	st, _ := tr.State("cafe")
	assert.Equal(t, proximity.MembershipUnknown, st.Membership)
}

func TestInaccurateSampleRejected(t *testing.T) {
	tr := NewTracker(geoService.NewEvaluator(60), TrackerConfig{MinDwellSamples: 1, MaxAccuracyMeters: 50})
	require.NoError(t, tr.TrackVenue(cafe))

	coarse := 120.0
	_, err := tr.Ingest(geo.LocationSample{Coordinate: inside, CapturedAt: start, AccuracyMeters: &coarse})
	assert.ErrorIs(t, err, proximity.ErrInaccurateSample)

	fine := 8.0
	_, err = tr.Ingest(geo.LocationSample{Coordinate: inside, CapturedAt: start, AccuracyMeters: &fine})
	assert.NoError(t, err)
}

func TestAdmitMatchesIngestWithoutStateChange(t *testing.T) {
	tr := NewTracker(geoService.NewEvaluator(60), TrackerConfig{MinDwellSamples: 1, MaxAccuracyMeters: 50})
	require.NoError(t, tr.TrackVenue(cafe))
	_, err := tr.Ingest(sampleAt(outside, time.Minute))
	require.NoError(t, err)

	before, _ := tr.State("cafe")

	coarse := 500.0
	assert.ErrorIs(t, tr.Admit(geo.LocationSample{Coordinate: inside, CapturedAt: start.Add(2 * time.Minute), AccuracyMeters: &coarse}), proximity.ErrInaccurateSample)
	assert.ErrorIs(t, tr.Admit(sampleAt(inside, 0)), proximity.ErrStaleSample)
	assert.ErrorIs(t, tr.Admit(sampleAt(geo.Coordinate{Latitude: 91}, 2*time.Minute)), geo.ErrInvalidInput)
	assert.NoError(t, tr.Admit(sampleAt(inside, 2*time.Minute)))

	after, _ := tr.State("cafe")
	assert.Equal(t, before, after)
}

func TestMultipleOverlappingVenues(t *testing.T) {
	bar := geo.Venue{ID: "bar", Location: geo.Coordinate{Latitude: 23.0102, Longitude: 72.48}, RadiusMeters: 60}
	tr := newTracker(t, 1, cafe, bar)

	events := feed(t, tr, outside, inside)

	require.Len(t, events, 2)
	assert.Equal(t, "cafe", events[0].VenueID)
	assert.Equal(t, "bar", events[1].VenueID)
}

func TestUntrackDiscardsState(t *testing.T) {
	tr := newTracker(t, 1, cafe)
	feed(t, tr, outside)

	tr.UntrackVenue("cafe")
	_, ok := tr.State("cafe")
	assert.False(t, ok)
	assert.Empty(t, tr.TrackedVenues())

	// re-tracking starts from Unknown again, so the next sample is a silent baseline
	require.NoError(t, tr.TrackVenue(cafe))
	events, err := tr.Ingest(sampleAt(inside, time.Minute))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestVenueTrackedMidStreamBaselinesSilently(t *testing.T) {
	tr := newTracker(t, 1, cafe)
	feed(t, tr, outside)

	bar := geo.Venue{ID: "bar", Location: outside, RadiusMeters: 60}
	require.NoError(t, tr.TrackVenue(bar))

	events, err := tr.Ingest(sampleAt(outside, time.Second))
	require.NoError(t, err)
	assert.Empty(t, events)

	st, _ := tr.State("bar")
	assert.Equal(t, proximity.MembershipInside, st.Membership)
}

func TestRetrackKeepsState(t *testing.T) {
	tr := newTracker(t, 1, cafe)
	feed(t, tr, inside)

	moved := cafe
	moved.Name = "Cafe (renamed)"
	require.NoError(t, tr.TrackVenue(moved))

	st, _ := tr.State("cafe")
	assert.Equal(t, proximity.MembershipInside, st.Membership)
	assert.Equal(t, "Cafe (renamed)", tr.TrackedVenues()[0].Name)
}

func TestTrackVenueRejectsInvalidVenue(t *testing.T) {
	tr := newTracker(t, 1)

	err := tr.TrackVenue(geo.Venue{ID: "bad", Location: geo.Coordinate{Latitude: 0, Longitude: 200}})
	assert.ErrorIs(t, err, geo.ErrInvalidInput)
	assert.Empty(t, tr.States())
}

func TestStatesReturnsCopies(t *testing.T) {
	tr := newTracker(t, 3, cafe)
	feed(t, tr, outside, inside)

	states := tr.States()
	require.Len(t, states, 1)
	require.NotNil(t, states[0].Pending)
	states[0].Pending.Samples = 99

	assert.Equal(t, 1, tr.PendingTransition("cafe").Samples)
}
