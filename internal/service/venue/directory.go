// internal/service/venue/directory.go

package venue

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"ketchup/internal/domain/geo"
	"ketchup/internal/domain/venue"
	"ketchup/internal/metrics"
)

var _ venue.Directory = (*CachedDirectory)(nil)

// Writer persists venue reference data
type Writer interface {
	SaveVenue(ctx context.Context, v geo.Venue) error
}

// Store is a venue directory that can also be written to
type Store interface {
	venue.Directory
	Writer
}

// CachedDirectoryConfig contains configuration for the cached directory
type CachedDirectoryConfig struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

const (
	venuePrefix  = "venue:"
	nearbyPrefix = "nearby:"
)

// CachedDirectory wraps a venue store with an in-memory read cache.
// Nearby queries are keyed on a ~11m grid so jittery fixes share entries.
type CachedDirectory struct {
	store   Store
	cache   *cache.Cache
	metrics *metrics.Presence
}

// NewCachedDirectory creates a cached directory. m may be nil.
func NewCachedDirectory(store Store, config CachedDirectoryConfig, m *metrics.Presence) *CachedDirectory {
	return &CachedDirectory{
		store:   store,
		cache:   cache.New(config.TTL, config.CleanupInterval),
		metrics: m,
	}
}

// GetVenue returns a venue by ID, from cache when possible
func (d *CachedDirectory) GetVenue(ctx context.Context, id string) (*geo.Venue, error) {
	key := venuePrefix + id
	if cached, found := d.cache.Get(key); found {
		d.lookup("hit")
		v := cached.(geo.Venue)
		return &v, nil
	}
	d.lookup("miss")

	v, err := d.store.GetVenue(ctx, id)
	if err != nil {
		return nil, err
	}

	d.cache.SetDefault(key, *v)
	return v, nil
}

// FindNearbyVenues returns venues near a location, from cache when possible
func (d *CachedDirectory) FindNearbyVenues(ctx context.Context, location geo.Coordinate, radiusMeters float64) ([]geo.Venue, error) {
	if err := location.Validate(); err != nil {
		return nil, err
	}

	key := nearbyKey(location, radiusMeters)
	if cached, found := d.cache.Get(key); found {
		d.lookup("hit")
		return append([]geo.Venue(nil), cached.([]geo.Venue)...), nil
	}
	d.lookup("miss")

	venues, err := d.store.FindNearbyVenues(ctx, location, radiusMeters)
	if err != nil {
		return nil, err
	}

	d.cache.SetDefault(key, append([]geo.Venue(nil), venues...))
	for _, v := range venues {
		d.cache.SetDefault(venuePrefix+v.ID, v)
	}

	return venues, nil
}

// SaveVenue writes through to the store and drops every cached nearby result
func (d *CachedDirectory) SaveVenue(ctx context.Context, v geo.Venue) error {
	if err := d.store.SaveVenue(ctx, v); err != nil {
		return err
	}

	d.cache.SetDefault(venuePrefix+v.ID, v)
	for key := range d.cache.Items() {
		if strings.HasPrefix(key, nearbyPrefix) {
			d.cache.Delete(key)
		}
	}

	return nil
}

// Flush empties the cache
func (d *CachedDirectory) Flush() {
	d.cache.Flush()
}

func (d *CachedDirectory) lookup(result string) {
	if d.metrics != nil {
		d.metrics.VenueCacheLookup.WithLabelValues(result).Inc()
	}
}

func nearbyKey(location geo.Coordinate, radiusMeters float64) string {
	// 4 decimal places is roughly 11m at the equator
	lat := math.Round(location.Latitude*1e4) / 1e4
	lng := math.Round(location.Longitude*1e4) / 1e4
	return fmt.Sprintf("%s%.4f:%.4f:%.0f", nearbyPrefix, lat, lng, radiusMeters)
}
