// internal/domain/venue/directory.go

package venue

import (
	"context"
	"errors"

	"ketchup/internal/domain/geo"
)

// ErrNotFound is returned when a venue id is not in the directory
var ErrNotFound = errors.New("venue not found")

// Directory is the single source of venue reference data
type Directory interface {
	// GetVenue returns a venue by ID
	GetVenue(ctx context.Context, id string) (*geo.Venue, error)

	// FindNearbyVenues returns venues whose center lies within radiusMeters of location
	FindNearbyVenues(ctx context.Context, location geo.Coordinate, radiusMeters float64) ([]geo.Venue, error)
}
