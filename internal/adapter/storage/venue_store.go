// internal/adapter/storage/venue_store.go

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"ketchup/internal/domain/geo"
	"ketchup/internal/domain/venue"
)

// VenueStore implements venue.Directory on Postgres/PostGIS
type VenueStore struct {
	db DB
}

// NewVenueStore creates a new venue store
func NewVenueStore(db DB) *VenueStore {
	return &VenueStore{
		db: db,
	}
}

// GetVenue retrieves a venue by ID
func (s *VenueStore) GetVenue(ctx context.Context, id string) (*geo.Venue, error) {
	query := `
		SELECT id, name,
		       ST_Y(location::geometry) AS lat, ST_X(location::geometry) AS lng,
		       radius_meters
		FROM venues
		WHERE id = $1
	`

	var v geo.Venue
	err := s.db.QueryRow(ctx, query, id).Scan(
		&v.ID,
		&v.Name,
		&v.Location.Latitude,
		&v.Location.Longitude,
		&v.RadiusMeters,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", venue.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("error querying venue: %w", err)
	}

	return &v, nil
}

// FindNearbyVenues returns venues whose center is within radiusMeters of location, nearest first
func (s *VenueStore) FindNearbyVenues(ctx context.Context, location geo.Coordinate, radiusMeters float64) ([]geo.Venue, error) {
	if err := location.Validate(); err != nil {
		return nil, err
	}

	// Use PostGIS ST_DWithin for efficient spatial query
	query := `
		SELECT id, name,
		       ST_Y(location::geometry) AS lat, ST_X(location::geometry) AS lng,
		       radius_meters
		FROM venues
		WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography), id
		LIMIT 200
	`

	rows, err := s.db.Query(ctx, query, location.Longitude, location.Latitude, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var venues []geo.Venue
	for rows.Next() {
		var v geo.Venue
		if err := rows.Scan(
			&v.ID, &v.Name, &v.Location.Latitude, &v.Location.Longitude, &v.RadiusMeters,
		); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		venues = append(venues, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return venues, nil
}

// SaveVenue inserts or updates a venue
func (s *VenueStore) SaveVenue(ctx context.Context, v geo.Venue) error {
	if err := v.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO venues (id, name, location, radius_meters)
		VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = $2, location = EXCLUDED.location, radius_meters = $5
	`

	if _, err := s.db.Exec(ctx, query, v.ID, v.Name, v.Location.Longitude, v.Location.Latitude, v.RadiusMeters); err != nil {
		return fmt.Errorf("error saving venue: %w", err)
	}

	return nil
}
