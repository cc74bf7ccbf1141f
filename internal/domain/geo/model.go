package geo

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidInput is returned for coordinates outside WGS84 bounds or non-finite values
var ErrInvalidInput = errors.New("invalid input")

// Coordinate is a WGS84 point in degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks that the coordinate is finite and within bounds
func (c Coordinate) Validate() error {
	if !isFinite(c.Latitude) || !isFinite(c.Longitude) {
		return fmt.Errorf("%w: non-finite coordinate (%v, %v)", ErrInvalidInput, c.Latitude, c.Longitude)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidInput, c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidInput, c.Longitude)
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Venue is a geofenced place users can check into
type Venue struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Location     Coordinate `json:"location"`
	RadiusMeters float64    `json:"radius_meters"`
}

// Validate checks the venue's location and radius
func (v Venue) Validate() error {
	if v.ID == "" {
		return fmt.Errorf("%w: venue id is empty", ErrInvalidInput)
	}
	if err := v.Location.Validate(); err != nil {
		return fmt.Errorf("venue %s: %w", v.ID, err)
	}
	if !isFinite(v.RadiusMeters) || v.RadiusMeters < 0 {
		return fmt.Errorf("%w: venue %s radius %v", ErrInvalidInput, v.ID, v.RadiusMeters)
	}
	return nil
}

// LocationSample is a single fix reported by a device location provider
type LocationSample struct {
	Coordinate     Coordinate `json:"coordinate"`
	CapturedAt     time.Time  `json:"captured_at"`
	AccuracyMeters *float64   `json:"accuracy_meters,omitempty"`
}

// GeofenceResult is the outcome of evaluating one point against one venue
type GeofenceResult struct {
	VenueID        string  `json:"venue_id"`
	DistanceMeters float64 `json:"distance_meters"`
	IsWithin       bool    `json:"is_within"`
}
