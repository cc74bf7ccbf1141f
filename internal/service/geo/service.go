// internal/service/geo/service.go

package geo

import (
	"fmt"
	"math"

	"ketchup/internal/domain/geo"
)

var _ geo.Service = (*Evaluator)(nil)

// EarthRadiusMeters is the mean Earth radius used by the Haversine formula
const EarthRadiusMeters = 6371000.0

// DistanceMeters calculates the great-circle distance between two coordinates in meters
func DistanceMeters(a, b geo.Coordinate) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	if a == b {
		return 0, nil
	}

	// Convert latitude and longitude from degrees to radians
	lat1 := toRadians(a.Latitude)
	lon1 := toRadians(a.Longitude)
	lat2 := toRadians(b.Latitude)
	lon2 := toRadians(b.Longitude)

	// Haversine formula
	dLat := lat2 - lat1
	dLon := lon2 - lon1

	hSin := math.Sin(dLat / 2)
	hSin *= hSin

	vSin := math.Sin(dLon / 2)
	vSin *= vSin

	h := hSin + math.Cos(lat1)*math.Cos(lat2)*vSin

	// rounding can push h a hair above 1 for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h)), nil
}

// BearingDegrees calculates the initial great-circle bearing from a to b
func BearingDegrees(a, b geo.Coordinate) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}

	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	bearing := math.Mod(toDegrees(math.Atan2(y, x))+360, 360)
	return bearing, nil
}

// Destination returns the point reached travelling distanceMeters from origin on the given bearing
func Destination(origin geo.Coordinate, bearingDegrees, distanceMeters float64) (geo.Coordinate, error) {
	if err := origin.Validate(); err != nil {
		return geo.Coordinate{}, err
	}

	lat1 := toRadians(origin.Latitude)
	lon1 := toRadians(origin.Longitude)
	brng := toRadians(bearingDegrees)
	ad := distanceMeters / EarthRadiusMeters

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ad) + math.Cos(lat1)*math.Sin(ad)*math.Cos(brng))
	lon2 := lon1 + math.Atan2(
		math.Sin(brng)*math.Sin(ad)*math.Cos(lat1),
		math.Cos(ad)-math.Sin(lat1)*math.Sin(lat2),
	)

	// normalise to [-180, 180)
	lng := math.Mod(toDegrees(lon2)+540, 360) - 180

	return geo.Coordinate{Latitude: toDegrees(lat2), Longitude: lng}, nil
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func toDegrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// Evaluator implements the geo.Service interface
type Evaluator struct {
	defaultRadius float64
}

// NewEvaluator creates an evaluator. Venues without a radius use defaultRadiusMeters.
func NewEvaluator(defaultRadiusMeters float64) *Evaluator {
	return &Evaluator{
		defaultRadius: defaultRadiusMeters,
	}
}

// DistanceMeters calculates the distance between two coordinates in meters
func (e *Evaluator) DistanceMeters(a, b geo.Coordinate) (float64, error) {
	return DistanceMeters(a, b)
}

// BearingDegrees calculates the initial bearing between two coordinates
func (e *Evaluator) BearingDegrees(a, b geo.Coordinate) (float64, error) {
	return BearingDegrees(a, b)
}

// RadiusFor returns the effective geofence radius for a venue
func (e *Evaluator) RadiusFor(venue geo.Venue) float64 {
	if venue.RadiusMeters > 0 {
		return venue.RadiusMeters
	}
	return e.defaultRadius
}

// GeofenceRing approximates a venue's geofence circle with a closed ring of segments+1 points
func (e *Evaluator) GeofenceRing(venue geo.Venue, segments int) ([]geo.Coordinate, error) {
	if err := venue.Validate(); err != nil {
		return nil, err
	}
	if segments < 3 {
		segments = 3
	}

	radius := e.RadiusFor(venue)
	ring := make([]geo.Coordinate, 0, segments+1)
	for i := 0; i < segments; i++ {
		p, err := Destination(venue.Location, float64(i)*360/float64(segments), radius)
		if err != nil {
			return nil, err
		}
		ring = append(ring, p)
	}
	ring = append(ring, ring[0])

	return ring, nil
}

// Evaluate checks whether point lies within the venue's geofence. The boundary is inclusive.
func (e *Evaluator) Evaluate(point geo.Coordinate, venue geo.Venue) (geo.GeofenceResult, error) {
	if err := venue.Validate(); err != nil {
		return geo.GeofenceResult{}, err
	}

	distance, err := DistanceMeters(point, venue.Location)
	if err != nil {
		return geo.GeofenceResult{}, fmt.Errorf("evaluating venue %s: %w", venue.ID, err)
	}

	return geo.GeofenceResult{
		VenueID:        venue.ID,
		DistanceMeters: distance,
		IsWithin:       distance <= e.RadiusFor(venue),
	}, nil
}

// EvaluateMany evaluates point against every venue independently.
// Overlapping venues can all report IsWithin.
func (e *Evaluator) EvaluateMany(point geo.Coordinate, venues []geo.Venue) ([]geo.GeofenceResult, error) {
	if err := point.Validate(); err != nil {
		return nil, err
	}

	results := make([]geo.GeofenceResult, 0, len(venues))
	for _, venue := range venues {
		result, err := e.Evaluate(point, venue)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, nil
}
