// internal/domain/geo/service.go

package geo

// Service defines the geospatial calculations used by presence tracking
type Service interface {
	// DistanceMeters returns the great-circle distance between two coordinates
	DistanceMeters(a, b Coordinate) (float64, error)

	// BearingDegrees returns the initial bearing from a to b in [0, 360)
	BearingDegrees(a, b Coordinate) (float64, error)

	// Evaluate decides whether point lies within the venue's geofence
	Evaluate(point Coordinate, venue Venue) (GeofenceResult, error)

	// EvaluateMany evaluates point against each venue, preserving order
	EvaluateMany(point Coordinate, venues []Venue) ([]GeofenceResult, error)
}
