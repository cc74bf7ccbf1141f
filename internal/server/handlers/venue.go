// internal/server/handlers/venue.go

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"ketchup/internal/domain/geo"
	"ketchup/internal/domain/venue"
)

// VenueEvaluator is the geo capability the venue endpoints need
type VenueEvaluator interface {
	Evaluate(point geo.Coordinate, v geo.Venue) (geo.GeofenceResult, error)
	RadiusFor(v geo.Venue) float64
	GeofenceRing(v geo.Venue, segments int) ([]geo.Coordinate, error)
}

// VenueWriter saves venue reference data
type VenueWriter interface {
	SaveVenue(ctx context.Context, v geo.Venue) error
}

// VenueHandlerConfig contains configuration for the venue handler
type VenueHandlerConfig struct {
	DefaultSearchRadiusMeters float64
	MaxSearchRadiusMeters     float64
	GeofenceSegments          int
}

// VenueHandler handles venue-related HTTP requests
type VenueHandler struct {
	directory venue.Directory
	writer    VenueWriter
	evaluator VenueEvaluator
	config    VenueHandlerConfig
	log       logrus.FieldLogger
}

// NewVenueHandler creates a new venue handler. writer may be nil to disable edits.
func NewVenueHandler(
	directory venue.Directory,
	writer VenueWriter,
	evaluator VenueEvaluator,
	config VenueHandlerConfig,
	log logrus.FieldLogger,
) *VenueHandler {
	if config.DefaultSearchRadiusMeters <= 0 {
		config.DefaultSearchRadiusMeters = 2000
	}
	if config.MaxSearchRadiusMeters <= 0 {
		config.MaxSearchRadiusMeters = 50000
	}
	if config.GeofenceSegments <= 0 {
		config.GeofenceSegments = 64
	}

	return &VenueHandler{
		directory: directory,
		writer:    writer,
		evaluator: evaluator,
		config:    config,
		log:       log,
	}
}

// ListNearby returns venues near a location
func (h *VenueHandler) ListNearby(w http.ResponseWriter, r *http.Request) {
	location, err := queryCoordinate(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid location", err)
		return
	}

	radius, err := queryFloat(r, "radius", h.config.DefaultSearchRadiusMeters)
	if err != nil || radius <= 0 || radius > h.config.MaxSearchRadiusMeters {
		respondWithError(w, http.StatusBadRequest, "Invalid radius", err)
		return
	}

	venues, err := h.directory.FindNearbyVenues(r.Context(), location, radius)
	if err != nil {
		respondWithDomainError(w, h.log, "Failed to find venues", err)
		return
	}
	if venues == nil {
		venues = []geo.Venue{}
	}

	respondWithJSON(w, http.StatusOK, venues)
}

// GetVenue returns a specific venue
func (h *VenueHandler) GetVenue(w http.ResponseWriter, r *http.Request) {
	v, err := h.directory.GetVenue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithDomainError(w, h.log, "Failed to get venue", err)
		return
	}

	respondWithJSON(w, http.StatusOK, v)
}

// GetGeofence returns the venue geofence as a GeoJSON polygon feature
func (h *VenueHandler) GetGeofence(w http.ResponseWriter, r *http.Request) {
	v, err := h.directory.GetVenue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithDomainError(w, h.log, "Failed to get venue", err)
		return
	}

	ring, err := h.evaluator.GeofenceRing(*v, h.config.GeofenceSegments)
	if err != nil {
		respondWithDomainError(w, h.log, "Failed to build geofence", err)
		return
	}

	// GeoJSON orders positions lng, lat
	flat := make([]float64, 0, len(ring)*2)
	for _, p := range ring {
		flat = append(flat, p.Longitude, p.Latitude)
	}

	feature := &geojson.Feature{
		ID:       v.ID,
		Geometry: geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}),
		Properties: map[string]interface{}{
			"name":          v.Name,
			"radius_meters": h.evaluator.RadiusFor(*v),
			"center":        []float64{v.Location.Longitude, v.Location.Latitude},
		},
	}

	data, err := feature.MarshalJSON()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to encode geofence", err)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Evaluate reports whether a point lies inside a venue's geofence
func (h *VenueHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	point, err := queryCoordinate(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid location", err)
		return
	}

	v, err := h.directory.GetVenue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithDomainError(w, h.log, "Failed to get venue", err)
		return
	}

	result, err := h.evaluator.Evaluate(point, *v)
	if err != nil {
		respondWithDomainError(w, h.log, "Failed to evaluate geofence", err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

type saveVenueRequest struct {
	Name         string  `json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
}

// SaveVenue creates or replaces a venue
func (h *VenueHandler) SaveVenue(w http.ResponseWriter, r *http.Request) {
	if h.writer == nil {
		respondWithError(w, http.StatusMethodNotAllowed, "Venue editing is disabled", nil)
		return
	}

	var req saveVenueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	v := geo.Venue{
		ID:           chi.URLParam(r, "id"),
		Name:         req.Name,
		Location:     geo.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude},
		RadiusMeters: req.RadiusMeters,
	}
	if err := v.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid venue", err)
		return
	}

	if err := h.writer.SaveVenue(r.Context(), v); err != nil {
		respondWithDomainError(w, h.log, "Failed to save venue", err)
		return
	}

	respondWithJSON(w, http.StatusOK, v)
}
