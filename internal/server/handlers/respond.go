// internal/server/handlers/respond.go

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"ketchup/internal/domain/checkin"
	"ketchup/internal/domain/geo"
	"ketchup/internal/domain/proximity"
	"ketchup/internal/domain/venue"
	"ketchup/internal/service/presence"
)

// Helper for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper for error responses
func respondWithError(w http.ResponseWriter, code int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil && code < 500 {
		response["detail"] = err.Error()
	}

	jsonResponse, _ := json.Marshal(response)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(jsonResponse)
}

// statusFor maps a domain error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, geo.ErrInvalidInput), errors.Is(err, checkin.ErrInvalidDuration):
		return http.StatusBadRequest
	case errors.Is(err, checkin.ErrNoActiveSession), errors.Is(err, venue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, proximity.ErrStaleSample), errors.Is(err, checkin.ErrSessionNotActive):
		return http.StatusConflict
	case errors.Is(err, proximity.ErrInaccurateSample):
		return http.StatusUnprocessableEntity
	case errors.Is(err, presence.ErrEngineStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondWithDomainError writes err with its mapped status, logging server errors
func respondWithDomainError(w http.ResponseWriter, log logrus.FieldLogger, message string, err error) {
	code := statusFor(err)
	if code >= 500 {
		log.WithError(err).Error(message)
	}
	respondWithError(w, code, message, err)
}

// queryFloat parses an optional float query parameter
func queryFloat(r *http.Request, key string, defaultValue float64) (float64, error) {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(valueStr, 64)
}

// queryInt parses an optional int query parameter
func queryInt(r *http.Request, key string, defaultValue int) (int, error) {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(valueStr)
}

// queryCoordinate parses the required lat/lng query parameters
func queryCoordinate(r *http.Request) (geo.Coordinate, error) {
	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")
	if latStr == "" || lngStr == "" {
		return geo.Coordinate{}, errors.New("missing location parameters")
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return geo.Coordinate{}, errors.New("invalid latitude")
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return geo.Coordinate{}, errors.New("invalid longitude")
	}

	c := geo.Coordinate{Latitude: lat, Longitude: lng}
	return c, c.Validate()
}
