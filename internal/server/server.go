// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"ketchup/internal/config"
	"ketchup/internal/domain/venue"
	"ketchup/internal/server/handlers"
)

// Dependencies are the services the HTTP API serves
type Dependencies struct {
	Presence      handlers.PresenceService
	Venues        venue.Directory
	VenueWriter   handlers.VenueWriter
	Evaluator     handlers.VenueEvaluator
	Subscriber    handlers.Subscriber
	Authenticator *handlers.Authenticator
	Metrics       http.Handler
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, presenceCfg config.PresenceConfig, deps Dependencies, log logrus.FieldLogger) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(log))
	router.Use(middleware.Recoverer)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create handler dependencies
	presenceHandler := handlers.NewPresenceHandler(deps.Presence, log)
	venueHandler := handlers.NewVenueHandler(
		deps.Venues,
		deps.VenueWriter,
		deps.Evaluator,
		handlers.VenueHandlerConfig{
			DefaultSearchRadiusMeters: presenceCfg.TrackingRadiusMeters,
		},
		log,
	)

	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics)
	}

	// Routes
	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			r.Use(deps.Authenticator.RequireAuth)

			// Venues API
			r.Route("/venues", func(r chi.Router) {
				r.Get("/", venueHandler.ListNearby)
				r.Get("/{id}", venueHandler.GetVenue)
				r.Get("/{id}/geofence", venueHandler.GetGeofence)
				r.Get("/{id}/evaluate", venueHandler.Evaluate)
				r.With(handlers.RequireRole(handlers.RoleAdmin)).Put("/{id}", venueHandler.SaveVenue)
			})

			// Presence API
			r.Post("/locations", presenceHandler.PostLocation)
			r.Get("/proximity", presenceHandler.GetProximity)
			r.Delete("/presence", presenceHandler.Logout)

			// Sessions API
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", presenceHandler.ListSessions)
				r.Post("/", presenceHandler.CheckIn)
				r.Get("/history", presenceHandler.History)
				r.Post("/{venueID}/extend", presenceHandler.ExtendSession)
				r.Post("/{venueID}/checkout", presenceHandler.CheckOut)
			})
		})
	})

	// WebSocket endpoint for real-time presence events
	router.With(deps.Authenticator.RequireAuth).Get("/ws/presence", handlers.PresenceWebSocketHandler(deps.Subscriber, log))

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// Handler returns the router, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// requestLogger logs each request through logrus
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start),
			}).Debug("HTTP request")
		})
	}
}
