// cmd/api/main.go

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"ketchup/internal/adapter/events"
	"ketchup/internal/adapter/storage"
	"ketchup/internal/config"
	"ketchup/internal/logger"
	"ketchup/internal/metrics"
	"ketchup/internal/server"
	"ketchup/internal/server/handlers"
	checkinService "ketchup/internal/service/checkin"
	geoService "ketchup/internal/service/geo"
	"ketchup/internal/service/presence"
	proximityService "ketchup/internal/service/proximity"
	venueService "ketchup/internal/service/venue"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logger.Setup(cfg.Log)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Initialize dependencies
	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := storage.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("Failed to prepare schema: %v", err)
	}

	natsConn, err := initNATS(cfg.NATS, log)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsConn.Close()

	m := metrics.NewPresence()

	// Initialize storage adapters
	venueStore := storage.NewVenueStore(db)
	sessionStore := storage.NewSessionStore(db)

	// Initialize services
	venues := venueService.NewCachedDirectory(venueStore, venueService.CachedDirectoryConfig{
		TTL:             cfg.Venue.CacheTTL,
		CleanupInterval: cfg.Venue.CleanupInterval,
	}, m)

	bus := events.NewBus(natsConn, events.BusConfig{Prefix: cfg.Presence.EventsTopic}, log)
	evaluator := geoService.NewEvaluator(cfg.Presence.RadiusMeters)

	hub := presence.NewHub(
		evaluator,
		venues,
		sessionStore,
		bus,
		m,
		presence.HubConfig{
			Tracker: proximityService.TrackerConfig{
				MinDwellSamples:   cfg.Presence.MinDwellSamples,
				MaxAccuracyMeters: cfg.Presence.MaxAccuracyMeters,
			},
			Sessions: checkinService.SessionManagerConfig{
				AutoCheckIn:        cfg.Presence.AutoCheckIn,
				AutoCheckOutOnExit: cfg.Presence.AutoCheckOutOnExit,
				DefaultDuration:    cfg.Presence.DefaultDuration,
			},
			SweepInterval:              cfg.Presence.SweepInterval,
			TrackingRadiusMeters:       cfg.Presence.TrackingRadiusMeters,
			VenueRefreshDistanceMeters: cfg.Presence.VenueRefreshDistanceMeters,
			CommandBuffer:              cfg.Presence.CommandBuffer,
			HistoryLimit:               cfg.Presence.HistoryLimit,
		},
		log,
	)

	// Initialize HTTP server
	httpServer := server.NewServer(cfg.Server, cfg.Presence, server.Dependencies{
		Presence:      hub,
		Venues:        venues,
		VenueWriter:   venues,
		Evaluator:     evaluator,
		Subscriber:    bus,
		Authenticator: handlers.NewAuthenticator(cfg.Auth),
		Metrics:       m.Handler(),
	}, log)

	// Start HTTP server
	go func() {
		log.Infof("Starting HTTP server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	log.Info("Shutdown signal received")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Graceful shutdown
	log.Info("Shutting down services...")

	// Shutdown HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown error")
	}

	// Stop presence engines
	if err := hub.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("Presence hub shutdown error")
	}

	// Flush pending publishes before the deferred close
	if err := natsConn.FlushWithContext(shutdownCtx); err != nil {
		log.WithError(err).Warn("NATS flush error")
	}

	log.Info("Shutdown complete")
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig, log logrus.FieldLogger) (*nats.Conn, error) {
	options := []nats.Option{
		nats.Name("ketchup-presence"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
