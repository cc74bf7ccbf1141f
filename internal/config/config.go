// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Presence    PresenceConfig
	Venue       VenueConfig
	Auth        AuthConfig
	Log         LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// PresenceConfig holds geofence and check-in session configuration
type PresenceConfig struct {
	RadiusMeters               float64
	DefaultDuration            time.Duration
	MinDwellSamples            int
	AutoCheckIn                bool
	AutoCheckOutOnExit         bool
	MaxAccuracyMeters          float64
	SweepInterval              time.Duration
	TrackingRadiusMeters       float64
	VenueRefreshDistanceMeters float64
	CommandBuffer              int
	EventsTopic                string
	HistoryLimit               int
}

// VenueConfig holds venue directory configuration
type VenueConfig struct {
	CacheTTL        time.Duration
	CleanupInterval time.Duration
}

// AuthConfig holds bearer token configuration
type AuthConfig struct {
	TokenSecret string
	Issuer      string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load loads configuration from environment variables, reading a .env file first if present
func Load() (Config, error) {
	// A missing .env is fine; the process environment is used as-is
	_ = godotenv.Load()

	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "ketchup"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Presence: PresenceConfig{
			RadiusMeters:               getEnvAsFloat("PRESENCE_RADIUS_METERS", 60),
			DefaultDuration:            getEnvAsDuration("PRESENCE_DEFAULT_DURATION", 2*time.Hour),
			MinDwellSamples:            getEnvAsInt("PRESENCE_MIN_DWELL_SAMPLES", 1),
			AutoCheckIn:                getEnvAsBool("PRESENCE_AUTO_CHECK_IN", true),
			AutoCheckOutOnExit:         getEnvAsBool("PRESENCE_AUTO_CHECK_OUT_ON_EXIT", false),
			MaxAccuracyMeters:          getEnvAsFloat("PRESENCE_MAX_ACCURACY_METERS", 0),
			SweepInterval:              getEnvAsDuration("PRESENCE_SWEEP_INTERVAL", 30*time.Second),
			TrackingRadiusMeters:       getEnvAsFloat("PRESENCE_TRACKING_RADIUS_METERS", 2000),
			VenueRefreshDistanceMeters: getEnvAsFloat("PRESENCE_VENUE_REFRESH_DISTANCE_METERS", 500),
			CommandBuffer:              getEnvAsInt("PRESENCE_COMMAND_BUFFER", 64),
			EventsTopic:                getEnv("PRESENCE_EVENTS_TOPIC", "presence"),
			HistoryLimit:               getEnvAsInt("PRESENCE_HISTORY_LIMIT", 50),
		},
		Venue: VenueConfig{
			CacheTTL:        getEnvAsDuration("VENUE_CACHE_TTL", 5*time.Minute),
			CleanupInterval: getEnvAsDuration("VENUE_CACHE_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Auth: AuthConfig{
			TokenSecret: getEnv("AUTH_TOKEN_SECRET", "your-secret-key"),
			Issuer:      getEnv("AUTH_TOKEN_ISSUER", ""),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "text"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 10),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 7),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 7),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	if config.Auth.TokenSecret == "your-secret-key" && config.Environment != "development" {
		return fmt.Errorf("token secret must be set in non-development environments")
	}

	p := config.Presence
	if p.RadiusMeters <= 0 {
		return fmt.Errorf("presence radius must be positive, got %v", p.RadiusMeters)
	}
	if p.DefaultDuration <= 0 {
		return fmt.Errorf("presence default duration must be positive, got %s", p.DefaultDuration)
	}
	if p.MinDwellSamples < 1 {
		return fmt.Errorf("presence min dwell samples must be at least 1, got %d", p.MinDwellSamples)
	}
	if p.MaxAccuracyMeters < 0 {
		return fmt.Errorf("presence max accuracy must not be negative, got %v", p.MaxAccuracyMeters)
	}
	if p.SweepInterval <= 0 {
		return fmt.Errorf("presence sweep interval must be positive, got %s", p.SweepInterval)
	}

	return nil
}

// DSN builds the Postgres connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
