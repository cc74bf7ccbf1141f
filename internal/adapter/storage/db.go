// internal/adapter/storage/db.go

package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
)

// DB is the subset of *pgxpool.Pool the stores use
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const schema = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS venues (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	location      GEOGRAPHY(POINT, 4326) NOT NULL,
	radius_meters DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS venues_location_idx ON venues USING GIST (location);

CREATE TABLE IF NOT EXISTS venue_sessions (
	id            UUID PRIMARY KEY,
	user_id       TEXT NOT NULL,
	venue_id      TEXT NOT NULL,
	source        TEXT NOT NULL,
	status        TEXT NOT NULL,
	checked_in_at TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (expires_at > checked_in_at)
);

CREATE INDEX IF NOT EXISTS venue_sessions_user_idx ON venue_sessions (user_id, checked_in_at DESC);
`

// EnsureSchema creates the tables the stores need if they do not exist
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("error creating schema: %w", err)
	}
	return nil
}
