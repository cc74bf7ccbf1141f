// internal/adapter/storage/session_store.go

package storage

import (
	"context"
	"fmt"
	"strings"

	"ketchup/internal/domain/checkin"
)

// SessionStore implements checkin.HistoryStore on Postgres
type SessionStore struct {
	db DB
}

// NewSessionStore creates a new session store
func NewSessionStore(db DB) *SessionStore {
	return &SessionStore{
		db: db,
	}
}

// SaveSession upserts a session snapshot
func (s *SessionStore) SaveSession(ctx context.Context, vs checkin.VenueSession) error {
	query := `
		INSERT INTO venue_sessions (
			id, user_id, venue_id, source, status,
			checked_in_at, expires_at, ended_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, now()
		)
		ON CONFLICT (id) DO UPDATE
		SET
			status = $5,
			expires_at = $7,
			ended_at = $8,
			updated_at = now()
	`

	_, err := s.db.Exec(
		ctx,
		query,
		vs.ID,
		vs.UserID,
		vs.VenueID,
		string(vs.Source),
		string(vs.Status),
		vs.CheckedInAt,
		vs.ExpiresAt,
		vs.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("error saving session %s: %w", vs.ID, err)
	}

	return nil
}

// FindSessions returns sessions matching the filter, newest check-in first
func (s *SessionStore) FindSessions(ctx context.Context, filter checkin.HistoryFilter) ([]checkin.VenueSession, error) {
	// Build dynamic query
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
		SELECT id::text, user_id, venue_id, source, status,
		       checked_in_at, expires_at, ended_at
		FROM venue_sessions
		WHERE 1=1
	`)

	args := []interface{}{}
	argIndex := 1

	if filter.UserID != "" {
		queryBuilder.WriteString(fmt.Sprintf(" AND user_id = $%d", argIndex))
		args = append(args, filter.UserID)
		argIndex++
	}

	if filter.VenueID != "" {
		queryBuilder.WriteString(fmt.Sprintf(" AND venue_id = $%d", argIndex))
		args = append(args, filter.VenueID)
		argIndex++
	}

	if len(filter.Statuses) > 0 {
		queryBuilder.WriteString(" AND status IN (")
		for i, status := range filter.Statuses {
			if i > 0 {
				queryBuilder.WriteString(", ")
			}
			queryBuilder.WriteString(fmt.Sprintf("$%d", argIndex))
			args = append(args, string(status))
			argIndex++
		}
		queryBuilder.WriteString(")")
	}

	if !filter.Since.IsZero() {
		queryBuilder.WriteString(fmt.Sprintf(" AND checked_in_at >= $%d", argIndex))
		args = append(args, filter.Since)
		argIndex++
	}

	queryBuilder.WriteString(" ORDER BY checked_in_at DESC")

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d", argIndex))
	args = append(args, limit)
	argIndex++

	if filter.Offset > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" OFFSET $%d", argIndex))
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var sessions []checkin.VenueSession
	for rows.Next() {
		var vs checkin.VenueSession
		var source, status string

		if err := rows.Scan(
			&vs.ID,
			&vs.UserID,
			&vs.VenueID,
			&source,
			&status,
			&vs.CheckedInAt,
			&vs.ExpiresAt,
			&vs.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning session: %w", err)
		}

		vs.Source = checkin.Source(source)
		vs.Status = checkin.Status(status)
		sessions = append(sessions, vs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return sessions, nil
}
