package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"authgate/internal/platform/database"
	"authgate/pkg/platform/audit"
)

// Store writes audit events to the audit_events table. Appends join the
// caller's transaction when one is in the context.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const eventColumns = `id, category, action, user_id, subject, reason, ip, device, request_id, occurred_at`

// Append is idempotent on the event id.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	var userID sql.NullInt64
	if event.UserID != 0 {
		userID = sql.NullInt64{Int64: event.UserID, Valid: true}
	}
	_, err := database.Conn(ctx, s.db).ExecContext(ctx, query,
		event.ID,
		string(event.Category),
		string(event.Action),
		userID,
		event.Subject,
		event.Reason,
		event.IP,
		event.Device,
		event.RequestID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID int64) ([]audit.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM audit_events WHERE user_id = $1 ORDER BY occurred_at DESC`
	rows, err := database.Conn(ctx, s.db).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM audit_events ORDER BY occurred_at DESC LIMIT $1`
	rows, err := database.Conn(ctx, s.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			category string
			action   string
			userID   sql.NullInt64
		)
		err := rows.Scan(
			&event.ID,
			&category,
			&action,
			&userID,
			&event.Subject,
			&event.Reason,
			&event.IP,
			&event.Device,
			&event.RequestID,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.Action = audit.Action(action)
		event.UserID = userID.Int64
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
