package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "willvault/pkg/domain"
	audit "willvault/pkg/platform/audit"
	txcontext "willvault/pkg/platform/tx"
)

// Store implements audit.Store on the audit_events table. When a transaction
// is carried in the context, Append joins it so the event commits together
// with the will mutation that produced it.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts an audit event. Idempotent on event ID.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	query := `
		INSERT INTO audit_events (
			id, category, timestamp, will_id, actor_id, subject, action,
			asset_id, amount, share, request_id, client_ip, user_agent
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, query,
		event.ID,
		string(event.Category),
		event.Timestamp,
		uuid.UUID(event.WillID),
		string(event.ActorID),
		event.Subject,
		event.Action,
		event.AssetID,
		int64(event.Amount),
		int16(event.Share),
		event.RequestID,
		event.ClientIP,
		event.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, category, timestamp, will_id, actor_id, subject, action,
		   asset_id, amount, share, request_id, client_ip, user_agent
	FROM audit_events
`

// ListByWill returns a will's events oldest first.
func (s *Store) ListByWill(ctx context.Context, willID id.WillID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE will_id = $1
		ORDER BY timestamp ASC, id ASC
	`, uuid.UUID(willID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		ORDER BY timestamp DESC
		LIMIT $1
	`, limit)
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
			willID   uuid.UUID
			actorID  string
			amount   int64
			share    int16
		)

		err := rows.Scan(
			&event.ID,
			&category,
			&event.Timestamp,
			&willID,
			&actorID,
			&event.Subject,
			&event.Action,
			&event.AssetID,
			&amount,
			&share,
			&event.RequestID,
			&event.ClientIP,
			&event.UserAgent,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.Category = audit.EventCategory(category)
		event.WillID = id.WillID(willID)
		event.ActorID = id.Address(actorID)
		event.Amount = uint64(amount)
		event.Share = uint8(share)

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}
