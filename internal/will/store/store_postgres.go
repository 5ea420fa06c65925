package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"willvault/internal/will/models"
	id "willvault/pkg/domain"
	"willvault/pkg/platform/sentinel"
	txcontext "willvault/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists wills as JSONB documents. The participants column
// mirrors the owner and beneficiary addresses for listing.
type PostgresStore struct {
	db *sql.DB
	tx *txcontext.SQLRunner
}

// NewPostgres constructs a PostgreSQL-backed will store. timeout bounds each
// Execute transaction.
func NewPostgres(db *sql.DB, timeout time.Duration) *PostgresStore {
	return &PostgresStore{
		db: db,
		tx: txcontext.NewSQLRunner(db, timeout),
	}
}

func (s *PostgresStore) Create(ctx context.Context, will *models.Will) error {
	doc, err := json.Marshal(will)
	if err != nil {
		return fmt.Errorf("marshal will: %w", err)
	}
	query := `
		INSERT INTO wills (id, owner, status, participants, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = txcontext.Pick(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(will.ID),
		will.Owner.String(),
		string(will.Status),
		pq.Array(participantStrings(will)),
		doc,
		will.CreatedAt,
		will.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert will: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, willID id.WillID) (*models.Will, error) {
	row := txcontext.Pick(ctx, s.db).QueryRowContext(ctx, `SELECT document FROM wills WHERE id = $1`, uuid.UUID(willID))
	return scanWill(row)
}

func (s *PostgresStore) ListByParticipant(ctx context.Context, addr id.Address) ([]*models.Will, error) {
	query := `
		SELECT document FROM wills
		WHERE participants @> $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := txcontext.Pick(ctx, s.db).QueryContext(ctx, query, pq.Array([]string{addr.String()}))
	if err != nil {
		return nil, fmt.Errorf("list wills by participant: %w", err)
	}
	defer rows.Close()

	wills := make([]*models.Will, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan will: %w", err)
		}
		will, err := decodeWill(doc)
		if err != nil {
			return nil, err
		}
		wills = append(wills, will)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wills: %w", err)
	}
	return wills, nil
}

// Execute locks the will row with SELECT ... FOR UPDATE, runs fn and writes
// the result back in the same transaction. The transaction is carried in the
// context handed to fn so audit appends made inside it commit atomically.
func (s *PostgresStore) Execute(ctx context.Context, willID id.WillID, fn func(ctx context.Context, will *models.Will) error) (*models.Will, error) {
	var result *models.Will
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		exec := txcontext.Pick(txCtx, s.db)
		row := exec.QueryRowContext(txCtx, `SELECT document FROM wills WHERE id = $1 FOR UPDATE`, uuid.UUID(willID))
		will, err := scanWill(row)
		if err != nil {
			return err
		}
		if err := fn(txCtx, will); err != nil {
			return err
		}

		doc, err := json.Marshal(will)
		if err != nil {
			return fmt.Errorf("marshal will: %w", err)
		}
		query := `
			UPDATE wills
			SET status = $2, participants = $3, document = $4, updated_at = $5
			WHERE id = $1
		`
		if _, err := exec.ExecContext(txCtx, query,
			uuid.UUID(willID),
			string(will.Status),
			pq.Array(participantStrings(will)),
			doc,
			will.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update will: %w", err)
		}
		result = will
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func scanWill(row *sql.Row) (*models.Will, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find will: %w", err)
	}
	return decodeWill(doc)
}

func decodeWill(doc []byte) (*models.Will, error) {
	var will models.Will
	if err := json.Unmarshal(doc, &will); err != nil {
		return nil, fmt.Errorf("unmarshal will: %w", err)
	}
	return &will, nil
}

func participantStrings(will *models.Will) []string {
	addrs := will.Participants()
	out := make([]string, len(addrs))
	for i, addr := range addrs {
		out[i] = addr.String()
	}
	return out
}

// isUniqueViolation recognizes duplicate keys from either the pgx or the
// lib/pq driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}
