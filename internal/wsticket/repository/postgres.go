package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"live-game-backend/internal/wsticket/domain"
)

// DBTX is the query surface shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository returns a ticket repository that uses the given db for persistence.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *PostgresRepository) WithTx(tx *sql.Tx) *PostgresRepository {
	return &PostgresRepository{db: tx}
}

func (r *PostgresRepository) Create(ctx context.Context, t *domain.Ticket) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ws_connection_tickets (id, user_id, session_id, secret_hash, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.UserID, t.SessionID, t.SecretHash, t.ExpiresAt)
	return err
}

// GetByID returns the ticket, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	var (
		t          domain.Ticket
		consumedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, session_id, secret_hash, expires_at, consumed_at, created_at
		 FROM ws_connection_tickets WHERE id = $1`, id,
	).Scan(&t.ID, &t.UserID, &t.SessionID, &t.SecretHash, &t.ExpiresAt, &consumedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if consumedAt.Valid {
		t.ConsumedAt = &consumedAt.Time
	}
	return &t, nil
}

// Consume marks the ticket consumed. The WHERE clause makes the operation
// atomic: of two racing connects, only one sees a row updated.
func (r *PostgresRepository) Consume(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE ws_connection_tickets SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL",
		id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM ws_connection_tickets WHERE expires_at < $1", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
