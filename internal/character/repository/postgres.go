package repository

import (
	"context"
	"database/sql"
	"errors"
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

// NewPostgresRepository returns a character repository that uses the given db for persistence.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *PostgresRepository) WithTx(tx *sql.Tx) *PostgresRepository {
	return &PostgresRepository{db: tx}
}

// ClearSelectedByUser clears the is_selected marker on all of the user's characters.
func (r *PostgresRepository) ClearSelectedByUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE characters SET is_selected = FALSE WHERE user_id = $1 AND is_selected", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SelectedZoneByUser returns the zone of the user's selected character, or nil when
// the user has no selected character or it has no zone.
func (r *PostgresRepository) SelectedZoneByUser(ctx context.Context, userID int64) (*int64, error) {
	var zone sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		"SELECT zone_level_id FROM characters WHERE user_id = $1 AND is_selected LIMIT 1", userID,
	).Scan(&zone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !zone.Valid {
		return nil, nil
	}
	return &zone.Int64, nil
}
