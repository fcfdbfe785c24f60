package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"live-game-backend/internal/session/domain"
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

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *PostgresRepository) WithTx(tx *sql.Tx) *PostgresRepository {
	return &PostgresRepository{db: tx}
}

const sessionColumns = `id, user_id, refresh_token_hash, client_version, client_content_version_key,
	created_at, expires_at, last_seen_at, revoked_at,
	drain_state, drain_event_id, drain_deadline_at, drain_reason_code`

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+sessionColumns+" FROM user_sessions WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	s, err := scanSession(rows)
	if err != nil {
		return nil, err
	}
	return s, rows.Err()
}

// Create persists the session to the database. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	drainState := s.DrainState
	if drainState == "" {
		drainState = domain.DrainStateActive
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_sessions (id, user_id, refresh_token_hash, client_version,
			client_content_version_key, expires_at, last_seen_at, drain_state)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), $7)`,
		s.ID, s.UserID, s.RefreshTokenHash, s.ClientVersion, s.ClientContentVersionKey,
		s.ExpiresAt, drainState,
	)
	return err
}

// Revoke marks the session with the given id as revoked at the given time.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE user_sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL", id, at)
	return err
}

// UpdateLastSeen sets the session's last-seen timestamp for the given id.
func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE user_sessions SET last_seen_at = $2 WHERE id = $1", id, at)
	return err
}

// UpdateRefreshToken sets the session's current refresh token hash for rotation.
func (r *PostgresRepository) UpdateRefreshToken(ctx context.Context, id, refreshTokenHash string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE user_sessions SET refresh_token_hash = $2 WHERE id = $1", id, refreshTokenHash)
	return err
}

// ListActiveNonAdmin returns every unrevoked, unexpired session whose owner is not
// an administrator. These are the sessions a publish drain targets.
func (r *PostgresRepository) ListActiveNonAdmin(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.user_id, s.refresh_token_hash, s.client_version, s.client_content_version_key,
			s.created_at, s.expires_at, s.last_seen_at, s.revoked_at,
			s.drain_state, s.drain_event_id, s.drain_deadline_at, s.drain_reason_code
		 FROM user_sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE NOT u.is_admin AND s.revoked_at IS NULL AND s.expires_at > $1
		 ORDER BY s.created_at, s.id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TagForDrain marks one session as draining under the given event.
func (r *PostgresRepository) TagForDrain(ctx context.Context, id string, eventID int64, deadline time.Time, reasonCode string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_sessions
		 SET drain_state = $2, drain_event_id = $3, drain_deadline_at = $4, drain_reason_code = $5
		 WHERE id = $1`,
		id, domain.DrainStateDraining, eventID, deadline, reasonCode)
	return err
}

// RevokeDrainTargets revokes every still-active non-admin session tagged to the
// event, completing its drain state, and returns the ids of the sessions revoked.
func (r *PostgresRepository) RevokeDrainTargets(ctx context.Context, eventID int64, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE user_sessions s
		 SET revoked_at = $2, drain_state = $3
		 FROM users u
		 WHERE u.id = s.user_id AND NOT u.is_admin
		   AND s.drain_event_id = $1 AND s.revoked_at IS NULL
		 RETURNING s.id`,
		eventID, cutoff, domain.DrainStateCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CompleteDrainForSession revokes a single draining session and completes its
// drain state. Reports whether the session was newly revoked (false when a
// concurrent finalize already revoked it).
func (r *PostgresRepository) CompleteDrainForSession(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_sessions SET revoked_at = $2, drain_state = $3
		 WHERE id = $1 AND revoked_at IS NULL`,
		id, at, domain.DrainStateCompleted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Already revoked elsewhere; still converge the drain state.
		_, err := r.db.ExecContext(ctx,
			"UPDATE user_sessions SET drain_state = $2 WHERE id = $1", id, domain.DrainStateCompleted)
		return false, err
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s             domain.Session
		revokedAt     sql.NullTime
		drainEventID  sql.NullInt64
		drainDeadline sql.NullTime
		drainReason   sql.NullString
	)
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshTokenHash, &s.ClientVersion, &s.ClientContentVersionKey,
		&s.CreatedAt, &s.ExpiresAt, &s.LastSeenAt, &revokedAt,
		&s.DrainState, &drainEventID, &drainDeadline, &drainReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if revokedAt.Valid {
		s.RevokedAt = &revokedAt.Time
	}
	if drainEventID.Valid {
		s.DrainEventID = &drainEventID.Int64
	}
	if drainDeadline.Valid {
		s.DrainDeadlineAt = &drainDeadline.Time
	}
	if drainReason.Valid {
		s.DrainReasonCode = &drainReason.String
	}
	return &s, nil
}
