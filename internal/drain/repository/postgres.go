package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"live-game-backend/internal/drain/domain"
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

// NewPostgresRepository returns a drain repository that uses the given db for persistence.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *PostgresRepository) WithTx(tx *sql.Tx) *PostgresRepository {
	return &PostgresRepository{db: tx}
}

// CountActive returns the number of events currently in draining status.
func (r *PostgresRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM publish_drain_events WHERE status = $1", domain.StatusDraining,
	).Scan(&n)
	return n, err
}

// CreateEvent inserts the event and returns its generated id. StartedAt is
// assigned by the database.
func (r *PostgresRepository) CreateEvent(ctx context.Context, e *domain.Event) (int64, error) {
	var contentVersionID sql.NullInt64
	if e.ContentVersionID != nil {
		contentVersionID = sql.NullInt64{Int64: *e.ContentVersionID, Valid: true}
	}
	var buildVersion sql.NullString
	if e.BuildVersion != nil && *e.BuildVersion != "" {
		buildVersion = sql.NullString{String: *e.BuildVersion, Valid: true}
	}
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO publish_drain_events (trigger_type, reason_code, initiated_by,
			content_version_id, content_version_key, build_version, grace_seconds,
			deadline_at, status, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		e.TriggerType, e.ReasonCode, e.InitiatedBy,
		contentVersionID, e.ContentVersionKey, buildVersion, e.GraceSeconds,
		e.DeadlineAt, e.Status, e.Notes,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

const eventColumns = `id, trigger_type, reason_code, initiated_by, content_version_id,
	content_version_key, build_version, grace_seconds, started_at, deadline_at, cutoff_at,
	status, notes, sessions_targeted, sessions_persisted, sessions_persist_failed, sessions_revoked`

// GetEvent returns the event for id, or nil if not found.
func (r *PostgresRepository) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM publish_drain_events WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanEvent(rows)
	if err != nil {
		return nil, err
	}
	return e, rows.Err()
}

// ListRecent returns events newest-first. limit is clamped to 1..200.
func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Event, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	return r.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM publish_drain_events ORDER BY id DESC LIMIT $1", limit)
}

// ListDue returns draining events whose deadline has already passed, oldest deadline first.
func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time) ([]*domain.Event, error) {
	return r.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM publish_drain_events
		 WHERE status = $1 AND deadline_at <= $2
		 ORDER BY deadline_at, id`, domain.StatusDraining, now)
}

// UpdateStartCounters records the targeting outcome captured during drain start.
func (r *PostgresRepository) UpdateStartCounters(ctx context.Context, id int64, targeted, persisted, persistFailed int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE publish_drain_events
		 SET sessions_targeted = $2, sessions_persisted = $3, sessions_persist_failed = $4
		 WHERE id = $1`, id, targeted, persisted, persistFailed)
	return err
}

// CompleteEvent moves the event to completed status, records the cutoff, and
// adds revokedDelta to the revoked counter.
func (r *PostgresRepository) CompleteEvent(ctx context.Context, id int64, cutoff time.Time, revokedDelta int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE publish_drain_events
		 SET status = $2, cutoff_at = $3, sessions_revoked = sessions_revoked + $4
		 WHERE id = $1`, id, domain.StatusCompleted, cutoff, revokedDelta)
	return err
}

// IncrementRevoked adds delta to the event's revoked counter without touching status.
func (r *PostgresRepository) IncrementRevoked(ctx context.Context, id int64, delta int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE publish_drain_events SET sessions_revoked = sessions_revoked + $2 WHERE id = $1", id, delta)
	return err
}

// CreateSessionAudit inserts one per-session audit row.
func (r *PostgresRepository) CreateSessionAudit(ctx context.Context, a *domain.SessionAudit) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO publish_drain_session_audit
			(event_id, session_id, user_id, persisted_ok, despawned_ok, revoked_ok, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.EventID, a.SessionID, a.UserID, a.PersistedOK, a.DespawnedOK, a.RevokedOK, a.Detail)
	return err
}

// MarkAuditRevoked flips the audit row for (event, session) to revoked_ok.
func (r *PostgresRepository) MarkAuditRevoked(ctx context.Context, eventID int64, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE publish_drain_session_audit SET revoked_ok = TRUE WHERE event_id = $1 AND session_id = $2",
		eventID, sessionID)
	return err
}

// ListAuditsByEvent returns the audit rows for one event in insertion order.
func (r *PostgresRepository) ListAuditsByEvent(ctx context.Context, eventID int64) ([]*domain.SessionAudit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, session_id, user_id, persisted_ok, despawned_ok, revoked_ok, detail, created_at
		 FROM publish_drain_session_audit WHERE event_id = $1 ORDER BY id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.SessionAudit
	for rows.Next() {
		var a domain.SessionAudit
		if err := rows.Scan(&a.ID, &a.EventID, &a.SessionID, &a.UserID,
			&a.PersistedOK, &a.DespawnedOK, &a.RevokedOK, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// AggregateMetrics returns the operator-facing drain counters.
func (r *PostgresRepository) AggregateMetrics(ctx context.Context) (*Metrics, error) {
	var m Metrics
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = $1),
			COALESCE(SUM(sessions_persist_failed), 0),
			COALESCE(SUM(sessions_revoked), 0)
		 FROM publish_drain_events`, domain.StatusDraining,
	).Scan(&m.EventsTotal, &m.EventsActive, &m.PersistFailedTotal, &m.SessionsRevokedTotal)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *PostgresRepository) queryEvents(ctx context.Context, query string, args ...any) ([]*domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var (
		e                domain.Event
		contentVersionID sql.NullInt64
		buildVersion     sql.NullString
		cutoffAt         sql.NullTime
	)
	err := row.Scan(&e.ID, &e.TriggerType, &e.ReasonCode, &e.InitiatedBy, &contentVersionID,
		&e.ContentVersionKey, &buildVersion, &e.GraceSeconds, &e.StartedAt, &e.DeadlineAt, &cutoffAt,
		&e.Status, &e.Notes, &e.SessionsTargeted, &e.SessionsPersisted, &e.SessionsPersistFailed, &e.SessionsRevoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if contentVersionID.Valid {
		e.ContentVersionID = &contentVersionID.Int64
	}
	if buildVersion.Valid {
		e.BuildVersion = &buildVersion.String
	}
	if cutoffAt.Valid {
		e.CutoffAt = &cutoffAt.Time
	}
	return &e, nil
}
