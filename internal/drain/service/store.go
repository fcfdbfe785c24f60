package service

import (
	"context"
	"database/sql"
	"time"

	"live-game-backend/internal/character/repository"
	"live-game-backend/internal/drain/domain"
	drainrepo "live-game-backend/internal/drain/repository"
	sessiondomain "live-game-backend/internal/session/domain"
	sessionrepo "live-game-backend/internal/session/repository"
)

// EventStore is the slice of the drain repository the orchestrator uses.
type EventStore interface {
	CountActive(ctx context.Context) (int, error)
	CreateEvent(ctx context.Context, e *domain.Event) (int64, error)
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
	ListDue(ctx context.Context, now time.Time) ([]*domain.Event, error)
	UpdateStartCounters(ctx context.Context, id int64, targeted, persisted, persistFailed int) error
	CompleteEvent(ctx context.Context, id int64, cutoff time.Time, revokedDelta int) error
	IncrementRevoked(ctx context.Context, id int64, delta int) error
	CreateSessionAudit(ctx context.Context, a *domain.SessionAudit) error
	MarkAuditRevoked(ctx context.Context, eventID int64, sessionID string) error
}

// SessionStore is the slice of the session repository the orchestrator uses.
type SessionStore interface {
	ListActiveNonAdmin(ctx context.Context, now time.Time) ([]*sessiondomain.Session, error)
	TagForDrain(ctx context.Context, id string, eventID int64, deadline time.Time, reasonCode string) error
	RevokeDrainTargets(ctx context.Context, eventID int64, cutoff time.Time) ([]string, error)
	CompleteDrainForSession(ctx context.Context, id string, at time.Time) (bool, error)
}

// CharacterStore flushes player presence during a drain start.
type CharacterStore interface {
	ClearSelectedByUser(ctx context.Context, userID int64) (int64, error)
}

// Tx is one unit of work over the three stores. Rollback after Commit is a no-op,
// so callers can defer Rollback unconditionally.
type Tx interface {
	Events() EventStore
	Sessions() SessionStore
	Characters() CharacterStore
	Commit() error
	Rollback() error
}

// Store opens transactions and serves non-transactional reads.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Events() EventStore
}

// SQLStore implements Store on *sql.DB with the Postgres repositories.
type SQLStore struct {
	db         *sql.DB
	events     *drainrepo.PostgresRepository
	sessions   *sessionrepo.PostgresRepository
	characters *repository.PostgresRepository
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{
		db:         db,
		events:     drainrepo.NewPostgresRepository(db),
		sessions:   sessionrepo.NewPostgresRepository(db),
		characters: repository.NewPostgresRepository(db),
	}
}

func (s *SQLStore) Events() EventStore { return s.events }

func (s *SQLStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{
		tx:         tx,
		events:     s.events.WithTx(tx),
		sessions:   s.sessions.WithTx(tx),
		characters: txCharacters{tx: tx, repo: s.characters.WithTx(tx)},
	}, nil
}

type sqlTx struct {
	tx         *sql.Tx
	events     *drainrepo.PostgresRepository
	sessions   *sessionrepo.PostgresRepository
	characters txCharacters
}

func (t *sqlTx) Events() EventStore         { return t.events }
func (t *sqlTx) Sessions() SessionStore     { return t.sessions }
func (t *sqlTx) Characters() CharacterStore { return t.characters }
func (t *sqlTx) Commit() error              { return t.tx.Commit() }

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}

type txCharacters struct {
	tx   *sql.Tx
	repo *repository.PostgresRepository
}

// ClearSelectedByUser wraps the flush in a savepoint: in Postgres a failed
// statement poisons the transaction, and a flush failure must not abort the
// surrounding drain start.
func (c txCharacters) ClearSelectedByUser(ctx context.Context, userID int64) (int64, error) {
	if _, err := c.tx.ExecContext(ctx, "SAVEPOINT presence_flush"); err != nil {
		return 0, err
	}
	n, err := c.repo.ClearSelectedByUser(ctx, userID)
	if err != nil {
		if _, rbErr := c.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT presence_flush"); rbErr != nil {
			return 0, rbErr
		}
		return 0, err
	}
	if _, err := c.tx.ExecContext(ctx, "RELEASE SAVEPOINT presence_flush"); err != nil {
		return 0, err
	}
	return n, nil
}
