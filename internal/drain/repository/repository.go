package repository

import (
	"context"
	"time"

	"live-game-backend/internal/drain/domain"
)

// Repository defines persistence for drain events and their per-session audits.
type Repository interface {
	CountActive(ctx context.Context) (int, error)
	CreateEvent(ctx context.Context, e *domain.Event) (int64, error)
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.Event, error)
	ListDue(ctx context.Context, now time.Time) ([]*domain.Event, error)
	UpdateStartCounters(ctx context.Context, id int64, targeted, persisted, persistFailed int) error
	CompleteEvent(ctx context.Context, id int64, cutoff time.Time, revokedDelta int) error
	IncrementRevoked(ctx context.Context, id int64, delta int) error
	CreateSessionAudit(ctx context.Context, a *domain.SessionAudit) error
	MarkAuditRevoked(ctx context.Context, eventID int64, sessionID string) error
	ListAuditsByEvent(ctx context.Context, eventID int64) ([]*domain.SessionAudit, error)
}

// Metrics are the aggregate drain counters exposed to operators.
type Metrics struct {
	EventsTotal          int
	EventsActive         int
	PersistFailedTotal   int
	SessionsRevokedTotal int
}
