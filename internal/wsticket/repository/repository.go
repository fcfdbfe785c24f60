package repository

import (
	"context"
	"time"

	"live-game-backend/internal/wsticket/domain"
)

// Repository defines persistence for websocket connection tickets.
type Repository interface {
	Create(ctx context.Context, t *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// Consume marks the ticket consumed; reports false when it was already
	// consumed by a concurrent connect.
	Consume(ctx context.Context, id string, at time.Time) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
