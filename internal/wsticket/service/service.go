// Package service issues and consumes one-time websocket connection tickets.
// Browsers cannot set an Authorization header on websocket upgrades, so the
// client trades its access token for a short-lived ticket and presents that
// on the upgrade URL instead.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"live-game-backend/internal/security"
	"live-game-backend/internal/wsticket/domain"
	"live-game-backend/internal/wsticket/repository"
)

// ErrInvalidTicket covers every rejection: unknown, expired, already consumed,
// or bad secret. Callers get no more detail than the client should see.
var ErrInvalidTicket = errors.New("invalid or expired ticket")

const minTTL = 10 * time.Second

type Service struct {
	repo repository.Repository
	ttl  time.Duration
	now  func() time.Time
}

func NewService(repo repository.Repository, ttl time.Duration) *Service {
	if ttl < minTTL {
		ttl = minTTL
	}
	return &Service{repo: repo, ttl: ttl, now: time.Now}
}

// Issue creates a ticket for the session and returns the client-facing value
// "id.secret". The secret is stored hashed.
func (s *Service) Issue(ctx context.Context, userID int64, sessionID string) (string, time.Time, error) {
	secret := security.NewOpaqueToken()
	expiresAt := s.now().UTC().Add(s.ttl)
	t := &domain.Ticket{
		ID:         uuid.NewString(),
		UserID:     userID,
		SessionID:  sessionID,
		SecretHash: security.HashToken(secret),
		ExpiresAt:  expiresAt,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return "", time.Time{}, fmt.Errorf("create ticket: %w", err)
	}
	return t.ID + "." + secret, expiresAt, nil
}

// Consume validates and burns the ticket. Exactly one Consume per ticket can
// succeed, even under concurrent connects.
func (s *Service) Consume(ctx context.Context, raw string) (*domain.Ticket, error) {
	id, secret, ok := strings.Cut(raw, ".")
	if !ok || id == "" || secret == "" {
		return nil, ErrInvalidTicket
	}
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	if t == nil || t.ConsumedAt != nil {
		return nil, ErrInvalidTicket
	}
	now := s.now().UTC()
	if now.After(t.ExpiresAt) {
		return nil, ErrInvalidTicket
	}
	if !security.TokenHashEqual(secret, t.SecretHash) {
		return nil, ErrInvalidTicket
	}
	consumed, err := s.repo.Consume(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("consume ticket: %w", err)
	}
	if !consumed {
		return nil, ErrInvalidTicket
	}
	return t, nil
}

// PurgeExpired deletes tickets past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.PurgeExpired(ctx, s.now().UTC())
}
