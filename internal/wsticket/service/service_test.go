package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"live-game-backend/internal/wsticket/domain"
)

type fakeRepo struct {
	tickets map[string]*domain.Ticket
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{tickets: map[string]*domain.Ticket{}}
}

func (r *fakeRepo) Create(_ context.Context, t *domain.Ticket) error {
	cp := *t
	r.tickets[t.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	t, ok := r.tickets[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *fakeRepo) Consume(_ context.Context, id string, at time.Time) (bool, error) {
	t, ok := r.tickets[id]
	if !ok || t.ConsumedAt != nil {
		return false, nil
	}
	t.ConsumedAt = &at
	return true, nil
}

func (r *fakeRepo) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, t := range r.tickets {
		if t.ExpiresAt.Before(now) {
			delete(r.tickets, id)
			n++
		}
	}
	return n, nil
}

func TestIssueAndConsume(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, 45*time.Second)

	raw, expiresAt, err := svc.Issue(context.Background(), 7, "sess-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !strings.Contains(raw, ".") {
		t.Fatalf("ticket %q not in id.secret form", raw)
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("expiresAt %v not in the future", expiresAt)
	}

	ticket, err := svc.Consume(context.Background(), raw)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if ticket.UserID != 7 || ticket.SessionID != "sess-1" {
		t.Errorf("ticket identity = %d/%q, want 7/sess-1", ticket.UserID, ticket.SessionID)
	}

	// The stored hash never matches the raw secret.
	_, secret, _ := strings.Cut(raw, ".")
	if repo.tickets[ticket.ID].SecretHash == secret {
		t.Error("secret stored in the clear")
	}
}

func TestConsumeOnce(t *testing.T) {
	svc := NewService(newFakeRepo(), 45*time.Second)
	raw, _, err := svc.Issue(context.Background(), 1, "s")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := svc.Consume(context.Background(), raw); err != nil {
		t.Fatalf("first Consume() error = %v", err)
	}
	if _, err := svc.Consume(context.Background(), raw); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("second Consume() error = %v, want ErrInvalidTicket", err)
	}
}

func TestConsumeRejections(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, 45*time.Second)
	raw, _, err := svc.Issue(context.Background(), 1, "s")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	id, _, _ := strings.Cut(raw, ".")

	cases := []struct {
		name string
		raw  string
	}{
		{"malformed", "no-separator"},
		{"empty secret", id + "."},
		{"unknown id", "missing.secret"},
		{"wrong secret", id + ".deadbeef"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Consume(context.Background(), tc.raw); !errors.Is(err, ErrInvalidTicket) {
				t.Errorf("Consume(%q) error = %v, want ErrInvalidTicket", tc.raw, err)
			}
		})
	}
}

func TestConsumeExpired(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, 45*time.Second)
	raw, _, err := svc.Issue(context.Background(), 1, "s")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	svc.now = func() time.Time { return time.Now().Add(time.Minute) }
	if _, err := svc.Consume(context.Background(), raw); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("Consume(expired) error = %v, want ErrInvalidTicket", err)
	}

	n, err := svc.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeExpired() = %d, want 1", n)
	}
}

func TestTTLFloor(t *testing.T) {
	svc := NewService(newFakeRepo(), time.Second)
	if svc.ttl != minTTL {
		t.Errorf("ttl = %v, want clamped to %v", svc.ttl, minTTL)
	}
}
