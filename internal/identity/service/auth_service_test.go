package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"live-game-backend/internal/security"
	sessiondomain "live-game-backend/internal/session/domain"
	userdomain "live-game-backend/internal/user/domain"
)

type fakeUsers struct {
	byEmail map[string]*userdomain.User
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*userdomain.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*userdomain.User, error) {
	return f.byEmail[email], nil
}

func (f *fakeUsers) Create(_ context.Context, u *userdomain.User) (int64, error) {
	f.byEmail[u.Email] = u
	return u.ID, nil
}

type fakeSessions struct {
	byID map[string]*sessiondomain.Session
}

func (f *fakeSessions) GetByID(_ context.Context, id string) (*sessiondomain.Session, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) Create(_ context.Context, s *sessiondomain.Session) error {
	cp := *s
	f.byID[s.ID] = &cp
	return nil
}

func (f *fakeSessions) Revoke(_ context.Context, id string, at time.Time) error {
	if s, ok := f.byID[id]; ok && s.RevokedAt == nil {
		s.RevokedAt = &at
	}
	return nil
}

func (f *fakeSessions) UpdateLastSeen(_ context.Context, id string, at time.Time) error {
	if s, ok := f.byID[id]; ok {
		s.LastSeenAt = at
	}
	return nil
}

func (f *fakeSessions) UpdateRefreshToken(_ context.Context, id, hash string) error {
	if s, ok := f.byID[id]; ok {
		s.RefreshTokenHash = hash
	}
	return nil
}

func newTestService(t *testing.T) (*AuthService, *fakeUsers, *fakeSessions) {
	t.Helper()
	hasher := security.NewHasher(4) // minimal cost for tests
	tokens, err := security.NewTokenProvider("test-secret", "live-game-backend", "game-client")
	if err != nil {
		t.Fatalf("NewTokenProvider() error = %v", err)
	}
	hash, err := hasher.Hash([]byte("correct horse"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	users := &fakeUsers{byEmail: map[string]*userdomain.User{
		"player@example.com": {ID: 7, Email: "player@example.com", PasswordHash: hash},
	}}
	sessions := &fakeSessions{byID: map[string]*sessiondomain.Session{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewAuthService(users, sessions, hasher, tokens, 15*time.Minute, 24*time.Hour, logger)
	return svc, users, sessions
}

func TestLoginCreatesSessionWithClientVersions(t *testing.T) {
	svc, _, sessions := newTestService(t)

	res, err := svc.Login(context.Background(), LoginInput{
		Email:                   "player@example.com",
		Password:                "correct horse",
		ClientVersion:           "1.3.0",
		ClientContentVersionKey: "2025.12",
	})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("tokens missing from login result")
	}
	sess := sessions.byID[res.SessionID]
	if sess == nil {
		t.Fatal("session not persisted")
	}
	if sess.ClientVersion != "1.3.0" || sess.ClientContentVersionKey != "2025.12" {
		t.Errorf("client versions = %q/%q, want 1.3.0/2025.12", sess.ClientVersion, sess.ClientContentVersionKey)
	}
	if sess.DrainState != sessiondomain.DrainStateActive {
		t.Errorf("drain state = %q, want active", sess.DrainState)
	}
	if sess.RefreshTokenHash == res.RefreshToken {
		t.Error("refresh token stored in the clear")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Login(context.Background(), LoginInput{Email: "player@example.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(context.Background(), LoginInput{Email: "nobody@example.com", Password: "correct horse"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email error = %v, want ErrInvalidCredentials", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _, sessions := newTestService(t)
	res, err := svc.Login(context.Background(), LoginInput{Email: "player@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	refreshed, err := svc.Refresh(context.Background(), res.SessionID, res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.RefreshToken == res.RefreshToken {
		t.Error("refresh token not rotated")
	}

	// The old token is dead after rotation.
	if _, err := svc.Refresh(context.Background(), res.SessionID, res.RefreshToken); !errors.Is(err, ErrInvalidRefresh) {
		t.Errorf("stale token error = %v, want ErrInvalidRefresh", err)
	}
	// The new one works.
	if _, err := svc.Refresh(context.Background(), res.SessionID, refreshed.RefreshToken); err != nil {
		t.Errorf("rotated token Refresh() error = %v", err)
	}
	if sessions.byID[res.SessionID].LastSeenAt.IsZero() {
		t.Error("last seen not updated")
	}
}

func TestRefreshRejectsRevokedSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	res, err := svc.Login(context.Background(), LoginInput{Email: "player@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := svc.Logout(context.Background(), res.SessionID); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.Refresh(context.Background(), res.SessionID, res.RefreshToken); !errors.Is(err, ErrInvalidRefresh) {
		t.Errorf("revoked session error = %v, want ErrInvalidRefresh", err)
	}
	// Logout again is a no-op.
	if err := svc.Logout(context.Background(), res.SessionID); err != nil {
		t.Errorf("second Logout() error = %v", err)
	}
}
