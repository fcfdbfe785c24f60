package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	draindomain "live-game-backend/internal/drain/domain"
	"live-game-backend/internal/httpx"
	"live-game-backend/internal/security"
	sessiondomain "live-game-backend/internal/session/domain"
	userdomain "live-game-backend/internal/user/domain"
)

type fakeSessions struct {
	byID map[string]*sessiondomain.Session
}

func (f *fakeSessions) GetByID(_ context.Context, id string) (*sessiondomain.Session, error) {
	return f.byID[id], nil
}
func (f *fakeSessions) Create(context.Context, *sessiondomain.Session) error     { return nil }
func (f *fakeSessions) Revoke(context.Context, string, time.Time) error          { return nil }
func (f *fakeSessions) UpdateLastSeen(context.Context, string, time.Time) error  { return nil }
func (f *fakeSessions) UpdateRefreshToken(context.Context, string, string) error { return nil }

type fakeUsers struct {
	byID map[int64]*userdomain.User
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*userdomain.User, error) {
	return f.byID[id], nil
}
func (f *fakeUsers) GetByEmail(context.Context, string) (*userdomain.User, error) { return nil, nil }
func (f *fakeUsers) Create(context.Context, *userdomain.User) (int64, error)      { return 0, nil }

type fakeEnforcer struct {
	decision *draindomain.Decision
}

func (f *fakeEnforcer) Enforce(_ context.Context, _ *sessiondomain.Session, isAdmin bool) (*draindomain.Decision, error) {
	if isAdmin {
		return nil, nil
	}
	return f.decision, nil
}

func newMiddlewareFixture(t *testing.T, decision *draindomain.Decision) (*AuthMiddleware, string) {
	t.Helper()
	tokens, err := security.NewTokenProvider("test-secret", "live-game-backend", "game-client")
	if err != nil {
		t.Fatalf("NewTokenProvider() error = %v", err)
	}
	sessions := &fakeSessions{byID: map[string]*sessiondomain.Session{
		"sess-1": {
			ID:         "sess-1",
			UserID:     7,
			ExpiresAt:  time.Now().Add(time.Hour),
			DrainState: sessiondomain.DrainStateActive,
		},
	}}
	users := &fakeUsers{byID: map[int64]*userdomain.User{
		7: {ID: 7, Email: "player@example.com"},
	}}
	m := NewAuthMiddleware(tokens, sessions, users, &fakeEnforcer{decision: decision},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	access, _, err := tokens.IssueAccessToken(7, "sess-1", time.Minute)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	return m, access
}

func doRequest(m *AuthMiddleware, token string, inner http.HandlerFunc) *httptest.ResponseRecorder {
	h := m.Wrap(inner)
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddlewarePassesIdentity(t *testing.T) {
	m, token := newMiddlewareFixture(t, nil)
	var got *httpx.Identity
	rec := doRequest(m, token, func(w http.ResponseWriter, r *http.Request) {
		got = httpx.IdentityFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204; body %s", rec.Code, rec.Body)
	}
	if got == nil || got.User.ID != 7 || got.Session.ID != "sess-1" {
		t.Errorf("identity = %+v, want user 7 session sess-1", got)
	}
}

func TestAuthMiddlewareRejectsMissingAndBadTokens(t *testing.T) {
	m, _ := newMiddlewareFixture(t, nil)
	if rec := doRequest(m, "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", rec.Code)
	}
	if rec := doRequest(m, "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewareForcedLogout(t *testing.T) {
	m, token := newMiddlewareFixture(t, &draindomain.Decision{ForceLogout: true})
	called := false
	rec := doRequest(m, token, func(http.ResponseWriter, *http.Request) { called = true })
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if called {
		t.Error("handler ran despite forced logout")
	}
}

func TestAuthMiddlewareCountdownHeaders(t *testing.T) {
	deadline := time.Now().Add(90 * time.Second).UTC()
	secs := 90
	m, token := newMiddlewareFixture(t, &draindomain.Decision{
		DeadlineAt:       &deadline,
		SecondsRemaining: &secs,
	})
	rec := doRequest(m, token, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("X-Publish-Drain-Seconds"); got != "90" {
		t.Errorf("X-Publish-Drain-Seconds = %q, want 90", got)
	}
	if got := rec.Header().Get("X-Publish-Drain-Deadline"); got == "" {
		t.Error("X-Publish-Drain-Deadline header missing")
	}
}
