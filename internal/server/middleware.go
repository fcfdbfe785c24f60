package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	draindomain "live-game-backend/internal/drain/domain"
	"live-game-backend/internal/httpx"
	"live-game-backend/internal/security"
	sessiondomain "live-game-backend/internal/session/domain"
	sessionrepo "live-game-backend/internal/session/repository"
	userrepo "live-game-backend/internal/user/repository"
)

// DrainEnforcer applies drain state to one authenticated request. Satisfied by
// the drain orchestrator.
type DrainEnforcer interface {
	Enforce(ctx context.Context, session *sessiondomain.Session, isAdmin bool) (*draindomain.Decision, error)
}

// AuthMiddleware authenticates the bearer token, loads session and user, and
// runs drain enforcement. A terminal drain decision turns the request into a
// 401 with code drain_forced_logout; a countdown decision is surfaced on
// response headers so clients can show the timer without a separate poll.
type AuthMiddleware struct {
	tokens   *security.TokenProvider
	sessions sessionrepo.Repository
	users    userrepo.Repository
	enforcer DrainEnforcer
	logger   *slog.Logger
	now      func() time.Time
}

func NewAuthMiddleware(tokens *security.TokenProvider, sessions sessionrepo.Repository, users userrepo.Repository, enforcer DrainEnforcer, logger *slog.Logger) *AuthMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{
		tokens:   tokens,
		sessions: sessions,
		users:    users,
		enforcer: enforcer,
		logger:   logger,
		now:      time.Now,
	}
}

// Wrap returns next guarded by authentication and drain enforcement.
func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "missing_token", "authorization required")
			return
		}
		claims, err := m.tokens.ParseAccessToken(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
			return
		}
		session, err := m.sessions.GetByID(r.Context(), claims.SessionID)
		if err != nil {
			m.logger.Error("auth: load session failed", "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
			return
		}
		if session == nil || !session.Active(m.now().UTC()) {
			httpx.WriteError(w, http.StatusUnauthorized, "session_revoked", "session is no longer active")
			return
		}
		user, err := m.users.GetByID(r.Context(), session.UserID)
		if err != nil {
			m.logger.Error("auth: load user failed", "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
			return
		}
		if user == nil {
			httpx.WriteError(w, http.StatusUnauthorized, "session_revoked", "user no longer exists")
			return
		}

		decision, err := m.enforcer.Enforce(r.Context(), session, user.IsAdmin)
		if err != nil {
			m.logger.Error("auth: drain enforcement failed", "error", err, "session_id", session.ID)
			httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
			return
		}
		if decision != nil {
			if decision.ForceLogout {
				httpx.WriteError(w, http.StatusUnauthorized, "drain_forced_logout", "session drained by publish")
				return
			}
			if decision.DeadlineAt != nil {
				w.Header().Set("X-Publish-Drain-Deadline", decision.DeadlineAt.UTC().Format(time.RFC3339))
			}
			if decision.SecondsRemaining != nil {
				w.Header().Set("X-Publish-Drain-Seconds", strconv.Itoa(*decision.SecondsRemaining))
			}
		}

		ctx := httpx.WithIdentity(r.Context(), &httpx.Identity{User: user, Session: session})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	return token, token != ""
}
