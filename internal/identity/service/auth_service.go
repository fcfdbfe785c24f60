// Package service implements login, refresh, and logout. This is deliberately
// a thin surface: its job is producing the sessions the drain subsystem
// manages, not a full account system.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"live-game-backend/internal/security"
	sessiondomain "live-game-backend/internal/session/domain"
	sessionrepo "live-game-backend/internal/session/repository"
	userdomain "live-game-backend/internal/user/domain"
	userrepo "live-game-backend/internal/user/repository"
)

var (
	// ErrInvalidCredentials is returned for unknown emails and wrong
	// passwords alike; callers must not distinguish the two.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidRefresh is returned when the session is missing, revoked,
	// expired, or the refresh token does not match.
	ErrInvalidRefresh = errors.New("invalid refresh token")
)

type AuthService struct {
	users      userrepo.Repository
	sessions   sessionrepo.Repository
	hasher     *security.Hasher
	tokens     *security.TokenProvider
	accessTTL  time.Duration
	sessionTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewAuthService(users userrepo.Repository, sessions sessionrepo.Repository, hasher *security.Hasher, tokens *security.TokenProvider, accessTTL, sessionTTL time.Duration, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:      users,
		sessions:   sessions,
		hasher:     hasher,
		tokens:     tokens,
		accessTTL:  accessTTL,
		sessionTTL: sessionTTL,
		logger:     logger,
		now:        time.Now,
	}
}

type LoginInput struct {
	Email                   string
	Password                string
	ClientVersion           string
	ClientContentVersionKey string
}

type LoginResult struct {
	User            *userdomain.User
	SessionID       string
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// Login verifies the password and opens a session carrying the client's
// build and content versions, which the drain and release layers read later.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(in.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	refreshToken := security.NewOpaqueToken()
	session := &sessiondomain.Session{
		ID:                      uuid.NewString(),
		UserID:                  user.ID,
		RefreshTokenHash:        security.HashToken(refreshToken),
		ClientVersion:           in.ClientVersion,
		ClientContentVersionKey: in.ClientContentVersionKey,
		CreatedAt:               now,
		ExpiresAt:               now.Add(s.sessionTTL),
		LastSeenAt:              now,
		DrainState:              sessiondomain.DrainStateActive,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	accessToken, accessExpiresAt, err := s.tokens.IssueAccessToken(user.ID, session.ID, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	s.logger.Info("login", "user_id", user.ID, "session_id", session.ID, "client_version", in.ClientVersion)
	return &LoginResult{
		User:            user,
		SessionID:       session.ID,
		AccessToken:     accessToken,
		AccessExpiresAt: accessExpiresAt,
		RefreshToken:    refreshToken,
	}, nil
}

type RefreshResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// Refresh rotates the refresh token and issues a new access token. A session
// that drain completed is revoked and cannot refresh.
func (s *AuthService) Refresh(ctx context.Context, sessionID, refreshToken string) (*RefreshResult, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	now := s.now().UTC()
	if session == nil || !session.Active(now) {
		return nil, ErrInvalidRefresh
	}
	if !security.TokenHashEqual(refreshToken, session.RefreshTokenHash) {
		return nil, ErrInvalidRefresh
	}

	next := security.NewOpaqueToken()
	if err := s.sessions.UpdateRefreshToken(ctx, sessionID, security.HashToken(next)); err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if err := s.sessions.UpdateLastSeen(ctx, sessionID, now); err != nil {
		return nil, fmt.Errorf("update last seen: %w", err)
	}
	accessToken, accessExpiresAt, err := s.tokens.IssueAccessToken(session.UserID, sessionID, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &RefreshResult{
		AccessToken:     accessToken,
		AccessExpiresAt: accessExpiresAt,
		RefreshToken:    next,
	}, nil
}

// Logout revokes the session. Revoking an already revoked session is a no-op.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Revoke(ctx, sessionID, s.now().UTC()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}
