package httpx

import (
	"context"

	sessiondomain "live-game-backend/internal/session/domain"
	userdomain "live-game-backend/internal/user/domain"
)

type contextKey int

const identityKey contextKey = iota

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	User    *userdomain.User
	Session *sessiondomain.Session
}

// WithIdentity attaches the authenticated identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the authenticated identity, or nil outside the auth
// middleware.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}
