package domain

import "time"

// Drain states a session moves through. A session is tagged draining when a
// publish drain targets it and completed once its credential is revoked; a
// completed session cannot be reactivated.
const (
	DrainStateActive    = "active"
	DrainStateDraining  = "draining"
	DrainStateCompleted = "completed"
)

// Session is a long-lived credential record for one logged-in client.
type Session struct {
	ID                      string
	UserID                  int64
	RefreshTokenHash        string // SHA-256 hash of current refresh token
	ClientVersion           string
	ClientContentVersionKey string
	CreatedAt               time.Time
	ExpiresAt               time.Time
	LastSeenAt              time.Time
	RevokedAt               *time.Time // nil when not revoked

	DrainState      string
	DrainEventID    *int64
	DrainDeadlineAt *time.Time
	DrainReasonCode *string
}

// Active reports whether the session is usable at the given instant.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
