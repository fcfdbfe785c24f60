package domain

import "time"

// Ticket is a one-time websocket connection credential. The client presents
// "id.secret" as a query parameter; only the secret's hash is stored.
type Ticket struct {
	ID         string
	UserID     int64
	SessionID  string
	SecretHash string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}
