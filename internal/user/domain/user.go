package domain

import "time"

// User is a player or operator account. Administrators are exempt from forced drains.
type User struct {
	ID           int64
	Email        string
	DisplayName  string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}
