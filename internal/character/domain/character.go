package domain

import "time"

// Character is an in-world entity owned by a user. The selected character is the
// one currently "in play"; a publish drain clears that marker so no entity stays
// active across the version boundary. Character CRUD itself lives elsewhere.
type Character struct {
	ID          int64
	UserID      int64
	Name        string
	ZoneLevelID *int64 // nil when the character is not placed in a zone
	IsSelected  bool
	CreatedAt   time.Time
}
