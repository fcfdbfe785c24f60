package repository

import "context"

// Repository is the minimal character persistence the drain and realtime paths need.
type Repository interface {
	// ClearSelectedByUser clears the is_selected marker on all of the user's
	// characters and returns how many rows changed.
	ClearSelectedByUser(ctx context.Context, userID int64) (int64, error)
	// SelectedZoneByUser returns the zone of the user's selected character, or
	// nil if no character is selected or the character has no zone.
	SelectedZoneByUser(ctx context.Context, userID int64) (*int64, error)
}
