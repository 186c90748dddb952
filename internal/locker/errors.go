package locker

import "errors"

// Caller-facing outcomes. These are expected user errors, never system
// failures, and are logged at debug level at most.
var (
	ErrNotFound         = errors.New("locker not found")
	ErrAlreadyOccupied  = errors.New("locker is already occupied")
	ErrInvalidCode      = errors.New("invalid pickup code")
	ErrInvalidContact   = errors.New("invalid assignee contact")
	ErrPickupInProgress = errors.New("a pickup is already waiting on this locker")
	// ErrReleased ends a waiting pickup whose locker was released by an admin.
	ErrReleased = errors.New("locker released during pickup")
)
