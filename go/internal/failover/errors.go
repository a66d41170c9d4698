package failover

import "errors"

var (
	// ErrAlreadyPrimary is returned when promoting a process that already
	// holds the primary role.
	ErrAlreadyPrimary = errors.New("already primary")
	// ErrNotPrimary is returned when demoting a standby.
	ErrNotPrimary = errors.New("not primary")
	// ErrPromotionInProgress is returned by Demote while a promotion runs.
	ErrPromotionInProgress = errors.New("promotion in progress")
	// ErrNotStarted is returned for role changes before Start.
	ErrNotStarted = errors.New("coordinator not started")
)
