package syncclient

import "errors"

var (
	// ErrServerUnreachable is returned when the sync server cannot be reached.
	ErrServerUnreachable = errors.New("sync server unreachable")
	// ErrRejected is returned for non-success server responses.
	ErrRejected = errors.New("sync request rejected")
	// ErrConflictPending marks a queued change whose conflict is still open.
	ErrConflictPending = errors.New("conflict not yet resolved")
)
