package replication

import "errors"

var (
	// ErrReplicationUnreachable is returned when the primary cannot be reached
	// or answers with a non-success status.
	ErrReplicationUnreachable = errors.New("replication source unreachable")
	// ErrChecksumMismatch is returned when downloaded bytes do not match the
	// advertised checksum. Nothing is swapped in.
	ErrChecksumMismatch = errors.New("replication checksum mismatch")
	// ErrUnknownPart is returned for download parts other than db and wal.
	ErrUnknownPart = errors.New("unknown replication part")
)
