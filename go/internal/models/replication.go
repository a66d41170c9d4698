package models

import "time"

// ReplicationSnapshot describes the primary's current log artifact.
// Recomputed on every poll.
type ReplicationSnapshot struct {
	Exists       bool      `json:"exists"`
	SizeBytes    int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	Checksum     string    `json:"checksum"`
}

// Backup is one rotated backup file.
type Backup struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}
