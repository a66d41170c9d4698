package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncQueueItem is a locally queued change awaiting server acknowledgement.
type SyncQueueItem struct {
	ChangeID    uuid.UUID    `json:"changeId"`
	Change      ChangeRecord `json:"change"`
	RetryCount  int          `json:"retryCount"`
	LastAttempt *time.Time   `json:"lastAttempt,omitempty"`
	NextRetry   time.Time    `json:"nextRetry"`
	LastError   string       `json:"lastError,omitempty"`
}

// SyncResult summarizes one client sync pass.
type SyncResult struct {
	Uploaded   int        `json:"uploaded"`
	Downloaded int        `json:"downloaded"`
	Conflicts  []Conflict `json:"conflicts"`
	Errors     []error    `json:"-"`
}

// SyncUploadRequest is the body of a sync upload.
type SyncUploadRequest struct {
	OriginID          string         `json:"originId"`
	Changes           []ChangeRecord `json:"changes"`
	LastSyncTimestamp int64          `json:"lastSyncTimestamp"`
}

// SyncUploadResponse reports how many changes were accepted and which conflicted.
type SyncUploadResponse struct {
	Accepted  int        `json:"accepted"`
	Conflicts []Conflict `json:"conflicts"`
}

// SyncPullResponse carries ledger changes since the requested timestamp.
type SyncPullResponse struct {
	Changes         []ChangeRecord `json:"changes"`
	ServerTimestamp int64          `json:"serverTimestamp"`
}
