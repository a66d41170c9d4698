package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ConflictType classifies a detected conflict.
type ConflictType string

const (
	ConflictConcurrentEdit  ConflictType = "concurrent_edit"
	ConflictDeleteConflict  ConflictType = "delete_conflict"
	ConflictValidationError ConflictType = "validation_error"
)

// ResolutionStrategy selects how a conflict is closed.
type ResolutionStrategy string

const (
	StrategyServerWins ResolutionStrategy = "server_wins"
	StrategyClientWins ResolutionStrategy = "client_wins"
	StrategyManual     ResolutionStrategy = "manual"
	StrategyMerge      ResolutionStrategy = "merge"
)

// Valid reports whether s is a known strategy.
func (s ResolutionStrategy) Valid() bool {
	switch s {
	case StrategyServerWins, StrategyClientWins, StrategyManual, StrategyMerge:
		return true
	}
	return false
}

// Conflict is created by the detector and closed by the resolver. It is kept
// after resolution for audit.
type Conflict struct {
	ConflictID      uuid.UUID           `json:"conflictId"`
	ChangeID        uuid.UUID           `json:"changeId"`
	OriginID        string              `json:"originId"`
	EntityType      string              `json:"entityType"`
	EntityID        uuid.UUID           `json:"entityId"`
	LocalOperation  Operation           `json:"localOperation"`
	ServerOperation Operation           `json:"serverOperation,omitempty"`
	LocalVersion    json.RawMessage     `json:"localVersion,omitempty"`
	ServerVersion   json.RawMessage     `json:"serverVersion,omitempty"`
	ConflictType    ConflictType        `json:"conflictType"`
	Reason          string              `json:"reason,omitempty"`
	DetectedAt      time.Time           `json:"detectedAt"`
	Resolved        bool                `json:"resolved"`
	Strategy        *ResolutionStrategy `json:"strategy,omitempty"`
	ResolvedVersion json.RawMessage     `json:"resolvedVersion,omitempty"`
	ResolvedDeleted bool                `json:"resolvedDeleted,omitempty"`
}

// ResolutionResult is the audit row persisted for a resolved conflict.
// A nil ResolvedVersion with Deleted set means the entity was removed.
type ResolutionResult struct {
	ConflictID      uuid.UUID          `json:"conflictId"`
	Strategy        ResolutionStrategy `json:"strategy"`
	ResolvedVersion json.RawMessage    `json:"resolvedVersion,omitempty"`
	Deleted         bool               `json:"deleted"`
	DetectedAt      time.Time          `json:"detectedAt"`
	ResolvedAt      time.Time          `json:"resolvedAt"`
	Replayed        bool               `json:"replayed"`
}
