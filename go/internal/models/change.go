package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Operation is the kind of mutation a change record carries.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Entity types tracked by the ledger.
const (
	EntityTournament = "tournament"
	EntityPlayer     = "player"
	EntityBlindLevel = "blind_level"
	EntityTimerState = "timer_state"
)

// ChangeRecord is one append-only ledger entry. Incoming changes from devices
// use the same shape with ServerTimestamp unset.
type ChangeRecord struct {
	ChangeID        uuid.UUID       `json:"changeId"`
	OriginID        string          `json:"originId"`
	EntityType      string          `json:"entityType"`
	Operation       Operation       `json:"operation"`
	EntityID        uuid.UUID       `json:"entityId"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	LocalTimestamp  int64           `json:"localTimestamp"`
	ServerTimestamp int64           `json:"serverTimestamp"`
}

// Fields decodes the payload as a flat JSON object. An empty payload yields an
// empty map.
func (c ChangeRecord) Fields() (map[string]any, error) {
	fields := map[string]any{}
	if len(c.Payload) == 0 || string(c.Payload) == "null" {
		return fields, nil
	}
	if err := json.Unmarshal(c.Payload, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode payload of change %s: %w", c.ChangeID, err)
	}
	return fields, nil
}
