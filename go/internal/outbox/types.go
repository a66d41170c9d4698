package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is one row waiting to be relayed to the event bus.
type OutboxEvent struct {
	ID           uuid.UUID       `json:"id"`
	TournamentID uuid.UUID       `json:"tournament_id"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
	Attempts     int             `json:"attempts"`
}

const (
	timerEventPrefix    = "timer."
	failoverEventPrefix = "failover."
)
