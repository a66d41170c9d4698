package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventPublisher relays one outbox event to the bus.
type EventPublisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}

// envelope is the message body consumers receive.
type envelope struct {
	EventID      string          `json:"eventId"`
	EventType    string          `json:"eventType"`
	TournamentID string          `json:"tournamentId,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
}

func encode(event OutboxEvent) ([]byte, error) {
	env := envelope{
		EventID:   event.ID.String(),
		EventType: event.EventType,
		Timestamp: event.CreatedAt.UTC(),
		Payload:   event.Payload,
	}
	if event.TournamentID != uuid.Nil {
		env.TournamentID = event.TournamentID.String()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Subject places tournament events under their tournament so a display can
// follow one clock with "<prefix>.timer.<id>.>". Node-wide events such as
// failover.promoted go directly under the prefix.
func Subject(prefix string, event OutboxEvent) string {
	if event.TournamentID == uuid.Nil {
		return prefix + "." + event.EventType
	}
	kind, name, ok := strings.Cut(event.EventType, ".")
	if !ok {
		return fmt.Sprintf("%s.%s.%s", prefix, event.TournamentID, event.EventType)
	}
	return fmt.Sprintf("%s.%s.%s.%s", prefix, kind, event.TournamentID, name)
}

// LogPublisher only logs events. Used when no NATS url is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event OutboxEvent) error {
	log.Debug().
		Str("event_id", event.ID.String()).
		Str("subject", Subject("local", event)).
		Msg("outbox event dropped, no bus configured")
	return nil
}
