package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/sqlutil"
)

// Repository reads and writes the outbox table.
type Repository struct {
	db    database.Provider
	clock clockwork.Clock
}

func NewRepository(db database.Provider, clock clockwork.Clock) *Repository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Repository{
		db:    db,
		clock: clock,
	}
}

// InsertTimerEvent queues a recorded timer transition. q is the transaction
// that records the transition itself.
func (r *Repository) InsertTimerEvent(ctx context.Context, q sqlutil.Querier, ev models.TimerEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal timer event: %w", err)
	}
	return r.insert(ctx, q, ev.EventID, ev.TournamentID, timerEventPrefix+string(ev.EventType), payload)
}

// InsertFailoverEvent queues a role change notification. These are not tied
// to a tournament and carry the nil uuid.
func (r *Repository) InsertFailoverEvent(ctx context.Context, ev models.FailoverEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal failover event: %w", err)
	}
	return r.insert(ctx, r.db.DB(), uuid.New(), uuid.Nil, failoverEventPrefix+string(ev.Type), payload)
}

func (r *Repository) insert(ctx context.Context, q sqlutil.Querier, id, tournamentID uuid.UUID, eventType string, payload []byte) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO outbox (id, tournament_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id.String(),
		tournamentID.String(),
		eventType,
		string(payload),
		sqlutil.ToUnixMilli(r.clock.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

// FetchUnsent returns the oldest unsent events.
func (r *Repository) FetchUnsent(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := r.db.DB().QueryContext(ctx, `
		SELECT id, tournament_id, event_type, payload, created_at, attempts
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY created_at, rowid
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var (
			ev               OutboxEvent
			id, tournamentID string
			payload          string
			createdAt        int64
		)
		if err := rows.Scan(&id, &tournamentID, &ev.EventType, &payload, &createdAt, &ev.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid outbox id %q: %w", id, err)
		}
		if ev.TournamentID, err = uuid.Parse(tournamentID); err != nil {
			return nil, fmt.Errorf("invalid tournament id %q: %w", tournamentID, err)
		}
		ev.Payload = json.RawMessage(payload)
		ev.CreatedAt = sqlutil.FromUnixMilli(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkSent stamps the given events as relayed.
func (r *Repository) MarkSent(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, sqlutil.ToUnixMilli(r.clock.Now()))
	for _, id := range ids {
		args = append(args, id.String())
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	return sqlutil.Run(ctx, r.db.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE outbox SET sent_at = ? WHERE sent_at IS NULL AND id IN (`+placeholders+`)`,
			args...)
		if err != nil {
			return fmt.Errorf("failed to mark outbox events as sent: %w", err)
		}
		return nil
	})
}

// RecordFailure bumps the attempt counter of an event that could not be relayed.
func (r *Repository) RecordFailure(ctx context.Context, id uuid.UUID, cause error) error {
	_, err := r.db.DB().ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		sqlutil.ToSqlString(cause.Error()), id.String())
	if err != nil {
		return fmt.Errorf("failed to record outbox failure: %w", err)
	}
	return nil
}

// CountPending returns the number of unsent events.
func (r *Repository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE sent_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending outbox events: %w", err)
	}
	return n, nil
}
