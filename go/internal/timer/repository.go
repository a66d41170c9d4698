package timer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/sqlutil"
)

// ChangeAppender is the slice of the change ledger a transition writes to.
type ChangeAppender interface {
	AppendTx(ctx context.Context, tx *sql.Tx, change models.ChangeRecord) (*models.ChangeRecord, error)
}

// EventQueue queues recorded transitions for publishing (the outbox).
type EventQueue interface {
	InsertTimerEvent(ctx context.Context, q sqlutil.Querier, event models.TimerEvent) error
}

// SQLRepository stores timer snapshots and events in SQLite. The ledger and
// queue are optional.
type SQLRepository struct {
	db     database.Provider
	ledger ChangeAppender
	queue  EventQueue
}

// NewSQLRepository creates a new timer repository
func NewSQLRepository(db database.Provider, ledger ChangeAppender, queue EventQueue) *SQLRepository {
	return &SQLRepository{db: db, ledger: ledger, queue: queue}
}

var _ Repository = (*SQLRepository)(nil)

// LoadState returns the persisted snapshot, nil when none exists.
func (r *SQLRepository) LoadState(ctx context.Context, tournamentID uuid.UUID) (*models.TimerState, error) {
	var (
		st              models.TimerState
		running, paused int
		remaining       sql.NullInt64
		lastUpdate      int64
	)
	err := r.db.DB().QueryRowContext(ctx, `
		SELECT is_running, is_paused, level, elapsed_ms, remaining_ms, last_update_ms
		FROM timer_states WHERE tournament_id = ?`, tournamentID.String(),
	).Scan(&running, &paused, &st.Level, &st.ElapsedTime, &remaining, &lastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load timer state: %w", err)
	}

	st.IsRunning = running == 1
	st.IsPaused = paused == 1
	st.RemainingTime = sqlutil.FromNullInt64(remaining)
	st.LastUpdateTime = sqlutil.FromUnixMilli(lastUpdate)
	st.Tenths = tenthsOf(st.ElapsedTime)
	return &st, nil
}

// SaveState upserts the snapshot.
func (r *SQLRepository) SaveState(ctx context.Context, tournamentID uuid.UUID, st models.TimerState) error {
	return saveState(ctx, r.db.DB(), tournamentID, st)
}

// RecordTransition writes the event, its ledger record, its outbox row and
// the new snapshot in one transaction.
func (r *SQLRepository) RecordTransition(ctx context.Context, tr Transition) error {
	return sqlutil.Run(ctx, r.db.DB(), func(tx *sql.Tx) error {
		if err := appendEvent(ctx, tx, tr.Event); err != nil {
			return err
		}
		if r.ledger != nil && tr.Change != nil {
			if _, err := r.ledger.AppendTx(ctx, tx, *tr.Change); err != nil {
				return fmt.Errorf("failed to record timer change in ledger: %w", err)
			}
		}
		if r.queue != nil {
			if err := r.queue.InsertTimerEvent(ctx, tx, tr.Event); err != nil {
				return err
			}
		}
		return saveState(ctx, tx, tr.Event.TournamentID, tr.Event.NewState)
	})
}

func saveState(ctx context.Context, q sqlutil.Querier, tournamentID uuid.UUID, st models.TimerState) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO timer_states (tournament_id, is_running, is_paused, level, elapsed_ms, remaining_ms, last_update_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tournament_id) DO UPDATE SET
			is_running = excluded.is_running,
			is_paused = excluded.is_paused,
			level = excluded.level,
			elapsed_ms = excluded.elapsed_ms,
			remaining_ms = excluded.remaining_ms,
			last_update_ms = excluded.last_update_ms`,
		tournamentID.String(),
		sqlutil.BoolToInt(st.IsRunning),
		sqlutil.BoolToInt(st.IsPaused),
		st.Level,
		st.ElapsedTime,
		sqlutil.ToNullInt64(st.RemainingTime),
		sqlutil.ToUnixMilli(st.LastUpdateTime),
	)
	if err != nil {
		return fmt.Errorf("failed to save timer state: %w", err)
	}
	return nil
}

// appendEvent inserts an immutable event row.
func appendEvent(ctx context.Context, q sqlutil.Querier, ev models.TimerEvent) error {
	prev, err := json.Marshal(ev.PreviousState)
	if err != nil {
		return fmt.Errorf("failed to marshal previous state: %w", err)
	}
	next, err := json.Marshal(ev.NewState)
	if err != nil {
		return fmt.Errorf("failed to marshal new state: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO timer_events (event_id, tournament_id, timestamp_ms, event_type, previous_state, new_state, origin_device)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID.String(),
		ev.TournamentID.String(),
		sqlutil.ToUnixMilli(ev.Timestamp),
		string(ev.EventType),
		string(prev),
		string(next),
		ev.OriginDevice,
	)
	if err != nil {
		return fmt.Errorf("failed to insert timer event: %w", err)
	}
	return nil
}

// ListEvents returns a tournament's events oldest first.
func (r *SQLRepository) ListEvents(ctx context.Context, tournamentID uuid.UUID, limit int) ([]models.TimerEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.DB().QueryContext(ctx, `
		SELECT event_id, tournament_id, timestamp_ms, event_type, previous_state, new_state, origin_device
		FROM timer_events
		WHERE tournament_id = ?
		ORDER BY timestamp_ms ASC, rowid ASC
		LIMIT ?`, tournamentID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list timer events: %w", err)
	}
	defer rows.Close()

	var events []models.TimerEvent
	for rows.Next() {
		var (
			ev                   models.TimerEvent
			eventID, tid, evType string
			ts                   int64
			prev, next           string
		)
		if err := rows.Scan(&eventID, &tid, &ts, &evType, &prev, &next, &ev.OriginDevice); err != nil {
			return nil, fmt.Errorf("failed to scan timer event: %w", err)
		}
		if ev.EventID, err = uuid.Parse(eventID); err != nil {
			return nil, fmt.Errorf("invalid event id %q: %w", eventID, err)
		}
		if ev.TournamentID, err = uuid.Parse(tid); err != nil {
			return nil, fmt.Errorf("invalid tournament id %q: %w", tid, err)
		}
		ev.Timestamp = sqlutil.FromUnixMilli(ts)
		ev.EventType = models.TimerEventType(evType)
		if err := json.Unmarshal([]byte(prev), &ev.PreviousState); err != nil {
			return nil, fmt.Errorf("failed to decode previous state: %w", err)
		}
		if err := json.Unmarshal([]byte(next), &ev.NewState); err != nil {
			return nil, fmt.Errorf("failed to decode new state: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// TournamentExists reports whether the tournament row exists.
func (r *SQLRepository) TournamentExists(ctx context.Context, tournamentID uuid.UUID) (bool, error) {
	var one int
	err := r.db.DB().QueryRowContext(ctx, `SELECT 1 FROM tournaments WHERE id = ?`, tournamentID.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up tournament: %w", err)
	}
	return true, nil
}

// TrackedTournaments lists every tournament with a persisted timer snapshot.
func (r *SQLRepository) TrackedTournaments(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.DB().QueryContext(ctx, `SELECT tournament_id FROM timer_states ORDER BY tournament_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked tournaments: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid tournament id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
