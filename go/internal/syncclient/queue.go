package syncclient

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/sqlutil"
)

const lastSyncKey = "last_sync_timestamp"

const queueColumns = `change_id, change, retry_count, last_attempt, next_retry, last_error`

// Queue persists unsent changes and the sync cursor on the device.
type Queue struct{}

func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue stores a change, due immediately. Re-queueing the same changeId is
// a no-op.
func (q *Queue) Enqueue(ctx context.Context, db sqlutil.Querier, change models.ChangeRecord, now time.Time) error {
	body, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO sync_queue (change_id, change, next_retry, queued_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(change_id) DO NOTHING`,
		change.ChangeID.String(), string(body), sqlutil.ToUnixMilli(now), sqlutil.ToUnixMilli(now))
	if err != nil {
		return fmt.Errorf("failed to queue change %s: %w", change.ChangeID, err)
	}
	return nil
}

// Due returns queued items whose next retry is at or before now, oldest first.
func (q *Queue) Due(ctx context.Context, db sqlutil.Querier, now time.Time) ([]models.SyncQueueItem, error) {
	return q.list(ctx, db, `SELECT `+queueColumns+` FROM sync_queue WHERE next_retry <= ? ORDER BY queued_at, rowid`, sqlutil.ToUnixMilli(now))
}

// All returns every queued item, oldest first.
func (q *Queue) All(ctx context.Context, db sqlutil.Querier) ([]models.SyncQueueItem, error) {
	return q.list(ctx, db, `SELECT `+queueColumns+` FROM sync_queue ORDER BY queued_at, rowid`)
}

func (q *Queue) list(ctx context.Context, db sqlutil.Querier, query string, args ...any) ([]models.SyncQueueItem, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync queue: %w", err)
	}
	defer rows.Close()

	var items []models.SyncQueueItem
	for rows.Next() {
		var (
			item        models.SyncQueueItem
			id, body    string
			lastAttempt sql.NullInt64
			nextRetry   int64
			lastError   sql.NullString
		)
		if err := rows.Scan(&id, &body, &item.RetryCount, &lastAttempt, &nextRetry, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan sync queue item: %w", err)
		}
		if item.ChangeID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid change id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(body), &item.Change); err != nil {
			return nil, fmt.Errorf("failed to decode queued change %s: %w", id, err)
		}
		item.LastAttempt = sqlutil.FromNullTime(lastAttempt)
		item.NextRetry = sqlutil.FromUnixMilli(nextRetry)
		item.LastError = sqlutil.FromSqlString(lastError, "")
		items = append(items, item)
	}
	return items, rows.Err()
}

// Delete removes an acknowledged item.
func (q *Queue) Delete(ctx context.Context, db sqlutil.Querier, changeID uuid.UUID) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM sync_queue WHERE change_id = ?`, changeID.String()); err != nil {
		return fmt.Errorf("failed to delete queued change %s: %w", changeID, err)
	}
	return nil
}

// MarkFailed records a failed attempt and schedules the next one.
func (q *Queue) MarkFailed(ctx context.Context, db sqlutil.Querier, item models.SyncQueueItem) error {
	_, err := db.ExecContext(ctx, `
		UPDATE sync_queue
		SET retry_count = ?, last_attempt = ?, next_retry = ?, last_error = ?
		WHERE change_id = ?`,
		item.RetryCount,
		sqlutil.ToNullTime(item.LastAttempt),
		sqlutil.ToUnixMilli(item.NextRetry),
		sqlutil.ToSqlString(item.LastError),
		item.ChangeID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule change %s: %w", item.ChangeID, err)
	}
	return nil
}

// Len returns the queue depth.
func (q *Queue) Len(ctx context.Context, db sqlutil.Querier) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sync queue: %w", err)
	}
	return n, nil
}

// LastSync returns the server timestamp of the last fully applied batch.
func (q *Queue) LastSync(ctx context.Context, db sqlutil.Querier) (int64, error) {
	var ts int64
	err := db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, lastSyncKey).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read last sync timestamp: %w", err)
	}
	return ts, nil
}

// SetLastSync advances the cursor.
func (q *Queue) SetLastSync(ctx context.Context, db sqlutil.Querier, ts int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, lastSyncKey, ts)
	if err != nil {
		return fmt.Errorf("failed to store last sync timestamp: %w", err)
	}
	return nil
}
