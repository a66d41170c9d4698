package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/sqlutil"
)

const changeColumns = `change_id, origin_id, entity_type, operation, entity_id, payload, local_ts, server_ts`

// Repository handles change_ledger rows.
type Repository struct{}

// NewRepository creates a new ledger repository
func NewRepository() *Repository {
	return &Repository{}
}

// Insert writes one record. The caller assigns ServerTimestamp.
func (r *Repository) Insert(ctx context.Context, q sqlutil.Querier, rec models.ChangeRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO change_ledger (`+changeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ChangeID.String(),
		rec.OriginID,
		rec.EntityType,
		string(rec.Operation),
		rec.EntityID.String(),
		sqlutil.ToNullJSON(rec.Payload),
		rec.LocalTimestamp,
		rec.ServerTimestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert change %s: %w", rec.ChangeID, err)
	}
	return nil
}

// GetByChangeID returns the record with changeID, or nil when absent.
func (r *Repository) GetByChangeID(ctx context.Context, q sqlutil.Querier, changeID uuid.UUID) (*models.ChangeRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+changeColumns+` FROM change_ledger WHERE change_id = ?`, changeID.String())
	return scanOptional(row)
}

// MaxServerTimestamp returns the highest assigned server timestamp, 0 when empty.
func (r *Repository) MaxServerTimestamp(ctx context.Context, q sqlutil.Querier) (int64, error) {
	var ts sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(server_ts) FROM change_ledger`).Scan(&ts); err != nil {
		return 0, fmt.Errorf("failed to read ledger high-water mark: %w", err)
	}
	return ts.Int64, nil
}

// ChangesSince returns records with server_ts > since in ledger order.
func (r *Repository) ChangesSince(ctx context.Context, q sqlutil.Querier, since int64, limit int) ([]models.ChangeRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+changeColumns+`
		FROM change_ledger
		WHERE server_ts > ?
		ORDER BY server_ts ASC, seq ASC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes since %d: %w", since, err)
	}
	defer rows.Close()

	var out []models.ChangeRecord
	for rows.Next() {
		rec, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// LatestFor returns the newest record for an entity, or nil when none exists.
func (r *Repository) LatestFor(ctx context.Context, q sqlutil.Querier, entityType string, entityID uuid.UUID) (*models.ChangeRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+changeColumns+`
		FROM change_ledger
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY server_ts DESC, seq DESC
		LIMIT 1`, entityType, entityID.String())
	return scanOptional(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOptional(row *sql.Row) (*models.ChangeRecord, error) {
	rec, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func scanChange(s scanner) (*models.ChangeRecord, error) {
	var (
		rec                    models.ChangeRecord
		changeID, entityID, op string
		payload                sql.NullString
	)
	if err := s.Scan(&changeID, &rec.OriginID, &rec.EntityType, &op, &entityID, &payload, &rec.LocalTimestamp, &rec.ServerTimestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan change record: %w", err)
	}

	var err error
	if rec.ChangeID, err = uuid.Parse(changeID); err != nil {
		return nil, fmt.Errorf("invalid change_id %q: %w", changeID, err)
	}
	if rec.EntityID, err = uuid.Parse(entityID); err != nil {
		return nil, fmt.Errorf("invalid entity_id %q: %w", entityID, err)
	}
	rec.Operation = models.Operation(op)
	rec.Payload = sqlutil.FromNullJSON(payload)
	return &rec, nil
}
