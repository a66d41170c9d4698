package conflict

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/sqlutil"
)

// Repository implements conflicts and conflict_resolutions data access.
// Every method takes the querier so callers can join a transaction.
type Repository struct{}

// NewRepository creates a new conflict repository
func NewRepository() *Repository {
	return &Repository{}
}

const selectConflict = `
	SELECT c.conflict_id, c.change_id, c.origin_id, c.entity_type, c.entity_id,
	       c.local_operation, c.server_operation, c.local_version, c.server_version,
	       c.conflict_type, c.reason, c.detected_at,
	       r.strategy, r.resolved_version, r.deleted
	FROM conflicts c
	LEFT JOIN conflict_resolutions r ON r.conflict_id = c.conflict_id`

// Insert stores a detected conflict. Inserting an existing id is a no-op.
func (r *Repository) Insert(ctx context.Context, q sqlutil.Querier, c models.Conflict) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO conflicts (conflict_id, change_id, origin_id, entity_type, entity_id,
			local_operation, server_operation, local_version, server_version,
			conflict_type, reason, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conflict_id) DO NOTHING`,
		c.ConflictID.String(),
		c.ChangeID.String(),
		c.OriginID,
		c.EntityType,
		c.EntityID.String(),
		string(c.LocalOperation),
		sqlutil.ToSqlString(string(c.ServerOperation)),
		sqlutil.ToNullJSON(c.LocalVersion),
		sqlutil.ToNullJSON(c.ServerVersion),
		string(c.ConflictType),
		sqlutil.ToSqlString(c.Reason),
		sqlutil.ToUnixMilli(c.DetectedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}
	return nil
}

// Get returns the conflict with its resolution state.
func (r *Repository) Get(ctx context.Context, q sqlutil.Querier, id uuid.UUID) (*models.Conflict, error) {
	c, err := scanConflict(q.QueryRowContext(ctx, selectConflict+` WHERE c.conflict_id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConflictNotFound
	}
	return c, err
}

// LatestForChange returns the newest conflict raised by changeID, nil when none.
func (r *Repository) LatestForChange(ctx context.Context, q sqlutil.Querier, changeID uuid.UUID) (*models.Conflict, error) {
	c, err := scanConflict(q.QueryRowContext(ctx,
		selectConflict+` WHERE c.change_id = ? ORDER BY c.detected_at DESC, c.rowid DESC LIMIT 1`, changeID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// List returns conflicts newest first; openOnly drops resolved ones.
func (r *Repository) List(ctx context.Context, q sqlutil.Querier, openOnly bool, limit int) ([]models.Conflict, error) {
	query := selectConflict
	if openOnly {
		query += ` WHERE r.conflict_id IS NULL`
	}
	query += ` ORDER BY c.detected_at DESC LIMIT ?`

	rows, err := q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var out []models.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetResolution returns the audit row of a resolved conflict, nil when open.
func (r *Repository) GetResolution(ctx context.Context, q sqlutil.Querier, id uuid.UUID) (*models.ResolutionResult, error) {
	var (
		res                    models.ResolutionResult
		strategy               string
		version                sql.NullString
		deleted                int
		detectedAt, resolvedAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT strategy, resolved_version, deleted, detected_at, resolved_at
		FROM conflict_resolutions WHERE conflict_id = ?`, id.String(),
	).Scan(&strategy, &version, &deleted, &detectedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resolution: %w", err)
	}

	res.ConflictID = id
	res.Strategy = models.ResolutionStrategy(strategy)
	res.ResolvedVersion = sqlutil.FromNullJSON(version)
	res.Deleted = deleted == 1
	res.DetectedAt = sqlutil.FromUnixMilli(detectedAt)
	res.ResolvedAt = sqlutil.FromUnixMilli(resolvedAt)
	return &res, nil
}

// InsertResolution stores the audit row. The conflict_id primary key makes a
// second resolution of the same conflict fail.
func (r *Repository) InsertResolution(ctx context.Context, q sqlutil.Querier, res models.ResolutionResult) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO conflict_resolutions (conflict_id, strategy, resolved_version, deleted, detected_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		res.ConflictID.String(),
		string(res.Strategy),
		sqlutil.ToNullJSON(res.ResolvedVersion),
		sqlutil.BoolToInt(res.Deleted),
		sqlutil.ToUnixMilli(res.DetectedAt),
		sqlutil.ToUnixMilli(res.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert resolution: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConflict(s scanner) (*models.Conflict, error) {
	var (
		c                                      models.Conflict
		conflictID, changeID, entityID         string
		localOp, conflictType                  string
		serverOp, reason, strategy             sql.NullString
		localVersion, serverVersion, resolvedV sql.NullString
		detectedAt                             int64
		deleted                                sql.NullInt64
	)
	err := s.Scan(&conflictID, &changeID, &c.OriginID, &c.EntityType, &entityID,
		&localOp, &serverOp, &localVersion, &serverVersion,
		&conflictType, &reason, &detectedAt,
		&strategy, &resolvedV, &deleted)
	if err != nil {
		return nil, err
	}

	if c.ConflictID, err = uuid.Parse(conflictID); err != nil {
		return nil, fmt.Errorf("invalid conflict id: %w", err)
	}
	if c.ChangeID, err = uuid.Parse(changeID); err != nil {
		return nil, fmt.Errorf("invalid change id: %w", err)
	}
	if c.EntityID, err = uuid.Parse(entityID); err != nil {
		return nil, fmt.Errorf("invalid entity id: %w", err)
	}
	c.LocalOperation = models.Operation(localOp)
	c.ServerOperation = models.Operation(sqlutil.FromSqlString(serverOp, ""))
	c.LocalVersion = sqlutil.FromNullJSON(localVersion)
	c.ServerVersion = sqlutil.FromNullJSON(serverVersion)
	c.ConflictType = models.ConflictType(conflictType)
	c.Reason = sqlutil.FromSqlString(reason, "")
	c.DetectedAt = sqlutil.FromUnixMilli(detectedAt)
	if strategy.Valid {
		st := models.ResolutionStrategy(strategy.String)
		c.Resolved = true
		c.Strategy = &st
		c.ResolvedVersion = sqlutil.FromNullJSON(resolvedV)
		c.ResolvedDeleted = deleted.Valid && deleted.Int64 != 0
	}
	return &c, nil
}
