package schedule

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/sqlutil"
)

// Repository implements blind_levels data access
type Repository struct {
	db database.Provider
}

// NewRepository creates a new schedule repository
func NewRepository(db database.Provider) *Repository {
	return &Repository{db: db}
}

// Levels returns the tournament's levels ordered by level number.
func (r *Repository) Levels(ctx context.Context, tournamentID uuid.UUID) ([]models.BlindLevel, error) {
	rows, err := r.db.DB().QueryContext(ctx, `
		SELECT level, small_blind, big_blind, ante, duration_minutes, is_break
		FROM blind_levels
		WHERE tournament_id = ?
		ORDER BY level`, tournamentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list blind levels: %w", err)
	}
	defer rows.Close()

	var levels []models.BlindLevel
	for rows.Next() {
		var (
			l       models.BlindLevel
			isBreak int
		)
		if err := rows.Scan(&l.Level, &l.SmallBlind, &l.BigBlind, &l.Ante, &l.DurationMinutes, &isBreak); err != nil {
			return nil, fmt.Errorf("failed to scan blind level: %w", err)
		}
		l.IsBreak = isBreak == 1
		levels = append(levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(levels) == 0 {
		return nil, ErrNoSchedule
	}
	return levels, nil
}

// Replace swaps the tournament's whole schedule in one transaction.
func (r *Repository) Replace(ctx context.Context, tournamentID uuid.UUID, levels []models.BlindLevel) error {
	return sqlutil.Run(ctx, r.db.DB(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blind_levels WHERE tournament_id = ?`, tournamentID.String()); err != nil {
			return fmt.Errorf("failed to clear blind levels: %w", err)
		}
		for _, l := range levels {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO blind_levels (id, tournament_id, level, small_blind, big_blind, ante, duration_minutes, is_break)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				uuid.New().String(),
				tournamentID.String(),
				l.Level,
				l.SmallBlind,
				l.BigBlind,
				l.Ante,
				l.DurationMinutes,
				sqlutil.BoolToInt(l.IsBreak),
			)
			if err != nil {
				return fmt.Errorf("failed to insert level %d: %w", l.Level, err)
			}
		}
		return nil
	})
}
