package schedule

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/dbconfig"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	db, err := database.OpenAndMigrate(dbconfig.Config{
		Path:          filepath.Join(t.TempDir(), "schedule.db"),
		BusyTimeoutMs: 1000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewApp(NewRepository(database.StaticProvider(db)))
}

func sampleLevels() []models.BlindLevel {
	return []models.BlindLevel{
		{Level: 2, SmallBlind: 50, BigBlind: 100, DurationMinutes: 20},
		{Level: 1, SmallBlind: 25, BigBlind: 50, DurationMinutes: 20},
		{Level: 3, DurationMinutes: 10, IsBreak: true},
	}
}

func TestSetScheduleStoresSortedLevels(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := app.Levels(ctx, id)
	assert.ErrorIs(t, err, ErrNoSchedule)

	_, err = app.SetSchedule(ctx, id, sampleLevels())
	require.NoError(t, err)

	levels, err := app.Levels(ctx, id)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, 1, levels[0].Level)
	assert.Equal(t, int64(100), levels[1].BigBlind)
	assert.True(t, levels[2].IsBreak)

	// replacing drops the old rows
	_, err = app.SetSchedule(ctx, id, sampleLevels()[1:2])
	require.NoError(t, err)
	levels, err = app.Levels(ctx, id)
	require.NoError(t, err)
	assert.Len(t, levels, 1)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		levels []models.BlindLevel
		ok     bool
	}{
		{name: "valid", levels: Normalize(sampleLevels()), ok: true},
		{name: "empty", levels: nil},
		{name: "gap", levels: []models.BlindLevel{
			{Level: 1, SmallBlind: 25, BigBlind: 50, DurationMinutes: 20},
			{Level: 3, SmallBlind: 50, BigBlind: 100, DurationMinutes: 20},
		}},
		{name: "zero duration", levels: []models.BlindLevel{{Level: 1, SmallBlind: 25, BigBlind: 50}}},
		{name: "inverted blinds", levels: []models.BlindLevel{{Level: 1, SmallBlind: 100, BigBlind: 50, DurationMinutes: 5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.levels)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidSchedule)
			}
		})
	}
}

func TestSetScheduleRejectsInvalid(t *testing.T) {
	app := newTestApp(t)
	_, err := app.SetSchedule(context.Background(), uuid.New(), []models.BlindLevel{{Level: 2, DurationMinutes: 5}})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}
