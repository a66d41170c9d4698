package syncapi

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/conflict"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/dbconfig"
	"github.com/mcdev12/pokerclock/go/internal/entity"
	"github.com/mcdev12/pokerclock/go/internal/ledger"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     database.Provider
	store  *entity.Store
	ledger *ledger.Ledger
	svc    *Service
	clock  *clockwork.FakeClock
}

func newFixture(t *testing.T, strategy models.ResolutionStrategy) *fixture {
	t.Helper()
	sqlDB, err := database.OpenAndMigrate(dbconfig.Config{
		Path:          filepath.Join(t.TempDir(), "sync.db"),
		BusyTimeoutMs: 1000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db := database.StaticProvider(sqlDB)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 12, 19, 0, 0, 0, time.UTC))
	l := ledger.New(db, clock)
	store := entity.NewStore()
	detector := conflict.NewDetector(l, 5*time.Second, clock)
	v := conflict.NewReferenceValidator(db, store)
	for _, typ := range []string{models.EntityTournament, models.EntityPlayer, models.EntityBlindLevel} {
		detector.Register(typ, v)
	}
	resolver := conflict.NewResolver(db, store, l, clock, conflict.MergePolicy{})

	return &fixture{
		db:     db,
		store:  store,
		ledger: l,
		svc:    NewService(db, l, store, detector, resolver, nil, Config{DefaultStrategy: strategy, PullBatchSize: 2}),
		clock:  clock,
	}
}

func tournamentChange(id uuid.UUID, origin string, op models.Operation, payload string, localTS int64) models.ChangeRecord {
	var p json.RawMessage
	if payload != "" {
		p = json.RawMessage(payload)
	}
	return models.ChangeRecord{
		ChangeID:       uuid.New(),
		OriginID:       origin,
		EntityType:     models.EntityTournament,
		Operation:      op,
		EntityID:       id,
		Payload:        p,
		LocalTimestamp: localTS,
	}
}

func (f *fixture) upload(t *testing.T, origin string, changes ...models.ChangeRecord) *models.SyncUploadResponse {
	t.Helper()
	resp, err := f.svc.Upload(context.Background(), models.SyncUploadRequest{OriginID: origin, Changes: changes})
	require.NoError(t, err)
	return resp
}

func (f *fixture) name(t *testing.T, id uuid.UUID) string {
	t.Helper()
	version, err := f.store.Get(context.Background(), f.db.DB(), models.EntityTournament, id)
	require.NoError(t, err)
	require.NotNil(t, version)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(version, &fields))
	return fields["name"].(string)
}

func TestUploadCleanChangesAreApplied(t *testing.T) {
	f := newFixture(t, models.StrategyServerWins)
	id := uuid.New()
	create := tournamentChange(id, "", models.OperationCreate, `{"name":"Main Event","buyIn":200}`, 1000)

	resp := f.upload(t, "ipad-1", create)
	assert.Equal(t, 1, resp.Accepted)
	assert.Empty(t, resp.Conflicts)
	assert.Equal(t, "Main Event", f.name(t, id))

	stored, err := f.ledger.Get(context.Background(), create.ChangeID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "ipad-1", stored.OriginID, "origin falls back to the request")

	// the same change again is accepted without a second ledger row
	resp = f.upload(t, "ipad-1", create)
	assert.Equal(t, 1, resp.Accepted)
	changes, err := f.ledger.ChangesSince(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestUploadConcurrentEditServerWins(t *testing.T) {
	f := newFixture(t, models.StrategyServerWins)
	id := uuid.New()
	base := f.clock.Now().UnixMilli()
	f.upload(t, "director", tournamentChange(id, "director", models.OperationCreate, `{"name":"Main Event"}`, base-60_000))
	f.upload(t, "android", tournamentChange(id, "android", models.OperationUpdate, `{"name":"B"}`, base))

	local := tournamentChange(id, "ipad", models.OperationUpdate, `{"name":"A"}`, base+1000)
	resp := f.upload(t, "ipad", local)
	assert.Zero(t, resp.Accepted)
	require.Len(t, resp.Conflicts, 1)
	c := resp.Conflicts[0]
	assert.Equal(t, models.ConflictConcurrentEdit, c.ConflictType)
	assert.True(t, c.Resolved)
	require.NotNil(t, c.Strategy)
	assert.Equal(t, models.StrategyServerWins, *c.Strategy)
	assert.Equal(t, "B", f.name(t, id))

	// a re-upload of the resolved change is acknowledged
	resp = f.upload(t, "ipad", local)
	assert.Equal(t, 1, resp.Accepted)
	assert.Empty(t, resp.Conflicts)
}

func TestUploadManualLeavesConflictOpen(t *testing.T) {
	f := newFixture(t, models.StrategyManual)
	ctx := context.Background()
	id := uuid.New()
	base := f.clock.Now().UnixMilli()
	f.upload(t, "director", tournamentChange(id, "director", models.OperationCreate, `{"name":"Main Event"}`, base-60_000))
	f.upload(t, "android", tournamentChange(id, "android", models.OperationUpdate, `{"name":"B"}`, base))

	local := tournamentChange(id, "ipad", models.OperationUpdate, `{"name":"A"}`, base+1000)
	resp := f.upload(t, "ipad", local)
	require.Len(t, resp.Conflicts, 1)
	open := resp.Conflicts[0]
	assert.False(t, open.Resolved)

	// retried before an operator acts: same conflict, no duplicate
	resp = f.upload(t, "ipad", local)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, open.ConflictID, resp.Conflicts[0].ConflictID)
	list, err := f.svc.Conflicts(ctx, true, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	resolved, res, err := f.svc.ResolveConflict(ctx, open.ConflictID, models.StrategyManual, json.RawMessage(`{"name":"A/B"}`))
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.False(t, res.Replayed)
	assert.Equal(t, "A/B", f.name(t, id))

	resp = f.upload(t, "ipad", local)
	assert.Equal(t, 1, resp.Accepted)
}

func TestUploadValidationErrorStaysOpenUnderClientWins(t *testing.T) {
	f := newFixture(t, models.StrategyClientWins)
	player := models.ChangeRecord{
		ChangeID:   uuid.New(),
		OriginID:   "ipad",
		EntityType: models.EntityPlayer,
		Operation:  models.OperationCreate,
		EntityID:   uuid.New(),
		Payload:    json.RawMessage(`{"name":"Ada","tournamentId":"` + uuid.NewString() + `"}`),
	}

	resp := f.upload(t, "ipad", player)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, models.ConflictValidationError, resp.Conflicts[0].ConflictType)
	assert.False(t, resp.Conflicts[0].Resolved)
}

func TestUploadRejectsMissingChangeID(t *testing.T) {
	f := newFixture(t, models.StrategyServerWins)
	_, err := f.svc.Upload(context.Background(), models.SyncUploadRequest{
		OriginID: "ipad",
		Changes:  []models.ChangeRecord{{EntityType: models.EntityTournament, Operation: models.OperationCreate}},
	})
	assert.ErrorIs(t, err, conflict.ErrValidation)
}

func TestPullPagesThroughLedger(t *testing.T) {
	f := newFixture(t, models.StrategyServerWins)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.upload(t, "director", tournamentChange(uuid.New(), "director", models.OperationCreate, `{"name":"Event"}`, 0))
		f.clock.Advance(time.Millisecond)
	}

	first, err := f.svc.Pull(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, first.Changes, 2, "capped by the batch size")
	assert.Equal(t, first.Changes[1].ServerTimestamp, first.ServerTimestamp)

	second, err := f.svc.Pull(ctx, first.ServerTimestamp, 0)
	require.NoError(t, err)
	require.Len(t, second.Changes, 1)

	last, err := f.svc.Pull(ctx, second.ServerTimestamp, 0)
	require.NoError(t, err)
	assert.Empty(t, last.Changes)
	assert.Equal(t, second.ServerTimestamp, last.ServerTimestamp)
}
