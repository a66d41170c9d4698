package conflict

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/dbconfig"
	"github.com/mcdev12/pokerclock/go/internal/entity"
	"github.com/mcdev12/pokerclock/go/internal/ledger"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db       database.Provider
	ledger   *ledger.Ledger
	store    *entity.Store
	detector *Detector
	resolver *Resolver
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sqlDB, err := database.OpenAndMigrate(dbconfig.Config{
		Path:          filepath.Join(t.TempDir(), "conflict.db"),
		BusyTimeoutMs: 1000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db := database.StaticProvider(sqlDB)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 2, 20, 0, 0, 0, time.UTC))
	l := ledger.New(db, clock)
	store := entity.NewStore()

	d := NewDetector(l, 5*time.Second, clock)
	v := NewReferenceValidator(db, store)
	for _, typ := range []string{models.EntityTournament, models.EntityPlayer, models.EntityBlindLevel} {
		d.Register(typ, v)
	}

	return &fixture{
		db:       db,
		ledger:   l,
		store:    store,
		detector: d,
		resolver: NewResolver(db, store, l, clock, MergePolicy{}),
		clock:    clock,
	}
}

func rec(entityID uuid.UUID, origin string, op models.Operation, payload string, localTS int64) models.ChangeRecord {
	var p json.RawMessage
	if payload != "" {
		p = json.RawMessage(payload)
	}
	return models.ChangeRecord{
		ChangeID:       uuid.New(),
		OriginID:       origin,
		EntityType:     models.EntityTournament,
		Operation:      op,
		EntityID:       entityID,
		Payload:        p,
		LocalTimestamp: localTS,
	}
}

// seed applies and ledgers change as the server would for a clean upload.
func (f *fixture) seed(t *testing.T, change models.ChangeRecord) {
	t.Helper()
	ctx := context.Background()
	version := change.Payload
	if change.Operation == models.OperationDelete {
		version = nil
	}
	require.NoError(t, f.store.Apply(ctx, f.db.DB(), change.EntityType, change.EntityID, version))
	_, err := f.ledger.Append(ctx, change)
	require.NoError(t, err)
}

func TestDetectNoHistoryIsClean(t *testing.T) {
	f := newFixture(t)
	c, err := f.detector.Detect(context.Background(), rec(uuid.New(), "ipad", models.OperationCreate, `{"name":"Main Event"}`, 1000))
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestDetectConcurrentEditIsSymmetric(t *testing.T) {
	base := int64(1_775_160_000_000)

	run := func(t *testing.T, first, second models.ChangeRecord) *models.Conflict {
		f := newFixture(t)
		f.seed(t, rec(first.EntityID, "director", models.OperationCreate, `{"name":"Main Event"}`, base-60_000))
		f.seed(t, first)
		c, err := f.detector.Detect(context.Background(), second)
		require.NoError(t, err)
		return c
	}

	id := uuid.New()
	local := rec(id, "ipad", models.OperationUpdate, `{"name":"A"}`, base)
	server := rec(id, "android", models.OperationUpdate, `{"name":"B"}`, base+2000)

	for name, c := range map[string]*models.Conflict{
		"local incoming":  run(t, server, local),
		"server incoming": run(t, local, server),
	} {
		require.NotNil(t, c, name)
		assert.Equal(t, models.ConflictConcurrentEdit, c.ConflictType, name)
		assert.Equal(t, models.OperationUpdate, c.ServerOperation, name)
	}
}

func TestDetectDisjointFieldsAreMergeable(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	f.seed(t, rec(id, "director", models.OperationCreate, `{"name":"Main Event"}`, 1000))
	f.seed(t, rec(id, "android", models.OperationUpdate, `{"buyIn":500}`, 5000))

	c, err := f.detector.Detect(context.Background(), rec(id, "ipad", models.OperationUpdate, `{"name":"Turbo"}`, 6000))
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestDetectOutsideWindow(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	f.seed(t, rec(id, "director", models.OperationCreate, `{"name":"Main Event"}`, 1000))
	f.seed(t, rec(id, "android", models.OperationUpdate, `{"name":"B"}`, 10_000))

	c, err := f.detector.Detect(context.Background(), rec(id, "ipad", models.OperationUpdate, `{"name":"A"}`, 15_001))
	require.NoError(t, err)
	assert.Nil(t, c)

	// sequential edits from one device are never concurrent
	c, err = f.detector.Detect(context.Background(), rec(id, "android", models.OperationUpdate, `{"name":"C"}`, 10_500))
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestDetectDeleteConflictIgnoresWindow(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	f.seed(t, rec(id, "director", models.OperationCreate, `{"name":"Main Event"}`, 1000))
	f.seed(t, rec(id, "android", models.OperationDelete, "", 2000))

	c, err := f.detector.Detect(context.Background(), rec(id, "ipad", models.OperationUpdate, `{"name":"A"}`, 9_000_000))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, models.ConflictDeleteConflict, c.ConflictType)

	// both sides deleting is not a conflict
	c, err = f.detector.Detect(context.Background(), rec(id, "ipad", models.OperationDelete, "", 3000))
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestDetectValidationBeforeTimestamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	player := models.ChangeRecord{
		ChangeID:       uuid.New(),
		OriginID:       "ipad",
		EntityType:     models.EntityPlayer,
		Operation:      models.OperationCreate,
		EntityID:       uuid.New(),
		Payload:        json.RawMessage(`{"tournamentId":"` + uuid.NewString() + `","name":"Ana"}`),
		LocalTimestamp: 1000,
	}
	c, err := f.detector.Detect(ctx, player)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, models.ConflictValidationError, c.ConflictType)
	assert.Contains(t, c.Reason, "does not exist")

	timer := rec(uuid.New(), "ipad", models.OperationUpdate, `{"level":3}`, 1000)
	timer.EntityType = models.EntityTimerState
	c, err = f.detector.Detect(ctx, timer)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, models.ConflictValidationError, c.ConflictType)
}

func TestDetectReplayedChangeIsClean(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	f.seed(t, rec(id, "director", models.OperationCreate, `{"name":"Main Event"}`, 1000))
	change := rec(id, "android", models.OperationUpdate, `{"name":"B"}`, 2000)
	f.seed(t, change)

	c, err := f.detector.Detect(context.Background(), change)
	require.NoError(t, err)
	assert.Nil(t, c)
}
