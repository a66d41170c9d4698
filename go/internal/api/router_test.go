package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/conflict"
	"github.com/mcdev12/pokerclock/go/internal/failover"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/replication"
	"github.com/mcdev12/pokerclock/go/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimers struct {
	states  map[uuid.UUID]models.TimerState
	loaded  []uuid.UUID
	calls   []string
	nextErr error
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{states: map[uuid.UUID]models.TimerState{}}
}

func (f *fakeTimers) command(name string, id uuid.UUID, mutate func(*models.TimerState)) (models.TimerState, error) {
	f.calls = append(f.calls, name)
	if f.nextErr != nil {
		return models.TimerState{}, f.nextErr
	}
	s, ok := f.states[id]
	if !ok {
		return models.TimerState{}, timer.ErrTournamentNotFound
	}
	mutate(&s)
	f.states[id] = s
	return s, nil
}

func (f *fakeTimers) Start(_ context.Context, id uuid.UUID) (models.TimerState, error) {
	return f.command("start", id, func(s *models.TimerState) { s.IsRunning = true; s.Level = 1 })
}

func (f *fakeTimers) Pause(_ context.Context, id uuid.UUID) (models.TimerState, error) {
	return f.command("pause", id, func(s *models.TimerState) { s.IsPaused = true })
}

func (f *fakeTimers) Resume(_ context.Context, id uuid.UUID) (models.TimerState, error) {
	return f.command("resume", id, func(s *models.TimerState) { s.IsPaused = false })
}

func (f *fakeTimers) SetLevel(_ context.Context, id uuid.UUID, level int) (models.TimerState, error) {
	return f.command("level", id, func(s *models.TimerState) { s.Level = level })
}

func (f *fakeTimers) AdjustTime(_ context.Context, id uuid.UUID, ms int64) (models.TimerState, error) {
	return f.command("adjust", id, func(s *models.TimerState) {
		rem := s.Remaining() + ms
		s.RemainingTime = &rem
	})
}

func (f *fakeTimers) GetState(id uuid.UUID) (models.TimerState, error) {
	s, ok := f.states[id]
	if !ok {
		return models.TimerState{}, timer.ErrTournamentNotFound
	}
	return s, nil
}

func (f *fakeTimers) LoadOrRecover(_ context.Context, id uuid.UUID) (models.TimerState, error) {
	f.loaded = append(f.loaded, id)
	return models.TimerState{}, timer.ErrTournamentNotFound
}

type fakeFailover struct {
	primary bool
	err     error
}

func (f *fakeFailover) IsPrimary() bool { return f.primary }

func (f *fakeFailover) Status() models.HeartbeatStatus {
	role := models.RoleStandby
	if f.primary {
		role = models.RolePrimary
	}
	return models.HeartbeatStatus{Role: role, IsHealthy: true}
}

func (f *fakeFailover) Promote(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.primary = true
	return nil
}

func (f *fakeFailover) Demote(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.primary = false
	return nil
}

type fakeSync struct {
	uploads  []models.SyncUploadRequest
	since    int64
	limit    int
	resolved uuid.UUID
}

func (f *fakeSync) Upload(_ context.Context, req models.SyncUploadRequest) (*models.SyncUploadResponse, error) {
	f.uploads = append(f.uploads, req)
	return &models.SyncUploadResponse{Accepted: len(req.Changes)}, nil
}

func (f *fakeSync) Pull(_ context.Context, since int64, limit int) (*models.SyncPullResponse, error) {
	f.since, f.limit = since, limit
	return &models.SyncPullResponse{Changes: []models.ChangeRecord{}}, nil
}

func (f *fakeSync) ResolveConflict(_ context.Context, id uuid.UUID, strategy models.ResolutionStrategy, _ json.RawMessage) (*models.Conflict, *models.ResolutionResult, error) {
	if strategy == "" {
		return nil, nil, fmt.Errorf("%w: missing strategy", conflict.ErrValidation)
	}
	if id == uuid.Nil {
		return nil, nil, conflict.ErrConflictNotFound
	}
	f.resolved = id
	return &models.Conflict{ConflictID: id}, &models.ResolutionResult{ConflictID: id, Strategy: strategy}, nil
}

func (f *fakeSync) Conflicts(context.Context, bool, int) ([]models.Conflict, error) {
	return nil, nil
}

type fakeReplication struct {
	db []byte
}

func (f *fakeReplication) SnapshotInfo() (models.ReplicationSnapshot, error) {
	return models.ReplicationSnapshot{Exists: true, SizeBytes: int64(len(f.db))}, nil
}

func (f *fakeReplication) Open(part replication.Part) (io.ReadCloser, int64, error) {
	if part != replication.PartDB {
		return io.NopCloser(strings.NewReader("")), 0, nil
	}
	return io.NopCloser(bytes.NewReader(f.db)), int64(len(f.db)), nil
}

func (f *fakeReplication) TriggerCheckpoint(context.Context) error { return nil }

func (f *fakeReplication) CreateBackup(context.Context) (models.Backup, error) {
	return models.Backup{Name: "backup-1.db", CreatedAt: time.Unix(0, 0).UTC()}, nil
}

func (f *fakeReplication) ListBackups() ([]models.Backup, error) { return nil, nil }

type fixture struct {
	router   http.Handler
	timers   *fakeTimers
	failover *fakeFailover
	sync     *fakeSync
}

func newFixture(primary bool) *fixture {
	f := &fixture{
		timers:   newFakeTimers(),
		failover: &fakeFailover{primary: primary},
		sync:     &fakeSync{},
	}
	f.router = NewRouter(Dependencies{
		Timers:      f.timers,
		Replication: &fakeReplication{db: []byte("sqlite bytes")},
		Sync:        f.sync,
		Failover:    f.failover,
		Liveness: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestTimerCommands(t *testing.T) {
	f := newFixture(true)
	id := uuid.New()
	f.timers.states[id] = models.TimerState{}
	base := "/tournaments/" + id.String() + "/timer"

	rec := f.do(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state models.TimerState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.IsRunning)
	assert.Equal(t, 1, state.Level)

	rec = f.do(t, http.MethodPost, base+"/level", setLevelRequest{Level: 3})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, 3, state.Level)

	rec = f.do(t, http.MethodPost, base+"/adjust", adjustTimeRequest{DeltaMs: 60_000})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, int64(60_000), state.Remaining())

	rec = f.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"start", "level", "adjust"}, f.timers.calls)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not running", timer.ErrTimerNotRunning, http.StatusConflict, CodeTimerNotRunning},
		{"ended", timer.ErrTimerEnded, http.StatusConflict, CodeTimerEnded},
		{"invalid level", timer.ErrInvalidLevel, http.StatusBadRequest, CodeValidation},
		{"schedule", fmt.Errorf("wrapped: %w", timer.ErrScheduleUnavailable), http.StatusServiceUnavailable, CodeScheduleUnavailable},
		{"standby engine", timer.ErrNotPrimary, http.StatusServiceUnavailable, CodeNotPrimary},
		{"unexpected", fmt.Errorf("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(true)
			id := uuid.New()
			f.timers.states[id] = models.TimerState{}
			f.timers.nextErr = tt.err

			rec := f.do(t, http.MethodPost, "/tournaments/"+id.String()+"/timer/pause", nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "disk on fire")
			}
		})
	}
}

func TestUnknownTournamentTriesRecovery(t *testing.T) {
	f := newFixture(true)
	id := uuid.New()

	rec := f.do(t, http.MethodGet, "/tournaments/"+id.String()+"/timer", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeTournamentNotFound, errorCode(t, rec))
	assert.Equal(t, []uuid.UUID{id}, f.timers.loaded)
}

func TestValidationErrors(t *testing.T) {
	f := newFixture(true)

	rec := f.do(t, http.MethodPost, "/tournaments/not-a-uuid/timer/start", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, errorCode(t, rec))

	id := uuid.New()
	f.timers.states[id] = models.TimerState{}
	req := httptest.NewRequest(http.MethodPost, "/tournaments/"+id.String()+"/timer/level", strings.NewReader("{"))
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, CodeValidation, errorCode(t, res))

	rec = f.do(t, http.MethodGet, "/sync/pull?since=-4", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStandbyRejectsWrites(t *testing.T) {
	f := newFixture(false)
	id := uuid.New()
	f.timers.states[id] = models.TimerState{}

	for _, path := range []string{
		"/tournaments/" + id.String() + "/timer/start",
		"/sync/upload",
		"/replication/checkpoint",
	} {
		rec := f.do(t, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Equal(t, CodeNotPrimary, errorCode(t, rec), path)
	}
	assert.Empty(t, f.timers.calls)
	assert.Empty(t, f.sync.uploads)

	rec := f.do(t, http.MethodGet, "/tournaments/"+id.String()+"/timer", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// ledger reads stay available
	rec = f.do(t, http.MethodGet, "/sync/pull", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/admin/failover", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncRoutes(t *testing.T) {
	f := newFixture(true)

	upload := models.SyncUploadRequest{Changes: []models.ChangeRecord{{ChangeID: uuid.New()}}}
	rec := f.do(t, http.MethodPost, "/sync/upload", upload)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.SyncUploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Accepted)
	require.Len(t, f.sync.uploads, 1)

	rec = f.do(t, http.MethodGet, "/sync/pull?since=42&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), f.sync.since)
	assert.Equal(t, 10, f.sync.limit)

	cid := uuid.New()
	rec = f.do(t, http.MethodPost, "/sync/conflicts/"+cid.String()+"/resolve", resolveRequest{Strategy: models.StrategyClientWins})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, cid, f.sync.resolved)

	rec = f.do(t, http.MethodPost, "/sync/conflicts/"+uuid.Nil.String()+"/resolve", resolveRequest{Strategy: models.StrategyClientWins})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeConflictNotFound, errorCode(t, rec))

	rec = f.do(t, http.MethodGet, "/sync/conflicts?open=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conflicts":[]}`, rec.Body.String())
}

func TestReplicationDownload(t *testing.T) {
	f := newFixture(true)

	rec := f.do(t, http.MethodGet, "/replication/download/db", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sqlite bytes", rec.Body.String())
	assert.Equal(t, "12", rec.Header().Get("Content-Length"))

	rec = f.do(t, http.MethodGet, "/replication/download/journal", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/replication/backups", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAdminRoleChanges(t *testing.T) {
	f := newFixture(false)

	rec := f.do(t, http.MethodPost, "/admin/promote", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.failover.primary)

	f.failover.err = failover.ErrAlreadyPrimary
	rec = f.do(t, http.MethodPost, "/admin/promote", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeRoleChange, errorCode(t, rec))

	rec = f.do(t, http.MethodGet, "/admin/failover", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.HeartbeatStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.RolePrimary, status.Role)
}
