package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, h http.HandlerFunc) *NodeClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewNodeClient(srv.URL + "/")
}

func TestErrorEnvelopeDecoded(t *testing.T) {
	c := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_PRIMARY","message":"node is standby"}}`))
	})

	_, err := c.Promote(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "NOT_PRIMARY", apiErr.Code)
	assert.Equal(t, "NOT_PRIMARY: node is standby", err.Error())
}

func TestHealthDecodesUnhealthyBody(t *testing.T) {
	c := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/detail", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"nodeId":"n1","healthy":false,"databaseConnected":false}`))
	})

	st, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Healthy)
}

func TestBackups(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/replication/backups", r.URL.Path)
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(models.Backup{Name: "b1.db", SizeBytes: 4096, CreatedAt: created})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"backups": []models.Backup{{Name: "b0.db"}}})
	})

	list, err := c.Backups(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b0.db", list[0].Name)

	b, err := c.CreateBackup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b1.db", b.Name)
	assert.Equal(t, int64(4096), b.SizeBytes)
}

func TestSetScheduleSendsLevels(t *testing.T) {
	id := uuid.New()
	levels := []models.BlindLevel{{Level: 1, SmallBlind: 25, BigBlind: 50, DurationMinutes: 20}}

	c := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tournaments/"+id.String()+"/schedule", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Levels []models.BlindLevel `json:"levels"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(body)
	})

	got, err := c.SetSchedule(context.Background(), id, levels)
	require.NoError(t, err)
	assert.Equal(t, levels, got)
}
