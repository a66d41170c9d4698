package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/clients"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransportRoundTrip(t *testing.T) {
	changeID := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("/sync/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req models.SyncUploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ipad", req.OriginID)
		require.Len(t, req.Changes, 1)
		assert.Equal(t, changeID, req.Changes[0].ChangeID)
		_ = json.NewEncoder(w).Encode(models.SyncUploadResponse{Accepted: 1, Conflicts: []models.Conflict{}})
	})
	mux.HandleFunc("/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("since"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(models.SyncPullResponse{
			Changes:         []models.ChangeRecord{{ChangeID: changeID, ServerTimestamp: 43}},
			ServerTimestamp: 43,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL+"/", time.Second)
	ctx := context.Background()

	resp, err := tr.Upload(ctx, models.SyncUploadRequest{
		OriginID: "ipad",
		Changes:  []models.ChangeRecord{{ChangeID: changeID}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Accepted)

	page, err := tr.Pull(ctx, 42, 10)
	require.NoError(t, err)
	require.Len(t, page.Changes, 1)
	assert.EqualValues(t, 43, page.ServerTimestamp)
}

func TestHTTPTransportClassifiesErrors(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"code":"VALIDATION_ERROR","message":"changeId is required"}}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, time.Second)
	ctx := context.Background()

	_, err := tr.Upload(ctx, models.SyncUploadRequest{})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "VALIDATION_ERROR")
	var apiErr *clients.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	status = http.StatusServiceUnavailable
	_, err = tr.Pull(ctx, 0, 0)
	assert.ErrorIs(t, err, ErrServerUnreachable)

	srv.Close()
	_, err = tr.Pull(ctx, 0, 0)
	assert.ErrorIs(t, err, ErrServerUnreachable)
}

func TestHTTPTransportSendsClientHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "ipad", r.Header.Get("X-Origin-ID"))
		_ = json.NewEncoder(w).Encode(models.SyncPullResponse{Changes: []models.ChangeRecord{}})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, time.Second)
	tr.SetHeader("X-Origin-ID", "ipad")
	assert.Equal(t, srv.URL, tr.BaseURL())

	page, err := tr.Pull(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Changes)
}
