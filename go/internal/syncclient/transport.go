package syncclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mcdev12/pokerclock/go/clients"
	"github.com/mcdev12/pokerclock/go/internal/models"
)

// Transport carries sync requests to the server.
type Transport interface {
	Upload(ctx context.Context, req models.SyncUploadRequest) (*models.SyncUploadResponse, error)
	Pull(ctx context.Context, since int64, limit int) (*models.SyncPullResponse, error)
}

// HTTPTransport talks to the server's /sync endpoints.
type HTTPTransport struct {
	*clients.BaseClient
}

// NewHTTPTransport creates a transport with a per-request timeout.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := clients.NewBaseClient(baseURL)
	base.SetTimeout(timeout)
	return &HTTPTransport{BaseClient: base}
}

func (t *HTTPTransport) Upload(ctx context.Context, req models.SyncUploadRequest) (*models.SyncUploadResponse, error) {
	var out models.SyncUploadResponse
	if _, err := t.MakeRequest(ctx, http.MethodPost, "/sync/upload", req, &out); err != nil {
		return nil, classify("/sync/upload", err)
	}
	return &out, nil
}

func (t *HTTPTransport) Pull(ctx context.Context, since int64, limit int) (*models.SyncPullResponse, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out models.SyncPullResponse
	if _, err := t.MakeRequest(ctx, http.MethodGet, "/sync/pull?"+q.Encode(), nil, &out); err != nil {
		return nil, classify("/sync/pull", err)
	}
	return &out, nil
}

// classify maps a client error onto the sync errors. Server errors and
// network failures are unreachable; other statuses are rejections.
func classify(endpoint string, err error) error {
	var apiErr *clients.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s returned %d: %w", ErrServerUnreachable, endpoint, apiErr.StatusCode, err)
		}
		return fmt.Errorf("%w: %s returned %d: %w", ErrRejected, endpoint, apiErr.StatusCode, err)
	}
	return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
}
