package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mcdev12/pokerclock/go/internal/models"
)

// DefaultFetchTimeout bounds each request to the primary.
const DefaultFetchTimeout = 3 * time.Second

// Client talks to the primary's replication and health endpoints. Every
// failure, including timeouts and non-200 answers, wraps
// ErrReplicationUnreachable.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewClient creates a client for the primary at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
		timeout: timeout,
	}
}

// BaseURL returns the primary's address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Snapshot fetches the primary's artifact description.
func (c *Client) Snapshot(ctx context.Context) (models.ReplicationSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.get(ctx, "/replication/snapshot")
	if err != nil {
		return models.ReplicationSnapshot{}, err
	}
	defer resp.Body.Close()

	var snap models.ReplicationSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return models.ReplicationSnapshot{}, fmt.Errorf("%w: bad snapshot body: %v", ErrReplicationUnreachable, err)
	}
	return snap, nil
}

// Download streams one part into w. The timeout covers the whole transfer.
func (c *Client) Download(ctx context.Context, part Part, w io.Writer) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.get(ctx, "/replication/download/"+string(part))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("%w: download %s interrupted: %v", ErrReplicationUnreachable, part, err)
	}
	return n, nil
}

// Health probes the primary's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.get(ctx, "/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReplicationUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %d", ErrReplicationUnreachable, path, resp.StatusCode)
	}
	return resp, nil
}
