package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/health"
	"github.com/mcdev12/pokerclock/go/internal/models"
)

// NodeClient is the operator's view of a running pokerclock node.
type NodeClient struct {
	*BaseClient
}

func NewNodeClient(baseURL string) *NodeClient {
	return &NodeClient{BaseClient: NewBaseClient(baseURL)}
}

// Health returns the node's detailed status. An unhealthy node answers 503
// with the same body.
func (c *NodeClient) Health(ctx context.Context) (health.HealthStatus, error) {
	var st health.HealthStatus
	_, err := c.MakeRequest(ctx, http.MethodGet, "/health/detail", nil, &st, http.StatusServiceUnavailable)
	return st, err
}

func (c *NodeClient) Backups(ctx context.Context) ([]models.Backup, error) {
	var resp struct {
		Backups []models.Backup `json:"backups"`
	}
	err := c.Get(ctx, "/replication/backups", &resp)
	return resp.Backups, err
}

func (c *NodeClient) CreateBackup(ctx context.Context) (models.Backup, error) {
	var b models.Backup
	err := c.Post(ctx, "/replication/backups", nil, &b)
	return b, err
}

func (c *NodeClient) Promote(ctx context.Context) (models.HeartbeatStatus, error) {
	var st models.HeartbeatStatus
	err := c.Post(ctx, "/admin/promote", nil, &st)
	return st, err
}

func (c *NodeClient) Demote(ctx context.Context) (models.HeartbeatStatus, error) {
	var st models.HeartbeatStatus
	err := c.Post(ctx, "/admin/demote", nil, &st)
	return st, err
}

// SetSchedule replaces a tournament's blind schedule on the primary.
func (c *NodeClient) SetSchedule(ctx context.Context, tournamentID uuid.UUID, levels []models.BlindLevel) ([]models.BlindLevel, error) {
	var resp struct {
		Levels []models.BlindLevel `json:"levels"`
	}
	err := c.Put(ctx, "/tournaments/"+tournamentID.String()+"/schedule", map[string]any{"levels": levels}, &resp)
	return resp.Levels, err
}
