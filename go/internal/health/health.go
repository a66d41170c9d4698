package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// pendingWarnThreshold is the outbox backlog reported as an error without
// marking the node unhealthy.
const pendingWarnThreshold = 1000

type HealthStatus struct {
	Healthy           bool                   `json:"healthy"`
	NodeID            string                 `json:"nodeId"`
	Role              models.Role            `json:"role"`
	Heartbeat         models.HeartbeatStatus `json:"heartbeat"`
	DatabaseConnected bool                   `json:"databaseConnected"`
	NATSConnected     *bool                  `json:"natsConnected,omitempty"`
	RelayActive       *bool                  `json:"relayActive,omitempty"`
	PendingEvents     int                    `json:"pendingEvents"`
	EventsProcessed   uint64                 `json:"eventsProcessed"`
	LastEventTime     *time.Time             `json:"lastEventTime,omitempty"`
	CheckedAt         time.Time              `json:"checkedAt"`
	Errors            []string               `json:"errors"`
}

type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// RoleSource is the failover coordinator's view of this node.
type RoleSource interface {
	Role() models.Role
	Status() models.HeartbeatStatus
}

// Connector reports whether the event bus connection is up.
type Connector interface {
	Connected() bool
}

// Backlog counts unsent outbox rows.
type Backlog interface {
	CountPending(ctx context.Context) (int, error)
}

// Relay is the outbox worker.
type Relay interface {
	Running() bool
	Stats() (uint64, time.Time)
}

// Dependencies of a Checker. Bus, Backlog and Relay are nil when event
// publishing is disabled.
type Dependencies struct {
	DB      database.Provider
	Role    RoleSource
	Bus     Connector
	Backlog Backlog
	Relay   Relay
	Clock   clockwork.Clock
}

type Checker struct {
	nodeID    string
	deps      Dependencies
	threshold time.Duration
}

// NewChecker creates a checker. threshold is how long pending events may go
// unrelayed on a primary before it reports unhealthy.
func NewChecker(nodeID string, deps Dependencies, threshold time.Duration) *Checker {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if threshold <= 0 {
		threshold = time.Minute
	}
	return &Checker{nodeID: nodeID, deps: deps, threshold: threshold}
}

// Alive is the liveness probe the standby polls: the node can read its
// database.
func (h *Checker) Alive(ctx context.Context) error {
	db := h.deps.DB.DB()
	if db == nil {
		return database.ErrHandleClosed
	}
	return db.PingContext(ctx)
}

func (h *Checker) Check(ctx context.Context) HealthStatus {
	now := h.deps.Clock.Now()
	status := HealthStatus{
		Healthy:   true,
		NodeID:    h.nodeID,
		CheckedAt: now,
		Errors:    []string{},
	}

	if h.deps.Role != nil {
		status.Role = h.deps.Role.Role()
		status.Heartbeat = h.deps.Role.Status()
		if status.Role == models.RoleStandby && !status.Heartbeat.IsHealthy && status.Heartbeat.ConsecutiveFailures > 0 {
			status.Errors = append(status.Errors, fmt.Sprintf("primary unreachable (%d consecutive failures)", status.Heartbeat.ConsecutiveFailures))
		}
	}

	if err := h.Alive(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
	} else {
		status.DatabaseConnected = true
	}

	if h.deps.Bus != nil {
		connected := h.deps.Bus.Connected()
		status.NATSConnected = &connected
		if !connected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if h.deps.Relay != nil {
		running := h.deps.Relay.Running()
		status.RelayActive = &running
		processed, last := h.deps.Relay.Stats()
		status.EventsProcessed = processed
		if !last.IsZero() {
			status.LastEventTime = &last
		}
		if !running {
			status.Healthy = false
			status.Errors = append(status.Errors, "outbox relay not running")
		}
	}

	if h.deps.Backlog != nil && status.DatabaseConnected {
		pending, err := h.deps.Backlog.CountPending(ctx)
		if err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("failed to count pending events: %v", err))
		} else {
			status.PendingEvents = pending
			if pending > pendingWarnThreshold {
				status.Errors = append(status.Errors, fmt.Sprintf("high pending event count: %d", pending))
			}
		}
	}

	// only the primary relays, so a stalled backlog matters there
	if status.Role == models.RolePrimary && status.PendingEvents > 0 && status.LastEventTime != nil {
		if since := now.Sub(*status.LastEventTime); since > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no events relayed for %s", since.Round(time.Second)))
		}
	}

	return status
}

// LivenessHandler serves /health.
func (h *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		body := map[string]any{"status": "ok", "nodeId": h.nodeID}
		if h.deps.Role != nil {
			body["role"] = h.deps.Role.Role()
		}
		code := http.StatusOK
		if err := h.Alive(ctx); err != nil {
			body["status"] = "unavailable"
			body["error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, body)
	}
}

// ServeHTTP serves /health/detail.
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("failed to write health response")
	}
}
