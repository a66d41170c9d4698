package models

import "time"

// Role is the replication role of a server process.
type Role string

const (
	RolePrimary Role = "primary"
	RoleStandby Role = "standby"
)

// HeartbeatStatus is owned by the failover coordinator.
type HeartbeatStatus struct {
	Role                Role       `json:"role"`
	IsHealthy           bool       `json:"isHealthy"`
	LastHeartbeat       *time.Time `json:"lastHeartbeat"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	HasFailedOver       bool       `json:"hasFailedOver"`
	FailoverTime        *time.Time `json:"failoverTime"`
}

// FailoverEventType enumerates coordinator notifications.
type FailoverEventType string

const (
	FailoverHeartbeatSent     FailoverEventType = "heartbeat_sent"
	FailoverHeartbeatReceived FailoverEventType = "heartbeat_received"
	FailoverFailureDetected   FailoverEventType = "failure_detected"
	FailoverTriggered         FailoverEventType = "failover_triggered"
	FailoverPrimaryRecovered  FailoverEventType = "primary_recovered"
)

// FailoverEvent is emitted to coordinator subscribers.
type FailoverEvent struct {
	Type                FailoverEventType `json:"type"`
	At                  time.Time         `json:"at"`
	Role                Role              `json:"role"`
	ConsecutiveFailures int               `json:"consecutiveFailures"`
	Error               string            `json:"error,omitempty"`
}
