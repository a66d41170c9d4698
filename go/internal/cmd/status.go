package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mcdev12/pokerclock/go/internal/health"
	"github.com/mcdev12/pokerclock/go/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a node's role, heartbeat and health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := newNodeClient().Health(cmd.Context())
		if err != nil {
			return err
		}
		printStatus(st)
		return nil
	},
}

func init() {
	addClientFlags(statusCmd)
}

func printStatus(st health.HealthStatus) {
	bold := color.New(color.Bold)
	good := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()

	bold.Printf("Node %s\n", st.NodeID)

	role := string(st.Role)
	if st.Role == models.RolePrimary {
		role = good(role)
	} else {
		role = warn(role)
	}
	fmt.Printf("  Role:              %s\n", role)

	if st.Healthy {
		fmt.Printf("  Healthy:           %s\n", good("yes"))
	} else {
		fmt.Printf("  Healthy:           %s\n", bad("no"))
	}
	fmt.Printf("  Database:          %s\n", yesNo(st.DatabaseConnected, good, bad))

	hb := st.Heartbeat
	if hb.LastHeartbeat != nil {
		fmt.Printf("  Last heartbeat:    %s ago\n", time.Since(*hb.LastHeartbeat).Round(time.Millisecond))
	} else {
		fmt.Printf("  Last heartbeat:    %s\n", warn("never"))
	}
	if hb.ConsecutiveFailures > 0 {
		fmt.Printf("  Missed heartbeats: %s\n", bad(hb.ConsecutiveFailures))
	}
	if hb.HasFailedOver && hb.FailoverTime != nil {
		fmt.Printf("  Failed over at:    %s\n", warn(hb.FailoverTime.Local().Format(time.RFC3339)))
	}

	if st.NATSConnected != nil {
		fmt.Printf("  NATS:              %s\n", yesNo(*st.NATSConnected, good, bad))
	}
	if st.RelayActive != nil {
		fmt.Printf("  Outbox relay:      %s\n", yesNo(*st.RelayActive, good, warn))
	}
	fmt.Printf("  Pending events:    %d\n", st.PendingEvents)
	fmt.Printf("  Events relayed:    %d\n", st.EventsProcessed)

	for _, e := range st.Errors {
		fmt.Printf("  %s %s\n", bad("!"), e)
	}
}

func yesNo(ok bool, yes, no func(a ...interface{}) string) string {
	if ok {
		return yes("yes")
	}
	return no("no")
}
