package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/entity"
	"github.com/mcdev12/pokerclock/go/internal/syncclient"
)

var (
	syncWatch   bool
	syncPending bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync this device's local database with the server",
	Long: `Upload locally queued changes and pull everyone else's.

The local database is db.path; the server is syncclient.server_url. With
--watch the device keeps syncing every syncclient.interval until interrupted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sqlDB, err := database.OpenAndMigrate(cfg.Database())
		if err != nil {
			return fmt.Errorf("failed to open local database: %w", err)
		}
		defer sqlDB.Close()

		orch := syncclient.New(
			database.StaticProvider(sqlDB),
			syncclient.NewHTTPTransport(cfg.SyncClient.ServerURL, cfg.SyncClient.Timeout),
			entity.NewStore(),
			clockwork.NewRealClock(),
			syncclient.Config{
				OriginID:    deviceOrigin(cfg.SyncClient.OriginID),
				Interval:    cfg.SyncClient.Interval,
				BaseBackoff: cfg.SyncClient.BaseBackoff,
				MaxBackoff:  cfg.SyncClient.MaxBackoff,
			},
		)

		if syncPending {
			items, err := orch.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("Queue is empty")
				return nil
			}
			for _, it := range items {
				line := fmt.Sprintf("%s  %s %s/%s  retries %d",
					it.ChangeID, it.Change.Operation, it.Change.EntityType, it.Change.EntityID, it.RetryCount)
				if it.LastError != "" {
					line += "  " + color.RedString(it.LastError)
				}
				fmt.Println(line)
			}
			return nil
		}

		if syncWatch {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return orch.Run(ctx)
		}

		start := time.Now()
		result, err := orch.Sync(cmd.Context())
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		color.Green("✓ Sync complete in %v", time.Since(start).Round(time.Millisecond))
		fmt.Printf("Device:      %s\n", orch.OriginID())
		fmt.Printf("Uploaded:    %d\n", result.Uploaded)
		fmt.Printf("Downloaded:  %d\n", result.Downloaded)
		if n := len(result.Conflicts); n > 0 {
			color.Yellow("Conflicts:   %d", n)
			for _, c := range result.Conflicts {
				state := "open"
				if c.Resolved && c.Strategy != nil {
					state = string(*c.Strategy)
				}
				fmt.Printf("  %s %s/%s %s (%s)\n", c.ConflictID, c.EntityType, c.EntityID, c.ConflictType, state)
			}
		}
		for _, e := range result.Errors {
			fmt.Printf("%s %v\n", color.RedString("!"), e)
		}
		return nil
	},
}

// deviceOrigin keeps one identity per machine across runs when none is
// configured.
func deviceOrigin(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return "device-" + host
	}
	return ""
}

func init() {
	syncCmd.Flags().BoolVar(&syncWatch, "watch", false, "keep syncing on the configured interval")
	syncCmd.Flags().BoolVar(&syncPending, "pending", false, "list queued changes and exit")
}
