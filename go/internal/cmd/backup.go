package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var backupList bool

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a database backup on the primary, or list existing ones",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := newNodeClient()
		if backupList {
			backups, err := c.Backups(cmd.Context())
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				fmt.Println("No backups")
				return nil
			}
			for _, b := range backups {
				fmt.Printf("%s  %s  %s\n",
					color.CyanString(b.CreatedAt.Local().Format("2006-01-02 15:04:05")),
					humanBytes(b.SizeBytes),
					b.Name)
			}
			return nil
		}

		b, err := c.CreateBackup(cmd.Context())
		if err != nil {
			return err
		}
		color.Green("✓ Backup created: %s (%s)", b.Name, humanBytes(b.SizeBytes))
		return nil
	},
}

func init() {
	addClientFlags(backupCmd)
	backupCmd.Flags().BoolVar(&backupList, "list", false, "list backups instead of creating one")
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
