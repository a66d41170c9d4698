package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	envFile string
	logJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "pokerclock",
	Short: "Replicated tournament clock",
	Long: `pokerclock runs the authoritative tournament clock.

A primary serves timer commands, the change ledger and its SQLite WAL to a
standby. The standby follows the primary's database and takes over when the
primary stops answering its health probe. Devices sync their local edits
through the same server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", ".env file to load (default .env)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log JSON instead of console output")

	rootCmd.AddCommand(
		serveCmd,
		syncCmd,
		statusCmd,
		backupCmd,
		promoteCmd,
		demoteCmd,
		scheduleCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
