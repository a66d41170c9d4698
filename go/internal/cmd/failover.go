package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Force a standby to take over as primary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := newNodeClient().Promote(cmd.Context())
		if err != nil {
			return err
		}
		color.Green("✓ Node is now %s", st.Role)
		return nil
	},
}

var demoteCmd = &cobra.Command{
	Use:   "demote",
	Short: "Return a promoted node to standby",
	Long: `Return a promoted node to standby.

Run this on the node that took over once the original primary is back and
serving. The node stops its clocks and resumes following the primary.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := newNodeClient().Demote(cmd.Context())
		if err != nil {
			return err
		}
		color.Yellow("Node is now %s", st.Role)
		return nil
	},
}

func init() {
	addClientFlags(promoteCmd)
	addClientFlags(demoteCmd)
}
