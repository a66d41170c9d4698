package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Validate or upload blind schedules",
}

var scheduleValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Parse a schedule file and print its levels",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		parsed, err := schedule.LoadFile(args[0])
		if err != nil {
			return err
		}
		if len(parsed.Default) > 0 {
			color.New(color.Bold).Println("default")
			printLevels(parsed.Default)
		}
		for _, id := range sortedIDs(parsed) {
			ts := parsed.Tournaments[id]
			color.New(color.Bold).Printf("%s  %s\n", id, ts.Name)
			printLevels(ts.Levels)
		}
		color.Green("✓ %s is valid", args[0])
		return nil
	},
}

var scheduleApplyCmd = &cobra.Command{
	Use:   "apply FILE",
	Short: "Store every tournament schedule of a file on the primary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parsed, err := schedule.LoadFile(args[0])
		if err != nil {
			return err
		}
		c := newNodeClient()
		var failed int
		for _, id := range sortedIDs(parsed) {
			if _, err := c.SetSchedule(cmd.Context(), id, parsed.Tournaments[id].Levels); err != nil {
				failed++
				fmt.Printf("%s %s: %v\n", color.RedString("✗"), id, err)
				continue
			}
			fmt.Printf("%s %s (%d levels)\n", color.GreenString("✓"), id, len(parsed.Tournaments[id].Levels))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d schedules not stored", failed, len(parsed.Tournaments))
		}
		return nil
	},
}

func init() {
	addClientFlags(scheduleApplyCmd)
	scheduleCmd.AddCommand(scheduleValidateCmd, scheduleApplyCmd)
}

func sortedIDs(parsed *schedule.ParsedFile) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(parsed.Tournaments))
	for id := range parsed.Tournaments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func printLevels(levels []models.BlindLevel) {
	for _, l := range levels {
		if l.IsBreak {
			fmt.Printf("  %2d  %s  %d min\n", l.Level, color.YellowString("break"), l.DurationMinutes)
			continue
		}
		fmt.Printf("  %2d  %d/%d ante %d  %d min\n", l.Level, l.SmallBlind, l.BigBlind, l.Ante, l.DurationMinutes)
	}
}
