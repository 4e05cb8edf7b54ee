package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/reedbase/reedbase/pkg/reedbase"
)

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "restore", Short: "restore tables to an earlier point in time"}
	cmd.AddCommand(newRestorePointInTimeCmd())
	return cmd
}

func newRestorePointInTimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "point-in-time <timestamp>",
		Short: "roll every table forward to its newest version at or before timestamp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			return withDB(func(db *reedbase.Database) error {
				restores, err := db.RestorePointInTime(ts)
				if err != nil {
					return err
				}
				for _, r := range restores {
					switch {
					case r.Skipped:
						fmt.Printf("%s: skipped (no version at or before ts)\n", r.Table)
					case r.Rolled:
						fmt.Printf("%s: rolled to version ts=%d\n", r.Table, r.ToVersion)
					default:
						fmt.Printf("%s: already at version ts=%d\n", r.Table, r.ToVersion)
					}
				}
				return nil
			})
		},
	}
}
