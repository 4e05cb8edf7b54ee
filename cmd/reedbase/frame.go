package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/reedbase/reedbase/pkg/reedbase"
)

func newFrameCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "frame", Short: "inspect multi-table atomic write frames"}
	cmd.AddCommand(newFrameListCmd(), newFrameStatusCmd(), newFrameRollbackCmd(), newFrameCleanupCmd())
	return cmd
}

func newFrameListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list committed frames, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				entries, err := db.FrameList()
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Printf("%d  frame=%d\n", e.Timestamp, e.FrameID)
				}
				return nil
			})
		},
	}
}

func newFrameStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show frames still open in this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				for _, f := range db.FrameStatus() {
					fmt.Printf("%d  %s  %s\n", f.ID, f.Name, f.Status)
				}
				return nil
			})
		},
	}
}

func newFrameRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <frame-id>",
		Short: "roll back every participant of an unresolved (crashed) frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return err
			}
			return withDB(func(db *reedbase.Database) error {
				participants, err := db.FrameRollbackCrashed(id)
				if err != nil {
					return err
				}
				for _, p := range participants {
					fmt.Printf("rolled back %s to base_ts=%d\n", p.Table, p.BaseTS)
				}
				return nil
			})
		},
	}
}

func newFrameCleanupCmd() *cobra.Command {
	var retentionDays int
	c := &cobra.Command{
		Use:   "cleanup",
		Short: "delete frame snapshots older than --retention-days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				n, err := db.FrameCleanup(retentionDays)
				if err != nil {
					return err
				}
				fmt.Printf("removed %d snapshot(s)\n", n)
				return nil
			})
		},
	}
	c.Flags().IntVar(&retentionDays, "retention-days", 30, "snapshots older than this many days are removed")
	return c
}
