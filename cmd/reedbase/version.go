package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/reedbase/reedbase/pkg/reedbase"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "version", Short: "inspect and rewind a table's version history"}
	cmd.AddCommand(newVersionListCmd(), newVersionRollbackCmd(), newVersionDiffCmd())
	return cmd
}

func newVersionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <table>",
		Short: "list every version, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				entries, err := db.VersionList(args[0])
				if err != nil {
					return err
				}
				for _, e := range entries {
					age := humanize.Time(time.Unix(e.Timestamp, 0))
					fmt.Printf("%d  %s  rows=%d  size=%s  %s\n", e.Timestamp, e.ContentHash, e.Rows, humanize.Bytes(uint64(e.Size)), age)
				}
				return nil
			})
		},
	}
}

func newVersionRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <table> <timestamp>",
		Short: "roll a table back to the version at or before timestamp, as a new version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return err
			}
			return withDB(func(db *reedbase.Database) error {
				res, err := db.VersionRollback(args[0], ts)
				if err != nil {
					return err
				}
				fmt.Printf("rolled back %s to ts=%d, new version ts=%d rows=%d\n", args[0], ts, res.Timestamp, res.Rows)
				return nil
			})
		},
	}
}

func newVersionDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <table> <ts-a> <ts-b>",
		Short: "compare the versions nearest two timestamps",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			tsA, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return err
			}
			tsB, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return err
			}
			return withDB(func(db *reedbase.Database) error {
				a, b, err := db.VersionDiff(args[0], tsA, tsB)
				if err != nil {
					return err
				}
				fmt.Printf("a: ts=%d hash=%s rows=%d\n", a.Timestamp, a.ContentHash, a.Rows)
				fmt.Printf("b: ts=%d hash=%s rows=%d\n", b.Timestamp, b.ContentHash, b.Rows)
				if a.ContentHash == b.ContentHash {
					fmt.Println("identical content")
				}
				return nil
			})
		},
	}
}
