package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/reedbase/reedbase/pkg/reedbase"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "backup", Short: "create and list full-root backups"}
	cmd.AddCommand(newBackupCreateCmd(), newBackupListCmd())
	return cmd
}

func newBackupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "archive the data root to backups/<ts>.tar.zst",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				path, err := db.BackupCreate()
				if err != nil {
					return err
				}
				fmt.Println(path)
				return nil
			})
		},
	}
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every backup timestamp, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				tss, err := db.BackupList()
				if err != nil {
					return err
				}
				for _, ts := range tss {
					fmt.Printf("%d  %s\n", ts, humanize.Time(time.Unix(ts, 0)))
				}
				return nil
			})
		},
	}
}
