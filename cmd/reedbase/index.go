package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reedbase/reedbase/pkg/reedbase"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "index", Short: "manage secondary indices"}
	cmd.AddCommand(newIndexBuildCmd(), newIndexListCmd(), newIndexRebuildCmd(), newIndexMigrateCmd())
	return cmd
}

func newIndexBuildCmd() *cobra.Command {
	var backend string
	c := &cobra.Command{
		Use:   "build <table> <column>",
		Short: "create and populate a secondary index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				return db.CreateIndex(args[0], args[1], backend)
			})
		},
	}
	c.Flags().StringVar(&backend, "backend", "", "hash|btree (default: configured default backend)")
	return c
}

func newIndexListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every secondary index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				metas, err := db.ListIndices()
				if err != nil {
					return err
				}
				for _, m := range metas {
					fmt.Printf("%s.%s  backend=%s\n", m.Table, m.Column, m.Backend)
				}
				return nil
			})
		},
	}
}

func newIndexRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <table> <column>",
		Short: "drop and repopulate an index on its current backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				return db.RebuildIndex(args[0], args[1])
			})
		},
	}
}

func newIndexMigrateCmd() *cobra.Command {
	var backend string
	c := &cobra.Command{
		Use:   "migrate <table> <column>",
		Short: "rebuild an index on a different backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				return db.MigrateIndex(args[0], args[1], backend)
			})
		},
	}
	c.Flags().StringVar(&backend, "backend", "", "btree|hash")
	c.MarkFlagRequired("backend")
	return c
}
