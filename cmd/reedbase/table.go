package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reedbase/reedbase/pkg/reedbase"
)

func newTableCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "table", Short: "manage tables"}
	cmd.AddCommand(newTableListCmd(), newTableInitCmd(), newTableDropCmd())
	return cmd
}

func newTableListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				names, err := db.ListTables()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Println(n)
				}
				return nil
			})
		},
	}
}

func newTableInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <name>",
		Short: "create an empty table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				return db.CreateTable(args[0])
			})
		},
	}
}

func newTableDropCmd() *cobra.Command {
	var confirm bool
	c := &cobra.Command{
		Use:   "drop <name>",
		Short: "drop a table (destructive, requires --confirm)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				return db.DropTable(args[0], confirm)
			})
		},
	}
	c.Flags().BoolVar(&confirm, "confirm", false, "confirm the destructive drop")
	return c
}
