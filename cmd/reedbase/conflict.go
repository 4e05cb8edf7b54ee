package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reedbase/reedbase/pkg/reedbase"
)

func newConflictCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "conflict", Short: "inspect and resolve manual-policy merge conflicts"}
	cmd.AddCommand(newConflictListCmd(), newConflictShowCmd(), newConflictResolveCmd())
	return cmd
}

func newConflictListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <table>",
		Short: "list pending conflict files for a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				paths, err := db.ConflictList(args[0])
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Println(p)
				}
				return nil
			})
		},
	}
}

func newConflictShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <path>",
		Short: "print one conflict file's base and both sides",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				doc, err := db.ConflictShow(args[0])
				if err != nil {
					return err
				}
				fmt.Printf("key=%s table=%s ts=%d\n", doc.Conflict.Key, doc.Conflict.Table, doc.Conflict.Timestamp)
				if doc.Base != nil {
					fmt.Printf("base:     %v\n", doc.Base.Values)
				}
				fmt.Printf("change_a: %v\n", doc.ChangeA.Values)
				fmt.Printf("change_b: %v\n", doc.ChangeB.Values)
				return nil
			})
		},
	}
}

func newConflictResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <table> <path> <a|b>",
		Short: "apply one side of a conflict and delete the conflict file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				return db.ConflictResolve(context.Background(), args[0], args[1], args[2])
			})
		},
	}
}
