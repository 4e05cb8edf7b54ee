package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reedbase/reedbase/pkg/query"
	"github.com/reedbase/reedbase/pkg/reedbase"
)

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <sql>",
		Short: "run a bounded SQL-subset statement (SELECT/INSERT/UPDATE/DELETE)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql := args[0]
			return withDB(func(db *reedbase.Database) error {
				if isSelect(sql) {
					res, err := db.Query(sql)
					if err != nil {
						return err
					}
					printResult(res)
					return nil
				}
				res, err := db.Execute(context.Background(), sql)
				if err != nil {
					return err
				}
				fmt.Printf("ok, %d row(s) affected (%dus)\n", res.AffectedRows, res.ElapsedMicros)
				return nil
			})
		},
	}
}

func isSelect(sql string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sql)), "SELECT")
}

func printResult(res query.QueryResult) {
	fmt.Println(strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		vals := make([]string, len(res.Columns))
		for i, c := range res.Columns {
			vals[i] = row[c]
		}
		fmt.Println(strings.Join(vals, "\t"))
	}
	fmt.Printf("(%d row(s), %dus)\n", len(res.Rows), res.ElapsedMicros)
}
