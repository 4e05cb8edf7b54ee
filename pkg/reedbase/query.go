package reedbase

import (
	"context"

	"github.com/reedbase/reedbase/pkg/query"
	"github.com/reedbase/reedbase/pkg/reederr"
)

// Query runs a read-only SQL-subset statement (SELECT). INSERT/UPDATE/
// DELETE are rejected here; use Execute.
func (db *Database) Query(sql string) (query.QueryResult, error) {
	stmt, err := query.Parse(sql)
	if err != nil {
		return query.QueryResult{}, err
	}
	sel, ok := stmt.(query.SelectStmt)
	if !ok {
		return query.QueryResult{}, reederr.New(reederr.KindParseError, "Query only accepts SELECT statements").
			WithHint("use Execute for INSERT/UPDATE/DELETE")
	}
	return db.Executor.Select(sel)
}

// Execute runs a mutating SQL-subset statement (INSERT/UPDATE/DELETE).
func (db *Database) Execute(ctx context.Context, sql string) (query.ExecuteResult, error) {
	stmt, err := query.Parse(sql)
	if err != nil {
		return query.ExecuteResult{}, err
	}
	switch s := stmt.(type) {
	case query.InsertStmt:
		return db.Executor.Insert(ctx, s)
	case query.UpdateStmt:
		return db.Executor.Update(ctx, s)
	case query.DeleteStmt:
		return db.Executor.Delete(ctx, s)
	default:
		return query.ExecuteResult{}, reederr.New(reederr.KindParseError, "Execute only accepts INSERT/UPDATE/DELETE statements").
			WithHint("use Query for SELECT")
	}
}
