package query

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/reedbase/reedbase/pkg/coordinator"
	"github.com/reedbase/reedbase/pkg/csvcodec"
	"github.com/reedbase/reedbase/pkg/index"
	"github.com/reedbase/reedbase/pkg/merge"
	"github.com/reedbase/reedbase/pkg/monitor"
	"github.com/reedbase/reedbase/pkg/rbks"
	"github.com/reedbase/reedbase/pkg/reederr"
	"github.com/reedbase/reedbase/pkg/table"
	"github.com/reedbase/reedbase/pkg/versionlog"
	"github.com/reedbase/reedbase/pkg/workerpool"
)

// recordPool recycles the per-row record maps Select builds on the
// WHERE-match path; most rows in a filtered query are built, tested,
// and discarded within the same call.
var recordPool = workerpool.NewRowPool()

// QueryResult is the shape every SELECT returns: named columns, one map
// per matched row, elapsed wall time, and a cache-hit flag Select sets
// when the result was served from Executor.Cache.
type QueryResult struct {
	Columns       []string
	Rows          []map[string]string
	ElapsedMicros int64
	CacheHit      bool
}

// ExecuteResult is the shape every INSERT/UPDATE/DELETE returns.
type ExecuteResult struct {
	AffectedRows  int
	ElapsedMicros int64
}

// Clock supplies strictly increasing timestamps for writes; the façade
// wires in one shared across all tables so delta chains never collide.
type Clock func() int64

// Executor ties the parser's statements to one table's storage: the
// coordinator for serialised writes, the advisor for auto-index usage
// tracking, the optional result cache, slow-query analyzer and metrics
// collector, and the merge policy for concurrent writes. SELECT reads
// the table's current rows and filters them by scanning; it does not
// look rows up through an index.
type Executor struct {
	Root        string
	Coordinator *coordinator.Coordinator
	Advisor     *index.Advisor // nil disables auto-index usage tracking
	Now         Clock
	Cache       *monitor.QueryCache        // nil disables SELECT result caching
	CacheTTL    time.Duration              // 0 uses the cache's own default
	SlowQuery   *monitor.SlowQueryAnalyzer // nil disables slow-query logging
	Stats       *monitor.MetricsCollector  // nil disables query metrics
	MergePolicy merge.Policy               // resolves a write that lands after a concurrent commit advanced the table
	elapsedNS   int64
}

// lastElapsedMicros reports the cost of the statement that ran between
// start and end (both from Now, not a profiler).
func (e *Executor) lastElapsedMicros(start, end int64) int64 {
	d := end - start
	if d < 0 {
		d = 0
	}
	return d
}

// Select runs a parsed SELECT against tbl's current snapshot. A result
// is served from Cache when present and still fresh: the cache key folds
// in the table's latest version timestamp, so any write naturally misses
// the stale entry instead of needing an explicit invalidation hook.
func (e *Executor) Select(stmt SelectStmt) (result QueryResult, err error) {
	start := e.clockNow()
	tbl, err := table.Open(e.Root, stmt.Table)
	if err != nil {
		return QueryResult{}, err
	}

	cacheKey := e.selectCacheKey(stmt, tbl)
	if e.Cache != nil && cacheKey != "" {
		if cached, ok := e.Cache.Get(cacheKey); ok {
			res := cached.(QueryResult)
			res.CacheHit = true
			e.recordQueryStats(stmt.Table, start, true, nil)
			return res, nil
		}
	}
	defer func() {
		e.recordQueryStats(stmt.Table, start, err == nil, err)
		if err == nil && e.Cache != nil && cacheKey != "" {
			e.Cache.Set(cacheKey, result, e.CacheTTL)
		}
	}()

	schema, err := LoadSchema(filepath.Join(tbl.Dir, "schema.toml"))
	if err != nil {
		return QueryResult{}, err
	}
	rows, err := tbl.ReadCurrent()
	if err != nil {
		return QueryResult{}, err
	}

	e.recordUsage(stmt.Table, stmt.Where)

	matched := make([]map[string]string, 0, len(rows))
	for _, r := range rows {
		rec := recordPool.Get()
		fillRecord(rec, r, schema)
		ok, werr := matchAll(rec, stmt.Where)
		if werr != nil {
			recordPool.Put(rec)
			return QueryResult{}, werr
		}
		if ok {
			matched = append(matched, rec)
		} else {
			recordPool.Put(rec)
		}
	}

	if len(stmt.Aggregates) > 0 {
		result, err = e.aggregateResult(stmt, matched, start)
		for _, rec := range matched {
			recordPool.Put(rec)
		}
		return result, err
	}

	sortRecords(matched, stmt.OrderBy)
	limited := applyLimit(matched, stmt.Offset, stmt.HasLimit, stmt.Limit)

	cols := stmt.Columns
	if len(cols) == 0 {
		cols = allColumns(schema, rows)
	}
	out := make([]map[string]string, len(limited))
	for i, rec := range limited {
		out[i] = projectColumns(rec, cols)
	}
	for _, rec := range matched {
		recordPool.Put(rec)
	}

	end := e.clockNow()
	result = QueryResult{Columns: cols, Rows: out, ElapsedMicros: e.lastElapsedMicros(start, end)}
	return result, nil
}

// selectCacheKey folds the statement shape and the table's latest
// version timestamp into one string; "" (returned when Cache is nil)
// disables caching for this call. A version log that can't be read keys
// as timestamp 0.
func (e *Executor) selectCacheKey(stmt SelectStmt, tbl *table.Table) string {
	if e.Cache == nil {
		return ""
	}
	return fmt.Sprintf("%s@%d|%+v", stmt.Table, latestTimestamp(tbl), stmt)
}

// recordQueryStats feeds the optional slow-query analyzer and metrics
// collector; both are nil-safe no-ops when not configured.
func (e *Executor) recordQueryStats(tableName string, startMicros int64, success bool, queryErr error) {
	elapsed := time.Duration(e.lastElapsedMicros(startMicros, e.clockNow())) * time.Microsecond
	if e.Stats != nil {
		e.Stats.RecordQuery(elapsed, success, tableName)
	}
	if e.SlowQuery != nil && e.SlowQuery.IsSlowQuery(elapsed) {
		errMsg := ""
		if queryErr != nil {
			errMsg = queryErr.Error()
		}
		if queryErr != nil {
			e.SlowQuery.RecordSlowQueryWithError(tableName, elapsed, tableName, 0, errMsg)
		} else {
			e.SlowQuery.RecordSlowQuery(tableName, elapsed, tableName, 0)
		}
	}
}

func (e *Executor) aggregateResult(stmt SelectStmt, matched []map[string]string, start int64) (QueryResult, error) {
	cols := make([]string, len(stmt.Aggregates))
	values := make([]string, len(stmt.Aggregates))
	for i, agg := range stmt.Aggregates {
		acc := newAggAccumulator()
		for _, rec := range matched {
			if agg.Star {
				if err := acc.feed("", true); err != nil {
					return QueryResult{}, err
				}
				continue
			}
			if err := acc.feed(rec[agg.Column], false); err != nil {
				return QueryResult{}, err
			}
		}
		v, err := acc.result(agg.Func)
		if err != nil {
			return QueryResult{}, err
		}
		cols[i] = aggLabel(agg)
		values[i] = v
	}
	row := make(map[string]string, len(cols))
	for i, c := range cols {
		row[c] = values[i]
	}
	end := e.clockNow()
	return QueryResult{Columns: cols, Rows: []map[string]string{row}, ElapsedMicros: e.lastElapsedMicros(start, end)}, nil
}

func aggLabel(a Aggregate) string {
	if a.Star {
		return a.Func + "(*)"
	}
	return a.Func + "(" + a.Column + ")"
}

// Insert runs a parsed INSERT under the table's write lock.
func (e *Executor) Insert(ctx context.Context, stmt InsertStmt) (ExecuteResult, error) {
	start := e.clockNow()
	keyIdx := -1
	for i, c := range stmt.Columns {
		if c == "key" {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return ExecuteResult{}, reederr.New(reederr.KindValidationError, "insert must include the key column")
	}

	tbl, err := table.Open(e.Root, stmt.Table)
	if err != nil {
		return ExecuteResult{}, err
	}
	schema, err := LoadSchema(filepath.Join(tbl.Dir, "schema.toml"))
	if err != nil {
		return ExecuteResult{}, err
	}
	if schema != nil && schema.ValidatesRBKS {
		if _, verr := rbks.Parse(stmt.Values[keyIdx]); verr != nil {
			return ExecuteResult{}, verr
		}
	}

	newRow := csvcodec.Row{Key: stmt.Values[keyIdx]}
	for i, c := range stmt.Columns {
		if c == "key" {
			continue
		}
		newRow.Values = append(newRow.Values, stmt.Values[i])
	}

	affected := 0
	err = e.writeTable(ctx, stmt.Table, func(rows []csvcodec.Row) ([]csvcodec.Row, error) {
		out := make([]csvcodec.Row, 0, len(rows)+1)
		for _, r := range rows {
			if r.Key == newRow.Key {
				continue // INSERT replaces an existing row with the same key
			}
			out = append(out, r)
		}
		out = append(out, newRow)
		affected = 1
		return out, nil
	})
	end := e.clockNow()
	return ExecuteResult{AffectedRows: affected, ElapsedMicros: e.lastElapsedMicros(start, end)}, err
}

// Update runs a parsed UPDATE under the table's write lock.
func (e *Executor) Update(ctx context.Context, stmt UpdateStmt) (ExecuteResult, error) {
	start := e.clockNow()
	tbl, err := table.Open(e.Root, stmt.Table)
	if err != nil {
		return ExecuteResult{}, err
	}
	schema, err := LoadSchema(filepath.Join(tbl.Dir, "schema.toml"))
	if err != nil {
		return ExecuteResult{}, err
	}

	affected := 0
	err = e.writeTable(ctx, stmt.Table, func(rows []csvcodec.Row) ([]csvcodec.Row, error) {
		out := make([]csvcodec.Row, len(rows))
		for i, r := range rows {
			rec := rowToRecord(r, schema)
			ok, err := matchAll(rec, stmt.Where)
			if err != nil {
				return nil, err
			}
			if !ok {
				out[i] = r
				continue
			}
			updated := r
			updated.Values = append([]string(nil), r.Values...)
			for _, col := range stmt.SetCol {
				idx := schema.ColumnIndex(col)
				if idx < 0 {
					return nil, reederr.New(reederr.KindValidationError, "unknown column "+col)
				}
				for len(updated.Values) <= idx {
					updated.Values = append(updated.Values, "")
				}
				updated.Values[idx] = stmt.Set[col]
			}
			out[i] = updated
			affected++
		}
		return out, nil
	})
	end := e.clockNow()
	return ExecuteResult{AffectedRows: affected, ElapsedMicros: e.lastElapsedMicros(start, end)}, err
}

// Delete runs a parsed DELETE under the table's write lock.
func (e *Executor) Delete(ctx context.Context, stmt DeleteStmt) (ExecuteResult, error) {
	start := e.clockNow()
	tbl, err := table.Open(e.Root, stmt.Table)
	if err != nil {
		return ExecuteResult{}, err
	}
	schema, err := LoadSchema(filepath.Join(tbl.Dir, "schema.toml"))
	if err != nil {
		return ExecuteResult{}, err
	}

	affected := 0
	err = e.writeTable(ctx, stmt.Table, func(rows []csvcodec.Row) ([]csvcodec.Row, error) {
		out := make([]csvcodec.Row, 0, len(rows))
		for _, r := range rows {
			rec := rowToRecord(r, schema)
			ok, err := matchAll(rec, stmt.Where)
			if err != nil {
				return nil, err
			}
			if ok {
				affected++
				continue
			}
			out = append(out, r)
		}
		return out, nil
	})
	end := e.clockNow()
	return ExecuteResult{AffectedRows: affected, ElapsedMicros: e.lastElapsedMicros(start, end)}, err
}

// writeTable reads the table's base snapshot and version before ever
// asking the coordinator for the write lock, then submits a closure that
// re-checks the version log once the lock is held. If nothing else
// committed in between, modifier runs straight through. If another
// writer landed first, the base snapshot, our modifier's result, and
// their now-current snapshot go through a three-way merge instead of
// letting one write silently clobber the other: a clean merge publishes
// the combined rows, and a genuine per-key conflict is written to
// tbl.Dir/conflicts and reported as KindConflictDetected, which the
// coordinator already counts against the table's write stats.
func (e *Executor) writeTable(ctx context.Context, tableName string, modifier table.Modifier) error {
	tbl, err := table.Open(e.Root, tableName)
	if err != nil {
		return err
	}
	log, err := versionlog.Open(tbl.LogPath())
	if err != nil {
		return err
	}
	defer log.Close()

	baseTS := latestTimestamp(tbl)
	baseRows, err := tbl.ReadCurrent()
	if err != nil {
		return err
	}

	return e.Coordinator.Submit(ctx, tableName, func(ctx context.Context) error {
		currentTS := latestTimestamp(tbl)
		if currentTS == baseTS {
			_, err := tbl.Write(modifier, table.WriteMeta{}, log, e.clockNow(), baseTS)
			return err
		}
		return e.rebaseAndMerge(tbl, log, tableName, modifier, baseRows, baseTS, currentTS)
	})
}

// rebaseAndMerge runs when the version log advanced between writeTable's
// pre-lock snapshot and the coordinator granting the lock. aRows is what
// our own modifier would have produced against the stale base; bRows is
// what actually landed. A clean three-way merge publishes the combined
// rows under the advanced base timestamp; a Manual-policy conflict is
// persisted per key and reported instead of published.
func (e *Executor) rebaseAndMerge(tbl *table.Table, log *versionlog.Log, tableName string, modifier table.Modifier, baseRows []csvcodec.Row, baseTS, currentTS int64) error {
	aRows, err := modifier(baseRows)
	if err != nil {
		return err
	}
	bRows, err := tbl.ReadCurrent()
	if err != nil {
		return err
	}

	now := e.clockNow()
	result, err := merge.Merge(
		merge.Side{Rows: baseRows, CommitTS: baseTS},
		merge.Side{Rows: aRows, CommitTS: now},
		merge.Side{Rows: bRows, CommitTS: currentTS},
		e.MergePolicy,
	)
	if err != nil {
		return err
	}

	if len(result.Conflicts) > 0 {
		for _, c := range result.Conflicts {
			if _, werr := merge.WriteConflictFile(tbl.Dir, now, tableName, c); werr != nil {
				return werr
			}
		}
		return reederr.New(reederr.KindConflictDetected,
			fmt.Sprintf("table %s: %d row(s) changed by both writers could not be auto-merged", tableName, len(result.Conflicts)))
	}

	merged := result.Rows
	_, err = tbl.Write(func([]csvcodec.Row) ([]csvcodec.Row, error) {
		return merged, nil
	}, table.WriteMeta{}, log, now, currentTS)
	return err
}

func latestTimestamp(t *table.Table) int64 {
	entries, err := versionlog.ParseAll(t.LogPath())
	if err != nil || len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].Timestamp
}

func (e *Executor) clockNow() int64 {
	if e.Now != nil {
		return e.Now()
	}
	return atomic.AddInt64(&e.elapsedNS, 1)
}

// recordUsage feeds every WHERE condition's classified operation to the
// advisor, the hook that drives auto-index creation once a column
// crosses its usage threshold.
func (e *Executor) recordUsage(tableName string, conds []Condition) {
	if e.Advisor == nil {
		return
	}
	for _, c := range conds {
		op := classify(c)
		_, _ = e.Advisor.RecordUse(tableName, c.Column, op)
	}
}

func rowToRecord(r csvcodec.Row, schema *Schema) map[string]string {
	rec := map[string]string{"key": r.Key}
	for i, v := range r.Values {
		rec[schema.ColumnName(i)] = v
	}
	return rec
}

// fillRecord populates a (possibly pool-recycled, already-empty) record
// map in place, the pooled counterpart to rowToRecord.
func fillRecord(rec map[string]string, r csvcodec.Row, schema *Schema) {
	rec["key"] = r.Key
	for i, v := range r.Values {
		rec[schema.ColumnName(i)] = v
	}
}

func allColumns(schema *Schema, rows []csvcodec.Row) []string {
	cols := []string{"key"}
	width := 0
	for _, r := range rows {
		if len(r.Values) > width {
			width = len(r.Values)
		}
	}
	for i := 0; i < width; i++ {
		cols = append(cols, schema.ColumnName(i))
	}
	return cols
}

func projectColumns(rec map[string]string, cols []string) map[string]string {
	out := make(map[string]string, len(cols))
	for _, c := range cols {
		out[c] = rec[c]
	}
	return out
}

func matchAll(rec map[string]string, conds []Condition) (bool, error) {
	for _, c := range conds {
		ok, err := matchOne(rec, c)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchOne(rec map[string]string, c Condition) (bool, error) {
	actual, present := rec[c.Column]
	switch c.Op {
	case OpEq:
		return present && actual == c.Value, nil
	case OpNeq:
		return !present || actual != c.Value, nil
	case OpLike:
		return present && matchLike(actual, c.Value), nil
	case OpIn:
		for _, v := range c.Values {
			if present && actual == v {
				return true, nil
			}
		}
		return false, nil
	case OpLt, OpGt, OpLte, OpGte:
		if !present {
			return false, nil
		}
		af, aerr := strconv.ParseFloat(actual, 64)
		bf, berr := strconv.ParseFloat(c.Value, 64)
		if aerr != nil || berr != nil {
			return false, reederr.New(reederr.KindValidationError, "non-numeric comparison on column "+c.Column)
		}
		switch c.Op {
		case OpLt:
			return af < bf, nil
		case OpGt:
			return af > bf, nil
		case OpLte:
			return af <= bf, nil
		case OpGte:
			return af >= bf, nil
		}
	}
	return false, nil
}

func matchLike(value, pattern string) bool {
	switch {
	case strings.HasPrefix(pattern, "%") && strings.HasSuffix(pattern, "%") && len(pattern) > 1:
		return strings.Contains(value, pattern[1:len(pattern)-1])
	case strings.HasSuffix(pattern, "%"):
		return strings.HasPrefix(value, likePrefix(pattern))
	case strings.HasPrefix(pattern, "%"):
		return strings.HasSuffix(value, pattern[1:])
	default:
		return value == pattern
	}
}

func sortRecords(rows []map[string]string, order []OrderTerm) {
	if len(order) == 0 {
		return
	}
	lessFn := func(i, j int) bool {
		for _, term := range order {
			a, b := rows[i][term.Column], rows[j][term.Column]
			if a == b {
				continue
			}
			if term.Desc {
				return a > b
			}
			return a < b
		}
		return false
	}
	insertionSort(rows, lessFn)
}

func insertionSort(rows []map[string]string, less func(i, j int) bool) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

func applyLimit(rows []map[string]string, offset int, hasLimit bool, limit int) []map[string]string {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if hasLimit && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
