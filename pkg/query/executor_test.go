package query

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reedbase/reedbase/pkg/coordinator"
	"github.com/reedbase/reedbase/pkg/csvcodec"
	"github.com/reedbase/reedbase/pkg/merge"
	"github.com/reedbase/reedbase/pkg/reederr"
	"github.com/reedbase/reedbase/pkg/table"
	"github.com/reedbase/reedbase/pkg/versionlog"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	root := t.TempDir()
	var counter int64
	return &Executor{
		Root:        root,
		Coordinator: coordinator.New(time.Second, 10),
		Now:         func() int64 { return atomic.AddInt64(&counter, 1) },
	}
}

func withSchema(t *testing.T, root, tableName string, columns ...string) {
	t.Helper()
	if _, err := table.Open(root, tableName); err != nil {
		t.Fatalf("table.Open: %v", err)
	}
	var content string
	for _, c := range columns {
		content += "[[columns]]\nname = \"" + c + "\"\ntype = \"string\"\n\n"
	}
	path := filepath.Join(root, "tables", tableName, "schema.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExecutor_InsertThenSelect(t *testing.T) {
	e := newTestExecutor(t)
	withSchema(t, e.Root, "users", "name", "age")
	ctx := context.Background()

	insStmt, err := Parse("INSERT INTO users (key, name, age) VALUES ('u1', 'Ada', '30')")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res, err := e.Insert(ctx, insStmt.(InsertStmt))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if res.AffectedRows != 1 {
		t.Fatalf("expected 1 affected row, got %d", res.AffectedRows)
	}

	selStmt, err := Parse("SELECT * FROM users")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	qr, err := e.Select(selStmt.(SelectStmt))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(qr.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(qr.Rows))
	}
	if qr.Rows[0]["name"] != "Ada" || qr.Rows[0]["key"] != "u1" {
		t.Fatalf("unexpected row: %+v", qr.Rows[0])
	}
}

func TestExecutor_InsertReplacesExistingKey(t *testing.T) {
	e := newTestExecutor(t)
	withSchema(t, e.Root, "users", "name")
	ctx := context.Background()

	for _, name := range []string{"Ada", "Grace"} {
		stmt, _ := Parse("INSERT INTO users (key, name) VALUES ('u1', '" + name + "')")
		if _, err := e.Insert(ctx, stmt.(InsertStmt)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	selStmt, _ := Parse("SELECT * FROM users")
	qr, err := e.Select(selStmt.(SelectStmt))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(qr.Rows) != 1 || qr.Rows[0]["name"] != "Grace" {
		t.Fatalf("expected single replaced row, got %+v", qr.Rows)
	}
}

func TestExecutor_UpdateAppliesSetToMatchingRows(t *testing.T) {
	e := newTestExecutor(t)
	withSchema(t, e.Root, "users", "name", "age")
	ctx := context.Background()

	for _, row := range [][2]string{{"u1", "Ada"}, {"u2", "Grace"}} {
		stmt, _ := Parse("INSERT INTO users (key, name, age) VALUES ('" + row[0] + "', '" + row[1] + "', '20')")
		if _, err := e.Insert(ctx, stmt.(InsertStmt)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	updStmt, err := Parse("UPDATE users SET age = '99' WHERE key = 'u1'")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res, err := e.Update(ctx, updStmt.(UpdateStmt))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.AffectedRows != 1 {
		t.Fatalf("expected 1 affected row, got %d", res.AffectedRows)
	}

	selStmt, _ := Parse("SELECT * FROM users WHERE key = 'u1'")
	qr, err := e.Select(selStmt.(SelectStmt))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if qr.Rows[0]["age"] != "99" {
		t.Fatalf("expected updated age, got %+v", qr.Rows[0])
	}
}

func TestExecutor_DeleteRemovesMatchingRows(t *testing.T) {
	e := newTestExecutor(t)
	withSchema(t, e.Root, "users", "name")
	ctx := context.Background()

	for _, row := range [][2]string{{"u1", "Ada"}, {"u2", "Grace"}} {
		stmt, _ := Parse("INSERT INTO users (key, name) VALUES ('" + row[0] + "', '" + row[1] + "')")
		if _, err := e.Insert(ctx, stmt.(InsertStmt)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	delStmt, err := Parse("DELETE FROM users WHERE key = 'u1'")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res, err := e.Delete(ctx, delStmt.(DeleteStmt))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res.AffectedRows != 1 {
		t.Fatalf("expected 1 affected row, got %d", res.AffectedRows)
	}

	selStmt, _ := Parse("SELECT * FROM users")
	qr, err := e.Select(selStmt.(SelectStmt))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(qr.Rows) != 1 || qr.Rows[0]["key"] != "u2" {
		t.Fatalf("expected only u2 remaining, got %+v", qr.Rows)
	}
}

func TestExecutor_SelectOrderByAndLimit(t *testing.T) {
	e := newTestExecutor(t)
	withSchema(t, e.Root, "users", "age")
	ctx := context.Background()

	for _, row := range [][2]string{{"u1", "30"}, {"u2", "10"}, {"u3", "20"}} {
		stmt, _ := Parse("INSERT INTO users (key, age) VALUES ('" + row[0] + "', '" + row[1] + "')")
		if _, err := e.Insert(ctx, stmt.(InsertStmt)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	selStmt, err := Parse("SELECT key FROM users ORDER BY age ASC LIMIT 2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	qr, err := e.Select(selStmt.(SelectStmt))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(qr.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(qr.Rows))
	}
	if qr.Rows[0]["key"] != "u2" || qr.Rows[1]["key"] != "u3" {
		t.Fatalf("unexpected order: %+v", qr.Rows)
	}
}

func TestExecutor_SelectAggregateCount(t *testing.T) {
	e := newTestExecutor(t)
	withSchema(t, e.Root, "users", "age")
	ctx := context.Background()

	for _, row := range [][2]string{{"u1", "30"}, {"u2", "10"}} {
		stmt, _ := Parse("INSERT INTO users (key, age) VALUES ('" + row[0] + "', '" + row[1] + "')")
		if _, err := e.Insert(ctx, stmt.(InsertStmt)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	selStmt, err := Parse("SELECT COUNT(*) FROM users")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	qr, err := e.Select(selStmt.(SelectStmt))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(qr.Rows) != 1 || qr.Rows[0]["count(*)"] != "2" {
		t.Fatalf("unexpected aggregate result: %+v", qr.Rows)
	}
}

func TestExecutor_InsertWithoutKeyColumnFails(t *testing.T) {
	e := newTestExecutor(t)
	withSchema(t, e.Root, "users", "name")
	stmt, _ := Parse("INSERT INTO users (name) VALUES ('Ada')")
	if _, err := e.Insert(context.Background(), stmt.(InsertStmt)); err == nil {
		t.Fatal("expected error for missing key column")
	}
}

// seedAccounts writes an initial accounts row set directly, bypassing the
// coordinator, so both concurrent writers below start from the same known
// base version.
func seedAccounts(t *testing.T, e *Executor, rows []csvcodec.Row) {
	t.Helper()
	tbl, err := table.Open(e.Root, "accounts")
	if err != nil {
		t.Fatalf("table.Open: %v", err)
	}
	log, err := versionlog.Open(tbl.LogPath())
	if err != nil {
		t.Fatalf("versionlog.Open: %v", err)
	}
	defer log.Close()
	if _, err := tbl.Write(func([]csvcodec.Row) ([]csvcodec.Row, error) {
		return rows, nil
	}, table.WriteMeta{}, log, e.clockNow(), 0); err != nil {
		t.Fatalf("seed write: %v", err)
	}
}

// TestExecutor_ConcurrentWritesOnDisjointKeysAutoMerge drives two writers
// through the real writeTable/Coordinator path, holding the first inside
// its write lock until the second has already captured its pre-lock base
// snapshot. The second writer then finds the log advanced underneath it
// and must fall back to a three-way merge; since the two writers touch
// different keys, the merge should resolve cleanly with no conflict.
func TestExecutor_ConcurrentWritesOnDisjointKeysAutoMerge(t *testing.T) {
	e := newTestExecutor(t)
	withSchema(t, e.Root, "accounts", "balance")
	ctx := context.Background()
	seedAccounts(t, e, []csvcodec.Row{
		{Key: "u1", Values: []string{"100"}},
		{Key: "u2", Values: []string{"50"}},
	})

	entered := make(chan struct{})
	release := make(chan struct{})
	raiseU1 := func(rows []csvcodec.Row) ([]csvcodec.Row, error) {
		close(entered)
		<-release
		out := append([]csvcodec.Row(nil), rows...)
		for i, r := range out {
			if r.Key == "u1" {
				out[i].Values = []string{"110"}
			}
		}
		return out, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var errA error
	go func() {
		defer wg.Done()
		errA = e.writeTable(ctx, "accounts", raiseU1)
	}()
	<-entered // writer A holds the accounts gate, stalled mid-write

	raiseU2 := func(rows []csvcodec.Row) ([]csvcodec.Row, error) {
		out := append([]csvcodec.Row(nil), rows...)
		for i, r := range out {
			if r.Key == "u2" {
				out[i].Values = []string{"60"}
			}
		}
		return out, nil
	}
	bDone := make(chan error, 1)
	go func() {
		bDone <- e.writeTable(ctx, "accounts", raiseU2)
	}()
	time.Sleep(20 * time.Millisecond) // let writer B capture its base and queue behind A's lock
	close(release)
	wg.Wait()
	errB := <-bDone

	if errA != nil {
		t.Fatalf("writer A: %v", errA)
	}
	if errB != nil {
		t.Fatalf("writer B: %v", errB)
	}

	tbl, err := table.Open(e.Root, "accounts")
	if err != nil {
		t.Fatalf("table.Open: %v", err)
	}
	rows, err := tbl.ReadCurrent()
	if err != nil {
		t.Fatalf("ReadCurrent: %v", err)
	}
	got := map[string]string{}
	for _, r := range rows {
		got[r.Key] = r.Values[0]
	}
	if got["u1"] != "110" || got["u2"] != "60" {
		t.Fatalf("expected both writers' disjoint changes merged, got %+v", got)
	}
}

// TestExecutor_ConcurrentWritesOnSameKey_ManualPolicyReportsConflict
// repeats the same race, but both writers change the same key to
// different values. Under a Manual merge policy that can't be silently
// resolved, so the rebased writer must persist a conflict file and
// return KindConflictDetected rather than clobbering the first commit.
func TestExecutor_ConcurrentWritesOnSameKey_ManualPolicyReportsConflict(t *testing.T) {
	e := newTestExecutor(t)
	e.MergePolicy = merge.Manual
	withSchema(t, e.Root, "accounts", "balance")
	ctx := context.Background()
	seedAccounts(t, e, []csvcodec.Row{{Key: "u1", Values: []string{"100"}}})

	entered := make(chan struct{})
	release := make(chan struct{})
	setTo110 := func(rows []csvcodec.Row) ([]csvcodec.Row, error) {
		close(entered)
		<-release
		out := append([]csvcodec.Row(nil), rows...)
		for i, r := range out {
			if r.Key == "u1" {
				out[i].Values = []string{"110"}
			}
		}
		return out, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var errA error
	go func() {
		defer wg.Done()
		errA = e.writeTable(ctx, "accounts", setTo110)
	}()
	<-entered

	setTo999 := func(rows []csvcodec.Row) ([]csvcodec.Row, error) {
		out := append([]csvcodec.Row(nil), rows...)
		for i, r := range out {
			if r.Key == "u1" {
				out[i].Values = []string{"999"}
			}
		}
		return out, nil
	}
	bDone := make(chan error, 1)
	go func() {
		bDone <- e.writeTable(ctx, "accounts", setTo999)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	errB := <-bDone

	if errA != nil {
		t.Fatalf("writer A: %v", errA)
	}
	if errB == nil {
		t.Fatal("expected writer B to report a conflict")
	}
	if reederr.Of(errB) != reederr.KindConflictDetected {
		t.Fatalf("expected KindConflictDetected, got %v", errB)
	}

	tbl, err := table.Open(e.Root, "accounts")
	if err != nil {
		t.Fatalf("table.Open: %v", err)
	}
	paths, err := merge.ListConflictFiles(tbl.Dir)
	if err != nil {
		t.Fatalf("ListConflictFiles: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected 1 persisted conflict file, got %d", len(paths))
	}

	rows, err := tbl.ReadCurrent()
	if err != nil {
		t.Fatalf("ReadCurrent: %v", err)
	}
	if len(rows) != 1 || rows[0].Values[0] != "110" {
		t.Fatalf("expected writer A's committed value to stand until the conflict is resolved, got %+v", rows)
	}
}
