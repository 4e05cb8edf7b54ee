package reedbase

import (
	"context"
	"testing"

	"github.com/reedbase/reedbase/pkg/csvcodec"
	"github.com/reedbase/reedbase/pkg/merge"
	"github.com/reedbase/reedbase/pkg/table"
)

func rowFor(key string, values ...string) csvcodec.Row {
	return csvcodec.Row{Key: key, Values: values}
}

func TestBackupCreateAndList(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	ctx := context.Background()
	if _, err := db.Execute(ctx, "INSERT INTO users (key, name) VALUES ('u1', 'Ada')"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	path, err := db.BackupCreate()
	if err != nil {
		t.Fatalf("BackupCreate: %v", err)
	}
	if path == "" {
		t.Fatal("expected a non-empty backup path")
	}

	list, err := db.BackupList()
	if err != nil {
		t.Fatalf("BackupList: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 backup, got %d", len(list))
	}
}

func TestRestorePointInTime_RollsEveryTableForward(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	withFacadeSchema(t, db, "orders", "total")
	ctx := context.Background()

	if _, err := db.Execute(ctx, "INSERT INTO users (key, name) VALUES ('u1', 'Ada')"); err != nil {
		t.Fatalf("insert users: %v", err)
	}
	if _, err := db.Execute(ctx, "INSERT INTO orders (key, total) VALUES ('o1', '9')"); err != nil {
		t.Fatalf("insert orders: %v", err)
	}

	results, err := db.RestorePointInTime(db.clock())
	if err != nil {
		t.Fatalf("RestorePointInTime: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected a restore result per table, got %d", len(results))
	}
}

func TestVersionList_ReflectsEachWrite(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	ctx := context.Background()
	if _, err := db.Execute(ctx, "INSERT INTO users (key, name) VALUES ('u1', 'Ada')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := db.Execute(ctx, "UPDATE users SET name = 'Grace' WHERE key = 'u1'"); err != nil {
		t.Fatalf("update: %v", err)
	}

	entries, err := db.VersionList("users")
	if err != nil {
		t.Fatalf("VersionList: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 version log entries, got %d", len(entries))
	}
}

func TestVersionRollback_RestoresOlderContent(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	ctx := context.Background()
	if _, err := db.Execute(ctx, "INSERT INTO users (key, name) VALUES ('u1', 'Ada')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	entries, err := db.VersionList("users")
	if err != nil {
		t.Fatalf("VersionList: %v", err)
	}
	firstTS := entries[0].Timestamp

	if _, err := db.Execute(ctx, "UPDATE users SET name = 'Grace' WHERE key = 'u1'"); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := db.VersionRollback("users", firstTS); err != nil {
		t.Fatalf("VersionRollback: %v", err)
	}

	qr, err := db.Query("SELECT * FROM users WHERE key = 'u1'")
	if err != nil {
		t.Fatalf("Query after rollback: %v", err)
	}
	if qr.Rows[0]["name"] != "Ada" {
		t.Fatalf("expected rollback to restore name=Ada, got %q", qr.Rows[0]["name"])
	}
}

func TestVersionDiff_BracketsTwoTimestamps(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	ctx := context.Background()
	if _, err := db.Execute(ctx, "INSERT INTO users (key, name) VALUES ('u1', 'Ada')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := db.Execute(ctx, "UPDATE users SET name = 'Grace' WHERE key = 'u1'"); err != nil {
		t.Fatalf("update: %v", err)
	}
	entries, err := db.VersionList("users")
	if err != nil {
		t.Fatalf("VersionList: %v", err)
	}

	a, b, err := db.VersionDiff("users", entries[0].Timestamp, entries[1].Timestamp)
	if err != nil {
		t.Fatalf("VersionDiff: %v", err)
	}
	if a.Timestamp != entries[0].Timestamp || b.Timestamp != entries[1].Timestamp {
		t.Fatalf("unexpected diff brackets: %+v, %+v", a, b)
	}
}

func TestVersionDiff_NoVersionBeforeTimestamp(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	if _, _, err := db.VersionDiff("users", -1, -1); err == nil {
		t.Fatal("expected error when no version exists before the requested timestamp")
	}
}

func TestFrameLifecycle_CommitPersistsToIndex(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")

	f, err := db.FrameBegin("signup")
	if err != nil {
		t.Fatalf("FrameBegin: %v", err)
	}
	if len(db.FrameStatus()) != 1 {
		t.Fatalf("expected 1 active frame, got %d", len(db.FrameStatus()))
	}
	if err := db.FrameCommit(f); err != nil {
		t.Fatalf("FrameCommit: %v", err)
	}

	entries, err := db.FrameList()
	if err != nil {
		t.Fatalf("FrameList: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 frame index entry, got %d", len(entries))
	}
}

func TestFrameLifecycle_RollbackDoesNotPersist(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")

	f, err := db.FrameBegin("signup")
	if err != nil {
		t.Fatalf("FrameBegin: %v", err)
	}
	if err := db.FrameRollback(f); err != nil {
		t.Fatalf("FrameRollback: %v", err)
	}
	entries, err := db.FrameList()
	if err != nil {
		t.Fatalf("FrameList: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no frame index entries after rollback, got %d", len(entries))
	}
}

func TestFrameCleanup_RemovesOldSnapshotsOnly(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	f, err := db.FrameBegin("signup")
	if err != nil {
		t.Fatalf("FrameBegin: %v", err)
	}
	if err := db.FrameCommit(f); err != nil {
		t.Fatalf("FrameCommit: %v", err)
	}

	removed, err := db.FrameCleanup(30)
	if err != nil {
		t.Fatalf("FrameCleanup: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected a fresh snapshot to survive a 30-day retention window, got %d removed", removed)
	}
}

func TestConflictList_EmptyWhenNoConflicts(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	paths, err := db.ConflictList("users")
	if err != nil {
		t.Fatalf("ConflictList: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("expected no conflicts, got %v", paths)
	}
}

func TestConflictResolve_WritesWinnerAndRemovesFile(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	ctx := context.Background()

	tbl, err := table.Open(db.Root, "users")
	if err != nil {
		t.Fatalf("table.Open: %v", err)
	}

	changeA := rowFor("u1", "Ada")
	changeB := rowFor("u1", "Grace")
	conflict := merge.Conflict{Key: "u1", ChangeA: &changeA, ChangeB: &changeB}

	path, err := merge.WriteConflictFile(tbl.Dir, db.clock(), "users", conflict)
	if err != nil {
		t.Fatalf("WriteConflictFile: %v", err)
	}

	paths, err := db.ConflictList("users")
	if err != nil {
		t.Fatalf("ConflictList: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected 1 pending conflict, got %d", len(paths))
	}

	if err := db.ConflictResolve(ctx, "users", path, "b"); err != nil {
		t.Fatalf("ConflictResolve: %v", err)
	}

	qr, err := db.Query("SELECT * FROM users WHERE key = 'u1'")
	if err != nil {
		t.Fatalf("Query after resolve: %v", err)
	}
	if len(qr.Rows) != 1 || qr.Rows[0]["name"] != "Grace" {
		t.Fatalf("expected the accepted side's value to win, got %+v", qr.Rows)
	}

	paths, err = db.ConflictList("users")
	if err != nil {
		t.Fatalf("ConflictList after resolve: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("expected the conflict file to be removed, got %v", paths)
	}
}

func TestConflictResolve_RejectsUnknownSide(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	ctx := context.Background()

	tbl, err := table.Open(db.Root, "users")
	if err != nil {
		t.Fatalf("table.Open: %v", err)
	}
	changeA := rowFor("u1", "Ada")
	changeB := rowFor("u1", "Grace")
	conflict := merge.Conflict{Key: "u1", ChangeA: &changeA, ChangeB: &changeB}
	path, err := merge.WriteConflictFile(tbl.Dir, db.clock(), "users", conflict)
	if err != nil {
		t.Fatalf("WriteConflictFile: %v", err)
	}

	if err := db.ConflictResolve(ctx, "users", path, "c"); err == nil {
		t.Fatal("expected an error for an accept side other than a or b")
	}
}
