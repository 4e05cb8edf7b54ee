package reedbase

import (
	"context"
	"testing"
)

func TestCreateIndex_ListAndDrop(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name", "age")
	ctx := context.Background()
	if _, err := db.Execute(ctx, "INSERT INTO users (key, name, age) VALUES ('u1', 'Ada', '30')"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := db.CreateIndex("users", "name", "hash"); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	metas, err := db.ListIndices()
	if err != nil {
		t.Fatalf("ListIndices: %v", err)
	}
	if len(metas) != 1 || metas[0].Table != "users" || metas[0].Column != "name" {
		t.Fatalf("unexpected index metadata: %+v", metas)
	}

	if err := db.DropIndex("users", "name"); err != nil {
		t.Fatalf("DropIndex: %v", err)
	}
	metas, err = db.ListIndices()
	if err != nil {
		t.Fatalf("ListIndices after drop: %v", err)
	}
	if len(metas) != 0 {
		t.Fatalf("expected no indices after drop, got %+v", metas)
	}
}

func TestCreateIndex_RejectsDuplicate(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	if err := db.CreateIndex("users", "name", "hash"); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := db.CreateIndex("users", "name", "hash"); err == nil {
		t.Fatal("expected error creating a duplicate index")
	}
}

func TestCreateIndex_DefaultsBackendFromConfig(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	if err := db.CreateIndex("users", "name", ""); err != nil {
		t.Fatalf("CreateIndex with empty backend: %v", err)
	}
	metas, err := db.ListIndices()
	if err != nil {
		t.Fatalf("ListIndices: %v", err)
	}
	if len(metas) != 1 || metas[0].Backend != db.Config.Indices.DefaultBackend {
		t.Fatalf("expected backend %q, got %+v", db.Config.Indices.DefaultBackend, metas)
	}
}

func TestDropIndex_UnknownIndex(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	if err := db.DropIndex("users", "name"); err == nil {
		t.Fatal("expected error dropping a nonexistent index")
	}
}

func TestRebuildIndex_PreservesBackendAndPicksUpNewRows(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	ctx := context.Background()
	if _, err := db.Execute(ctx, "INSERT INTO users (key, name) VALUES ('u1', 'Ada')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.CreateIndex("users", "name", "btree"); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if _, err := db.Execute(ctx, "INSERT INTO users (key, name) VALUES ('u2', 'Grace')"); err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if err := db.RebuildIndex("users", "name"); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	metas, err := db.ListIndices()
	if err != nil {
		t.Fatalf("ListIndices: %v", err)
	}
	if len(metas) != 1 || metas[0].Backend != "btree" {
		t.Fatalf("expected rebuilt btree index, got %+v", metas)
	}
}

func TestMigrateIndex_ChangesBackend(t *testing.T) {
	db := mustOpen(t)
	withFacadeSchema(t, db, "users", "name")
	if err := db.CreateIndex("users", "name", "hash"); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := db.MigrateIndex("users", "name", "btree"); err != nil {
		t.Fatalf("MigrateIndex: %v", err)
	}
	metas, err := db.ListIndices()
	if err != nil {
		t.Fatalf("ListIndices: %v", err)
	}
	if len(metas) != 1 || metas[0].Backend != "btree" {
		t.Fatalf("expected migrated btree index, got %+v", metas)
	}
}
