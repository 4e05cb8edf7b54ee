package query

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSchema_MissingFileReturnsNilSchema(t *testing.T) {
	s, err := LoadSchema(filepath.Join(t.TempDir(), "schema.toml"))
	if err != nil || s != nil {
		t.Fatalf("expected nil schema, got %+v, err %v", s, err)
	}
}

func TestLoadSchema_ParsesColumnNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.toml")
	content := "[[columns]]\nname = \"username\"\ntype = \"string\"\n\n[[columns]]\nname = \"age\"\ntype = \"int\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSchema(path)
	if err != nil {
		t.Fatalf("LoadSchema: %v", err)
	}
	if s.ColumnName(0) != "username" || s.ColumnName(1) != "age" {
		t.Fatalf("unexpected columns: %+v", s.Columns)
	}
	if s.ColumnIndex("age") != 1 || s.ColumnIndex("missing") != -1 {
		t.Fatalf("unexpected index lookups")
	}
}

func TestSchema_ColumnNameFallsBackToPositional(t *testing.T) {
	var s *Schema
	if got := s.ColumnName(0); got != "c1" {
		t.Fatalf("got %q", got)
	}
	if got := s.ColumnName(4); got != "c5" {
		t.Fatalf("got %q", got)
	}
}
