package reedbase

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/reedbase/reedbase/pkg/index"
	"github.com/reedbase/reedbase/pkg/query"
	"github.com/reedbase/reedbase/pkg/reederr"
	"github.com/reedbase/reedbase/pkg/table"
)

// IndexMeta describes one user-created secondary index, persisted to
// indices/metadata.json (the one file layout entry in §6 with no
// TOML/CSV/log precedent elsewhere in the core, so JSON via the
// standard library is the natural fit — see DESIGN.md).
type IndexMeta struct {
	Table   string `json:"table"`
	Column  string `json:"column"`
	Backend string `json:"backend"`
	Path    string `json:"path,omitempty"`
}

func (db *Database) metadataPath() string {
	return filepath.Join(db.Root, "indices", "metadata.json")
}

func (db *Database) loadIndexMetadata() ([]IndexMeta, error) {
	data, err := os.ReadFile(db.metadataPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "reading indices metadata", err).WithPath(db.metadataPath())
	}
	var metas []IndexMeta
	if err := json.Unmarshal(data, &metas); err != nil {
		return nil, reederr.Wrap(reederr.KindIndexConfigInvalid, "parsing indices metadata", err).WithPath(db.metadataPath())
	}
	return metas, nil
}

func (db *Database) saveIndexMetadata(metas []IndexMeta) error {
	data, err := json.MarshalIndent(metas, "", "  ")
	if err != nil {
		return reederr.Wrap(reederr.KindIO, "encoding indices metadata", err)
	}
	if err := os.WriteFile(db.metadataPath(), data, 0o644); err != nil {
		return reederr.Wrap(reederr.KindIO, "writing indices metadata", err).WithPath(db.metadataPath())
	}
	return nil
}

// CreateIndex builds a secondary index over tableName.column, backed by
// backend ("hash" or "btree"; empty uses the configured default;
// "trie_btree" is rejected as an unknown backend), populates it from the current snapshot, and records it in
// indices/metadata.json so ListIndices and a later open() can report it.
func (db *Database) CreateIndex(tableName, column, backend string) error {
	if backend == "" {
		backend = db.Config.Indices.DefaultBackend
	}
	be, err := index.ParseBackend(backend)
	if err != nil {
		return err
	}

	metas, err := db.loadIndexMetadata()
	if err != nil {
		return err
	}
	for _, m := range metas {
		if m.Table == tableName && m.Column == column {
			return reederr.New(reederr.KindIndexConfigInvalid, "index already exists for "+tableName+"."+column)
		}
	}

	var idx index.Index
	var path string
	switch be {
	case index.Hash:
		idx = index.NewHashMapIndex()
	case index.BTree:
		path = filepath.Join(db.Root, "indices", tableName+"."+column+".btree")
		bt, err := index.NewBTreeIndex(path)
		if err != nil {
			return err
		}
		idx = bt
	default:
		return reederr.New(reederr.KindIndexBackendUnknown, "unsupported backend for create_index: "+be.String())
	}

	if err := db.populateIndex(idx, tableName, column); err != nil {
		return err
	}
	if flusher, ok := idx.(interface{ Flush() error }); ok {
		if err := flusher.Flush(); err != nil {
			return err
		}
	}

	metas = append(metas, IndexMeta{Table: tableName, Column: column, Backend: be.String(), Path: path})
	return db.saveIndexMetadata(metas)
}

func (db *Database) populateIndex(idx index.Index, tableName, column string) error {
	tbl, err := table.Open(db.Root, tableName)
	if err != nil {
		return err
	}
	schema, err := query.LoadSchema(filepath.Join(tbl.Dir, "schema.toml"))
	if err != nil {
		return err
	}
	rows, err := tbl.ReadCurrent()
	if err != nil {
		return err
	}
	for rowID, r := range rows {
		var value string
		if column == "key" {
			value = r.Key
		} else {
			colIdx := schema.ColumnIndex(column)
			if colIdx < 0 || colIdx >= len(r.Values) {
				continue
			}
			value = r.Values[colIdx]
		}
		if err := idx.Insert(value, rowID); err != nil {
			return err
		}
	}
	return nil
}

// ListIndices returns every secondary index recorded in
// indices/metadata.json.
func (db *Database) ListIndices() ([]IndexMeta, error) {
	return db.loadIndexMetadata()
}

// DropIndex removes one index's metadata entry and backing file, if
// any.
func (db *Database) DropIndex(tableName, column string) error {
	metas, err := db.loadIndexMetadata()
	if err != nil {
		return err
	}
	kept := metas[:0]
	found := false
	for _, m := range metas {
		if m.Table == tableName && m.Column == column {
			found = true
			if m.Path != "" {
				if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
					return reederr.Wrap(reederr.KindIO, "removing index file", err).WithPath(m.Path)
				}
			}
			continue
		}
		kept = append(kept, m)
	}
	if !found {
		return reederr.New(reederr.KindIndexConfigInvalid, "no such index: "+tableName+"."+column)
	}
	return db.saveIndexMetadata(kept)
}

// RebuildIndex drops and repopulates tableName.column on its current
// backend, correcting drift after bulk writes bypassed it.
func (db *Database) RebuildIndex(tableName, column string) error {
	metas, err := db.loadIndexMetadata()
	if err != nil {
		return err
	}
	for _, m := range metas {
		if m.Table == tableName && m.Column == column {
			if err := db.DropIndex(tableName, column); err != nil {
				return err
			}
			return db.CreateIndex(tableName, column, m.Backend)
		}
	}
	return reederr.New(reederr.KindIndexConfigInvalid, "no such index: "+tableName+"."+column)
}

// MigrateIndex rebuilds tableName.column on a different backend.
func (db *Database) MigrateIndex(tableName, column, newBackend string) error {
	if _, err := db.loadIndexMetadata(); err != nil {
		return err
	}
	if err := db.DropIndex(tableName, column); err != nil {
		return err
	}
	return db.CreateIndex(tableName, column, newBackend)
}
