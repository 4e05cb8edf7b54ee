package merge

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/reedbase/reedbase/pkg/csvcodec"
	"github.com/reedbase/reedbase/pkg/reederr"
)

// ConflictMeta is the `[conflict]` section of a persisted conflict file.
type ConflictMeta struct {
	Key       string `toml:"key"`
	Table     string `toml:"table"`
	Timestamp int64  `toml:"timestamp"`
}

// RowValues is one variant section (`[base]`, `[change_a]`, `[change_b]`).
type RowValues struct {
	Values []string `toml:"values"`
}

// ConflictFile is the on-disk shape of a Manual-policy conflict: one
// TOML document per unresolved key, named <ts>-<uuid>.conflict.
type ConflictFile struct {
	Conflict ConflictMeta `toml:"conflict"`
	Base     *RowValues   `toml:"base,omitempty"`
	ChangeA  RowValues    `toml:"change_a"`
	ChangeB  RowValues    `toml:"change_b"`
}

// conflictPath names a conflict file <ts>-<uuid>.conflict: the
// timestamp orders it alongside version.log, and the uuid suffix keeps
// two conflicting keys resolved in the same commit from colliding on
// one path.
func conflictPath(tableDir string, ts int64) string {
	name := strconv.FormatInt(ts, 10) + "-" + uuid.NewString() + ".conflict"
	return filepath.Join(tableDir, "conflicts", name)
}

// WriteConflictFile persists c (one key's three-way conflict) under
// tableDir/conflicts/<ts>-<uuid>.conflict, blocking that key until
// resolved.
func WriteConflictFile(tableDir string, ts int64, table string, c Conflict) (string, error) {
	dir := filepath.Join(tableDir, "conflicts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", reederr.Wrap(reederr.KindIO, "creating conflicts directory", err).WithPath(dir)
	}
	doc := ConflictFile{
		Conflict: ConflictMeta{Key: c.Key, Table: table, Timestamp: ts},
		ChangeA:  RowValues{Values: rowValues(c.ChangeA)},
		ChangeB:  RowValues{Values: rowValues(c.ChangeB)},
	}
	if c.Base != nil {
		doc.Base = &RowValues{Values: rowValues(c.Base)}
	}
	data, err := toml.Marshal(doc)
	if err != nil {
		return "", reederr.Wrap(reederr.KindIO, "encoding conflict file", err)
	}
	path := conflictPath(tableDir, ts)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", reederr.Wrap(reederr.KindIO, "writing conflict file", err).WithPath(path)
	}
	return path, nil
}

func rowValues(r *csvcodec.Row) []string {
	if r == nil {
		return nil
	}
	out := append([]string{r.Key}, r.Values...)
	return out
}

// ReadConflictFile parses one persisted conflict document.
func ReadConflictFile(path string) (ConflictFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ConflictFile{}, reederr.Wrap(reederr.KindIO, "reading conflict file", err).WithPath(path)
	}
	var doc ConflictFile
	if err := toml.Unmarshal(data, &doc); err != nil {
		return ConflictFile{}, reederr.Wrap(reederr.KindValidationError, "parsing conflict file", err).WithPath(path)
	}
	return doc, nil
}

// ListConflictFiles returns the paths of every pending conflict under
// tableDir/conflicts, sorted by timestamp.
func ListConflictFiles(tableDir string) ([]string, error) {
	dir := filepath.Join(tableDir, "conflicts")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "listing conflicts directory", err).WithPath(dir)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

// RowFromValues reconstructs a csvcodec.Row from a persisted
// [base]/[change_a]/[change_b] values array (key followed by columns).
func RowFromValues(v []string) csvcodec.Row {
	if len(v) == 0 {
		return csvcodec.Row{}
	}
	return csvcodec.Row{Key: v[0], Values: append([]string(nil), v[1:]...)}
}

// DeleteConflictFile removes a resolved conflict file.
func DeleteConflictFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return reederr.Wrap(reederr.KindIO, "removing conflict file", err).WithPath(path)
	}
	return nil
}
