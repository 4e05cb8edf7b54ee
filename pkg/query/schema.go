package query

import (
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/reedbase/reedbase/pkg/reederr"
)

// Column is one named field from a table's optional schema.toml.
type Column struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

type keyValidationSection struct {
	Format string `toml:"format"`
}

type schemaFile struct {
	Columns       []Column              `toml:"columns"`
	KeyValidation *keyValidationSection `toml:"key_validation"`
}

// Schema names a table's columns beyond the bare key, and whether keys
// are enforced against the RBKS v2 grammar on write. Consulted only to
// resolve column names in queries and gate key validation, never to
// validate value shapes (that remains the per-type column constraint
// check, out of scope for this core).
type Schema struct {
	Columns       []string // positional, excludes the key column
	ValidatesRBKS bool
}

// LoadSchema reads tables/<name>/schema.toml if present. A missing file
// yields a nil Schema: the caller falls back to positional names
// (c1, c2, ...).
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "reading schema.toml", err).WithPath(path)
	}
	var raw schemaFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, reederr.Wrap(reederr.KindValidationError, "parsing schema.toml", err).WithPath(path)
	}
	s := &Schema{ValidatesRBKS: raw.KeyValidation != nil}
	for _, c := range raw.Columns {
		s.Columns = append(s.Columns, c.Name)
	}
	return s, nil
}

// ColumnName returns the name of the i-th value column (0-indexed,
// after the key), falling back to "c<i+1>" when no schema is loaded or
// the schema has fewer columns than the row.
func (s *Schema) ColumnName(i int) string {
	if s != nil && i < len(s.Columns) {
		return s.Columns[i]
	}
	return "c" + strconv.Itoa(i+1)
}

// ColumnIndex returns the positional index of name among the schema's
// value columns, or -1 if name is not recognised (including when name
// is the reserved "key" column, which callers check for separately).
func (s *Schema) ColumnIndex(name string) int {
	if s == nil {
		return -1
	}
	for i, c := range s.Columns {
		if c == name {
			return i
		}
	}
	return -1
}
