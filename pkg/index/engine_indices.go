package index

import (
	"strings"

	"github.com/reedbase/reedbase/pkg/rbks"
)

// EngineIndices bundles the four concrete indices maintained for any
// table whose keys obey RBKS v2: namespace, language, environment, and
// hierarchy prefix. Each is kept consistent by the table engine's
// insert/delete hooks.
type EngineIndices struct {
	Namespace   Index
	Language    Index
	Environment Index
	Hierarchy   Index
}

// NewEngineIndices builds the default in-memory set (Hash for the
// equality-only projections, TrieBTree for the prefix-scannable
// hierarchy projection).
func NewEngineIndices(hierarchyPath string) (*EngineIndices, error) {
	hierarchy, err := NewTrieBTreeIndex(hierarchyPath)
	if err != nil {
		return nil, err
	}
	return &EngineIndices{
		Namespace:   NewHashMapIndex(),
		Language:    NewHashMapIndex(),
		Environment: NewHashMapIndex(),
		Hierarchy:   hierarchy,
	}, nil
}

// IndexRow updates every engine index for one row whose key is a valid
// RBKS v2 key. Rows with non-RBKS keys are silently skipped: the engine
// indices only ever cover the subset of tables that opt into the
// structured-key convention.
func (e *EngineIndices) IndexRow(key string, rowID int) error {
	k, err := rbks.Parse(key)
	if err != nil {
		return nil
	}
	if err := e.Namespace.Insert(k.Namespace, rowID); err != nil {
		return err
	}
	if k.Language != "" {
		if err := e.Language.Insert(k.Language, rowID); err != nil {
			return err
		}
	}
	if k.Environment != "" {
		if err := e.Environment.Insert(k.Environment, rowID); err != nil {
			return err
		}
	}
	prefix := strings.Join(k.Segments(), ".")
	return e.Hierarchy.Insert(prefix, rowID)
}

// UnindexRow reverses IndexRow for a deleted or superseded row.
func (e *EngineIndices) UnindexRow(key string, rowID int) error {
	k, err := rbks.Parse(key)
	if err != nil {
		return nil
	}
	if err := e.Namespace.Delete(k.Namespace, rowID); err != nil {
		return err
	}
	if k.Language != "" {
		if err := e.Language.Delete(k.Language, rowID); err != nil {
			return err
		}
	}
	if k.Environment != "" {
		if err := e.Environment.Delete(k.Environment, rowID); err != nil {
			return err
		}
	}
	prefix := strings.Join(k.Segments(), ".")
	return e.Hierarchy.Delete(prefix, rowID)
}

// PrefixScan returns row ids for every hierarchy key starting with
// prefix, the fast path for `LIKE 'prefix%'` queries.
func (e *EngineIndices) PrefixScan(prefix string) []int {
	matches := e.Hierarchy.Range(prefix, prefix+"\xff")
	var rows []int
	for k, ids := range matches {
		if strings.HasPrefix(k, prefix) {
			rows = append(rows, ids...)
		}
	}
	return rows
}
