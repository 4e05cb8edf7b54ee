// Package csvcodec is the single reference for ReedBase's on-disk row
// grammar: pipe-delimited, LF-terminated, no quoting, first column is the
// row key. Every other component round-trips through Parse/Serialize
// rather than re-implementing the grammar.
package csvcodec

import (
	"bytes"
	"sort"

	"github.com/reedbase/reedbase/pkg/reederr"
)

// Row is an ordered tuple (key, values...): Key holds the first field of
// the line and Values the fields after it.
type Row struct {
	Key    string
	Values []string
}

const delimiter = '|'

// Parse decodes a pipe-delimited, LF-terminated byte stream into rows.
// Empty lines are skipped. Malformed rows (none for this grammar besides
// an empty key) yield InvalidCsv.
func Parse(data []byte) ([]Row, error) {
	lines := bytes.Split(data, []byte{'\n'})
	rows := make([]Row, 0, len(lines))
	for i, line := range lines {
		if len(line) == 0 {
			continue
		}
		fields := bytes.Split(line, []byte{delimiter})
		key := string(fields[0])
		if key == "" {
			return nil, reederr.New(reederr.KindInvalidCSV, "empty key").WithLine(i + 1)
		}
		values := make([]string, len(fields)-1)
		for j, f := range fields[1:] {
			values[j] = string(f)
		}
		rows = append(rows, Row{Key: key, Values: values})
	}
	return rows, nil
}

// Serialize encodes rows back to the pipe-delimited grammar. The caller
// must have already sorted and de-duplicated rows; Serialize enforces
// both as a defensive check and fails loudly rather than silently
// writing a corrupt snapshot.
func Serialize(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	var prevKey string
	for i, row := range rows {
		if row.Key == "" {
			return nil, reederr.New(reederr.KindInvalidCSV, "empty key").WithLine(i + 1)
		}
		if i > 0 && row.Key <= prevKey {
			return nil, reederr.New(reederr.KindInvalidCSV, "rows not strictly increasing by key").WithLine(i + 1)
		}
		buf.WriteString(row.Key)
		for _, v := range row.Values {
			buf.WriteByte(delimiter)
			buf.WriteString(v)
		}
		buf.WriteByte('\n')
		prevKey = row.Key
	}
	return buf.Bytes(), nil
}

// SortRows returns a new, key-sorted copy of rows, restoring the durable
// ordering invariant before a snapshot is written.
func SortRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Dedupe collapses rows with duplicate keys, keeping the last occurrence
//, the convention every writer in this engine relies on when merging a
// base snapshot with a change set (last write in slice order wins).
func Dedupe(rows []Row) []Row {
	byKey := make(map[string]int, len(rows))
	order := make([]string, 0, len(rows))
	for _, r := range rows {
		if _, seen := byKey[r.Key]; !seen {
			order = append(order, r.Key)
		}
		byKey[r.Key] = -1
	}
	latest := make(map[string]Row, len(rows))
	for _, r := range rows {
		latest[r.Key] = r
	}
	out := make([]Row, 0, len(order))
	for _, k := range order {
		out = append(out, latest[k])
	}
	return out
}

// Find performs a binary search for key in a sorted row slice, returning
// the row and true if present.
func Find(rows []Row, key string) (Row, bool) {
	i := sort.Search(len(rows), func(i int) bool { return rows[i].Key >= key })
	if i < len(rows) && rows[i].Key == key {
		return rows[i], true
	}
	return Row{}, false
}
