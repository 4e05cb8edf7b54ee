// Package index implements the pluggable Index backend: Hash /
// B+-Tree / hierarchy-trie-on-B+-Tree backends over row-id sets, plus
// the auto-indexing counter that promotes a hot query column to a real
// index. The advisor's per-query counters persist in a badger.DB, the
// same keyed-persistence store used for durable counters elsewhere.
package index

import (
	"sort"

	"github.com/reedbase/reedbase/pkg/btree"
	"github.com/reedbase/reedbase/pkg/reederr"
)

// Backend names the storage strategy behind an Index.
type Backend int

const (
	Hash Backend = iota
	BTree
	TrieBTree
)

func (b Backend) String() string {
	switch b {
	case Hash:
		return "hash"
	case BTree:
		return "btree"
	case TrieBTree:
		return "trie_btree"
	default:
		return "unknown"
	}
}

// ParseBackend maps a config string to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "hash":
		return Hash, nil
	case "btree":
		return BTree, nil
	case "trie_btree":
		return TrieBTree, nil
	default:
		return 0, reederr.New(reederr.KindIndexBackendUnknown, "unknown index backend "+s)
	}
}

// Index is the common trait every backend implements: a map from some
// projection of a row's key to the set of row identifiers (line offsets
// into the table's current snapshot) carrying that projection's value.
type Index interface {
	Get(key string) ([]int, bool)
	Range(lo, hi string) map[string][]int
	Insert(key string, rowID int) error
	Delete(key string, rowID int) error
	Iter() map[string][]int
	Backend() Backend
	MemoryUsage() int64
	DiskUsage() int64
}

// HashMapIndex is an in-memory, O(1)-point-lookup index with no range
// support.
type HashMapIndex struct {
	data map[string][]int
}

// NewHashMapIndex creates an empty in-memory hash index.
func NewHashMapIndex() *HashMapIndex {
	return &HashMapIndex{data: make(map[string][]int)}
}

func (h *HashMapIndex) Get(key string) ([]int, bool) {
	rows, ok := h.data[key]
	return rows, ok
}

func (h *HashMapIndex) Range(lo, hi string) map[string][]int {
	return nil
}

func (h *HashMapIndex) Insert(key string, rowID int) error {
	h.data[key] = appendUnique(h.data[key], rowID)
	return nil
}

func (h *HashMapIndex) Delete(key string, rowID int) error {
	h.data[key] = removeInt(h.data[key], rowID)
	if len(h.data[key]) == 0 {
		delete(h.data, key)
	}
	return nil
}

func (h *HashMapIndex) Iter() map[string][]int { return h.data }
func (h *HashMapIndex) Backend() Backend       { return Hash }
func (h *HashMapIndex) MemoryUsage() int64 {
	var n int64
	for k, v := range h.data {
		n += int64(len(k)) + int64(len(v))*8
	}
	return n
}
func (h *HashMapIndex) DiskUsage() int64 { return 0 }

// BTreeIndex wraps the B+-Tree engine, supporting ordered range scans.
// Row-id sets are encoded as comma-separated decimal for the tree's
// opaque []byte values.
type BTreeIndex struct {
	tree *btree.Tree
}

// NewBTreeIndex opens or creates the backing .btree file.
func NewBTreeIndex(path string) (*BTreeIndex, error) {
	t, err := btree.OpenOrCreate(path, btree.DefaultOrder)
	if err != nil {
		return nil, err
	}
	return &BTreeIndex{tree: t}, nil
}

func (b *BTreeIndex) Get(key string) ([]int, bool) {
	v, ok := b.tree.Get(key)
	if !ok {
		return nil, false
	}
	return decodeRowIDs(v), true
}

func (b *BTreeIndex) Range(lo, hi string) map[string][]int {
	out := make(map[string][]int)
	for _, kv := range b.tree.Range(lo, hi) {
		out[kv[0]] = decodeRowIDs([]byte(kv[1]))
	}
	return out
}

func (b *BTreeIndex) Insert(key string, rowID int) error {
	existing, _ := b.Get(key)
	return b.tree.Insert(key, encodeRowIDs(appendUnique(existing, rowID)))
}

func (b *BTreeIndex) Delete(key string, rowID int) error {
	existing, ok := b.Get(key)
	if !ok {
		return nil
	}
	remaining := removeInt(existing, rowID)
	if len(remaining) == 0 {
		return b.tree.Delete(key)
	}
	return b.tree.Insert(key, encodeRowIDs(remaining))
}

func (b *BTreeIndex) Iter() map[string][]int {
	out := make(map[string][]int)
	for _, kv := range b.tree.Iter() {
		out[kv[0]] = decodeRowIDs([]byte(kv[1]))
	}
	return out
}

func (b *BTreeIndex) Backend() Backend      { return BTree }
func (b *BTreeIndex) MemoryUsage() int64    { return int64(b.tree.Len()) * 64 }
func (b *BTreeIndex) DiskUsage() int64      { return 0 }
func (b *BTreeIndex) Flush() error          { return b.tree.Flush() }
func (b *BTreeIndex) Close() error          { return b.tree.Close() }

// TrieBTreeIndex is the hierarchy index: RBKS v2 keys are projected to
// their dot-joined segment path with modifiers dropped (e.g. "page.title"
// from "page.title<de,prod>") and stored in a B+-Tree keyed by that path, so a
// `LIKE 'page.%'` query becomes a single ordered range scan.
type TrieBTreeIndex struct {
	*BTreeIndex
}

// NewTrieBTreeIndex opens or creates the backing .btree file for a
// hierarchy-prefix index.
func NewTrieBTreeIndex(path string) (*TrieBTreeIndex, error) {
	b, err := NewBTreeIndex(path)
	if err != nil {
		return nil, err
	}
	return &TrieBTreeIndex{BTreeIndex: b}, nil
}

func (t *TrieBTreeIndex) Backend() Backend { return TrieBTree }

func appendUnique(rows []int, rowID int) []int {
	i := sort.SearchInts(rows, rowID)
	if i < len(rows) && rows[i] == rowID {
		return rows
	}
	out := make([]int, len(rows)+1)
	copy(out, rows[:i])
	out[i] = rowID
	copy(out[i+1:], rows[i:])
	return out
}

func removeInt(rows []int, rowID int) []int {
	i := sort.SearchInts(rows, rowID)
	if i >= len(rows) || rows[i] != rowID {
		return rows
	}
	return append(rows[:i], rows[i+1:]...)
}
