package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashMapIndex_InsertGetDelete(t *testing.T) {
	idx := NewHashMapIndex()
	require.NoError(t, idx.Insert("page", 1))
	require.NoError(t, idx.Insert("page", 2))

	rows, ok := idx.Get("page")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, rows)

	require.NoError(t, idx.Delete("page", 1))
	rows, ok = idx.Get("page")
	require.True(t, ok)
	assert.Equal(t, []int{2}, rows)

	require.NoError(t, idx.Delete("page", 2))
	_, ok = idx.Get("page")
	assert.False(t, ok)
}

func TestBTreeIndex_RangeScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "col.btree")
	idx, err := NewBTreeIndex(path)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Insert("a", 1))
	require.NoError(t, idx.Insert("b", 2))
	require.NoError(t, idx.Insert("c", 3))

	got := idx.Range("a", "b")
	assert.ElementsMatch(t, []int{1}, got["a"])
	assert.ElementsMatch(t, []int{2}, got["b"])
	_, hasC := got["c"]
	assert.False(t, hasC)
}

func TestEngineIndices_IndexAndPrefixScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hierarchy.btree")
	ei, err := NewEngineIndices(path)
	require.NoError(t, err)
	defer ei.Hierarchy.(*TrieBTreeIndex).Close()

	require.NoError(t, ei.IndexRow("page.title<de>", 10))
	require.NoError(t, ei.IndexRow("page.body<en>", 11))
	require.NoError(t, ei.IndexRow("user.name", 12))

	rows, ok := ei.Namespace.Get("page")
	require.True(t, ok)
	assert.ElementsMatch(t, []int{10, 11}, rows)

	langRows, ok := ei.Language.Get("de")
	require.True(t, ok)
	assert.Equal(t, []int{10}, langRows)

	prefixRows := ei.PrefixScan("page")
	assert.ElementsMatch(t, []int{10, 11}, prefixRows)
}

func TestAdvisor_CrossesThresholdOnce(t *testing.T) {
	dir := t.TempDir()
	adv, err := OpenAdvisor(dir, 3)
	require.NoError(t, err)
	defer adv.Close()

	var crossed bool
	for i := 0; i < 3; i++ {
		crossed, err = adv.RecordUse("text", "namespace", OpEquals)
		require.NoError(t, err)
	}
	assert.True(t, crossed)

	crossed, err = adv.RecordUse("text", "namespace", OpEquals)
	require.NoError(t, err)
	assert.False(t, crossed, "threshold should only fire once")

	count, err := adv.Count("text", "namespace", OpEquals)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestBackendFor(t *testing.T) {
	b, ok := BackendFor(OpEquals)
	assert.True(t, ok)
	assert.Equal(t, Hash, b)

	b, ok = BackendFor(OpPrefixLike)
	assert.True(t, ok)
	assert.Equal(t, BTree, b)

	_, ok = BackendFor(OpOther)
	assert.False(t, ok)
}
