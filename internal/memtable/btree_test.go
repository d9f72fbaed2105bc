package memtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// expectRoundTrip inserts every key in [0, 2n] except `at`, then inserts
// `at` last, and checks every key in [0, 2n] reads back its expected value —
// ported from the reference implementation's expect_ok<N>(at), covering
// the left/median/right split cases depending on where `at` falls.
func expectRoundTrip(t *testing.T, n int, at uint64) {
	t.Helper()
	tree := New[uint64, uint64](n, compareUint64)
	top := uint64(2 * n)
	for i := uint64(0); i <= top; i++ {
		if i != at {
			tree.Insert(i, i*233+2333)
		}
	}
	tree.Insert(at, at*233+2333)

	for key := uint64(0); key <= top; key++ {
		value, ok := tree.Get(key)
		assert.True(t, ok, "key %d missing", key)
		assert.Equal(t, key*233+2333, value)
	}
	assert.Equal(t, int(top+1), tree.Len())
}

func TestBTreeLeftInsert(t *testing.T) {
	for i := uint64(0); i <= 6; i++ {
		expectRoundTrip(t, 7, i)
	}
}

func TestBTreeMedianInsert(t *testing.T) {
	expectRoundTrip(t, 7, 7)
}

func TestBTreeRightInsert(t *testing.T) {
	for i := uint64(8); i <= 14; i++ {
		expectRoundTrip(t, 7, i)
	}
}

func TestBTreeStress(t *testing.T) {
	const loops = 23333
	tree := New[uint64, uint64](5, compareUint64)
	for key := uint64(1); key <= loops; key++ {
		tree.Insert(key, key*2+1)
	}
	for key := uint64(1); key <= loops; key++ {
		value, ok := tree.Get(key)
		assert.True(t, ok)
		assert.Equal(t, key*2+1, value)
	}
}

func TestBTreeOverwriteReplaces(t *testing.T) {
	tree := New[uint64, uint64](3, compareUint64)
	assert.False(t, tree.Insert(1, 10))
	assert.False(t, tree.Insert(2, 20))
	assert.True(t, tree.Insert(1, 11))

	v, ok := tree.Get(1)
	assert.True(t, ok)
	assert.Equal(t, uint64(11), v)
	assert.Equal(t, 2, tree.Len())
}

func TestBTreeMissingKey(t *testing.T) {
	tree := New[uint64, uint64](4, compareUint64)
	tree.Insert(5, 50)
	_, ok := tree.Get(999)
	assert.False(t, ok)
}

// TestBTreeInOrderTraversal validates that the node layout (child[0],
// key[0], child[1], ..., child[count]) makes in-order traversal of an
// arbitrarily-inserted key set yield ascending order.
func TestBTreeInOrderTraversal(t *testing.T) {
	tree := New[uint64, uint64](3, compareUint64)
	inserted := []uint64{50, 10, 40, 20, 60, 30, 5, 70, 15, 25, 35, 45, 55, 65}
	for _, k := range inserted {
		tree.Insert(k, k)
	}

	var seen []uint64
	tree.Each(func(k, v uint64) bool {
		seen = append(seen, k)
		assert.Equal(t, k, v)
		return true
	})

	assert.Len(t, seen, len(inserted))
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1], seen[i])
	}
}

// TestBTreeNoLostValuesOnOverwrite checks the closest Go-meaningful analogue
// of a "no memory leak on overwrite" property: Go has no deterministic
// destructor to count invocations of, so instead we
// assert that every overwrite fully replaces the prior value (no duplicate
// or stale slot survives a split/shift), which is the only leak-adjacent
// behavior a garbage-collected implementation can meaningfully test.
func TestBTreeNoLostValuesOnOverwrite(t *testing.T) {
	tree := New[uint64, uint64](2, compareUint64)
	keys := []uint64{10, 20, 30, 40, 50}
	for _, k := range keys {
		tree.Insert(k, k*100)
	}
	for _, k := range keys {
		tree.Insert(k, k*1000)
	}
	assert.Equal(t, len(keys), tree.Len())
	for _, k := range keys {
		v, ok := tree.Get(k)
		assert.True(t, ok)
		assert.Equal(t, k*1000, v)
	}
}
