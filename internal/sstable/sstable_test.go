package sstable_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsmkv/internal/bloom"
	"lsmkv/internal/hash"
	"lsmkv/internal/memtable"
	"lsmkv/internal/sstable"
)

type sliceSource struct {
	items []sstable.Item
	pos   int
}

func (s *sliceSource) Next() (sstable.Item, bool) {
	if s.pos >= len(s.items) {
		return sstable.Item{}, false
	}
	v := s.items[s.pos]
	s.pos++
	return v, true
}

func writeRun(t *testing.T, path string, items []sstable.Item) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := sstable.NewDefaultWriter(f)
	require.NoError(t, w.Write(&sliceSource{items: items}))
}

// TestSSTableRoundTrip writes 5000 sequential keys, reopens the run, and
// confirms every key reads back its exact value and every absent key in
// the gaps reports a miss.
func TestSSTableRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sst")

	const n = 5000
	var items []sstable.Item
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		value := []byte(fmt.Sprintf("value-%05d", i))
		items = append(items, sstable.Item{Key: key, Record: memtable.NewLive(value, false)})
	}
	writeRun(t, path, items)

	r, err := sstable.Open(path, bloom.DefaultML, bloom.DefaultK, hash.SfHash64Strategy{})
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		rec, ok, err := r.Get(key)
		require.NoError(t, err)
		require.True(t, ok, "key %s missing", key)
		live, isLive := rec.(memtable.Live)
		assert.True(t, isLive)
		assert.Equal(t, fmt.Sprintf("value-%05d", i), string(live.Value))
	}

	_, ok, err := r.Get([]byte("key-absent"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSSTableTombstoneRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sst")

	items := []sstable.Item{
		{Key: []byte("a"), Record: memtable.NewLive([]byte("1"), false)},
		{Key: []byte("b"), Record: memtable.NewTombstone(false)},
		{Key: []byte("c"), Record: memtable.NewLive([]byte("3"), false)},
	}
	writeRun(t, path, items)

	r, err := sstable.Open(path, bloom.DefaultML, bloom.DefaultK, hash.SfHash64Strategy{})
	require.NoError(t, err)
	defer r.Close()

	rec, ok, err := r.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	_, isTombstone := rec.(memtable.Tombstone)
	assert.True(t, isTombstone)
}

// TestSSTableSkipsCachedEntries confirms a record whose provenance flag is
// cache-aside is never persisted into a run.
func TestSSTableSkipsCachedEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sst")

	items := []sstable.Item{
		{Key: []byte("a"), Record: memtable.NewLive([]byte("1"), false)},
		{Key: []byte("b"), Record: memtable.NewLive([]byte("2"), true)},
		{Key: []byte("c"), Record: memtable.NewLive([]byte("3"), false)},
	}
	writeRun(t, path, items)

	r, err := sstable.Open(path, bloom.DefaultML, bloom.DefaultK, hash.SfHash64Strategy{})
	require.NoError(t, err)
	defer r.Close()

	_, ok, err := r.Get([]byte("b"))
	require.NoError(t, err)
	assert.False(t, ok, "cached entry must not survive a flush")

	rec, ok, err := r.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	live := rec.(memtable.Live)
	assert.Equal(t, "1", string(live.Value))
}

// TestSSTableRecordsReturnedAsAuthoritative confirms a reader never marks
// its own surfaced records cache-aside provenance: a run's contents are the
// authoritative data for its level (the cached flag belongs only to values
// the engine materializes into level-0 from a lower level, internal/lsm).
// A reader that set cached=true on its own output would make compaction
// silently drop every record it merges, since the writer skips cached
// items by design (TestSSTableSkipsCachedEntries).
func TestSSTableRecordsReturnedAsAuthoritative(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sst")

	items := []sstable.Item{
		{Key: []byte("a"), Record: memtable.NewLive([]byte("1"), false)},
	}
	writeRun(t, path, items)

	r, err := sstable.Open(path, bloom.DefaultML, bloom.DefaultK, hash.SfHash64Strategy{})
	require.NoError(t, err)
	defer r.Close()

	rec, ok, err := r.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, rec.Cached())
}

func TestSSTableIterAscending(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sst")

	var items []sstable.Item
	want := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	for _, k := range want {
		items = append(items, sstable.Item{Key: []byte(k), Record: memtable.NewLive([]byte(k), false)})
	}
	writeRun(t, path, items)

	r, err := sstable.Open(path, bloom.DefaultML, bloom.DefaultK, hash.SfHash64Strategy{})
	require.NoError(t, err)
	defer r.Close()

	it := r.Iter()
	var got []string
	for {
		key, _, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, string(key))
	}
	assert.Equal(t, want, got)
}

func TestSSTableAnchorsForceEveryInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sst")

	const n = sstable.AnchorInterval*3 + 7
	var items []sstable.Item
	for i := 0; i < n; i++ {
		items = append(items, sstable.Item{
			Key:    []byte(fmt.Sprintf("k%05d", i)),
			Record: memtable.NewLive([]byte{byte(i)}, false),
		})
	}
	writeRun(t, path, items)

	r, err := sstable.Open(path, bloom.DefaultML, bloom.DefaultK, hash.SfHash64Strategy{})
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < n; i += 37 {
		key := []byte(fmt.Sprintf("k%05d", i))
		_, ok, err := r.Get(key)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestSSTableOpenRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.sst")
	require.NoError(t, os.WriteFile(path, make([]byte, 32), 0o644))

	_, err := sstable.Open(path, bloom.DefaultML, bloom.DefaultK, hash.SfHash64Strategy{})
	require.Error(t, err)
	var corrupt *sstable.ErrCorrupt
	assert.ErrorAs(t, err, &corrupt)
}
