package lsm

import (
	"lsmkv/internal/memtable"
	"lsmkv/internal/merge"
	"lsmkv/internal/sstable"
)

// kvItem is the merge.Item every source in this package yields: a key
// paired with its record, sufficient to reconstruct an sstable.Item at the
// writer boundary.
type kvItem struct {
	key    []byte
	record memtable.Record
}

func (i kvItem) ItemKey() []byte { return i.key }

// memTableSource replays a frozen memtable's in-order traversal as a
// merge.Source, used both when flushing a memtable to level 0 and as one
// input among several when the engine later builds a richer merge (scan).
// Each is callback-based, so the whole traversal is collected up front into
// a slice; a flushed memtable is bounded by MemtableByteBudget, so this
// never holds more than one generation's worth of data in memory at once.
type memTableSource struct {
	items []kvItem
	pos   int
}

func newMemTableSource(mt *memtable.MemTable) *memTableSource {
	s := &memTableSource{}
	mt.Each(func(key []byte, entry *memtable.Entry) bool {
		entry.Lock()
		rec := entry.Record
		entry.Unlock()
		s.items = append(s.items, kvItem{key: key, record: rec})
		return true
	})
	return s
}

func (s *memTableSource) Next() (kvItem, bool) {
	if s.pos >= len(s.items) {
		return kvItem{}, false
	}
	v := s.items[s.pos]
	s.pos++
	return v, true
}

// sstableIterSource adapts an sstable.RecordIterator into a merge.Source.
// A parse error mid-run surfaces as early exhaustion; the caller already
// validated the run at Open time, so a later error here indicates the
// region was corrupted after opening and is treated as end-of-input rather
// than threading a second error channel through the merge iterator.
type sstableIterSource struct {
	it *sstable.RecordIterator
}

func (s *sstableIterSource) Next() (kvItem, bool) {
	key, rec, ok, err := s.it.Next()
	if err != nil || !ok {
		return kvItem{}, false
	}
	return kvItem{key: key, record: rec}, true
}

// mergeSource adapts merge.Iterator into an sstable.Source, the boundary a
// compaction crosses to hand merged records to a Writer.
type mergeSource struct {
	it *merge.Iterator[kvItem]
}

func (s *mergeSource) Next() (sstable.Item, bool) {
	item, ok := s.it.Next()
	if !ok {
		return sstable.Item{}, false
	}
	return sstable.Item{Key: item.key, Record: item.record}, true
}

// kvItemSource is the common shape of memTableSource and sstableIterSource;
// asSSTableSource adapts either directly into an sstable.Source, the boundary a
// single-memtable flush crosses without going through a merge at all.
type kvItemSource interface {
	Next() (kvItem, bool)
}

type kvToItemAdapter struct {
	src kvItemSource
}

func asSSTableSource(src kvItemSource) sstable.Source {
	return kvToItemAdapter{src: src}
}

func (a kvToItemAdapter) Next() (sstable.Item, bool) {
	item, ok := a.src.Next()
	if !ok {
		return sstable.Item{}, false
	}
	return sstable.Item{Key: item.key, Record: item.record}, true
}
