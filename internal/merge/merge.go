// Package merge implements the merging iterator: K sorted iterators
// combined into one, with explicit priority so the lowest source index
// (newest) wins when the same key appears in more than one input.
package merge

import "lsmkv/internal/bytestream"

// Item is anything the merging iterator can order by key.
type Item interface {
	ItemKey() []byte
}

// Source is a single sorted input to the merge: a forward iterator over
// Item in ascending key order.
type Source[T Item] interface {
	Next() (T, bool)
}

type entry[T Item] struct {
	key   []byte
	item  T
	index int
}

// Iterator combines a priority-ordered list of Source into one ascending
// stream. Index 0 is the newest source; for any key present in more than
// one source, the lowest-index source's value is yielded and the rest are
// discarded.
//
// The iterator is read-only: it exposes no way to mutate an underlying
// item, matching the reference implementation's contract that acquiring a
// mutable reference through a merge iterator is a programming error.
type Iterator[T Item] struct {
	sources []Source[T]
	buffer  []entry[T]
}

// New constructs a merging iterator over sources, seeding its internal
// buffer with one head entry per source.
func New[T Item](sources []Source[T]) *Iterator[T] {
	m := &Iterator[T]{sources: sources}
	for i := range sources {
		m.fill(i)
	}
	return m
}

// Next pops the smallest-keyed buffered entry, yields it, and refills the
// buffer from that entry's source.
func (m *Iterator[T]) Next() (T, bool) {
	var zero T
	if len(m.buffer) == 0 {
		return zero, false
	}
	head := m.buffer[0]
	m.buffer = m.buffer[1:]
	m.fill(head.index)
	return head.item, true
}

// fill pulls the next item from sources[index] and inserts it into the
// sorted buffer. On a key collision with an existing buffer entry, the
// lower source index wins: if the new item loses, fill retries by pulling
// the next item from the same source; if the new item wins, the evicted
// entry's source takes over the retry loop so every live source always has
// exactly one representative buffered (or none, once exhausted).
func (m *Iterator[T]) fill(index int) {
	for {
		item, ok := m.sources[index].Next()
		if !ok {
			return
		}
		key := item.ItemKey()
		pos, found := m.search(key)
		if found {
			existing := m.buffer[pos]
			if index < existing.index {
				loser := existing.index
				m.buffer[pos] = entry[T]{key: key, item: item, index: index}
				index = loser
				continue
			}
			continue
		}
		m.insertAt(pos, entry[T]{key: key, item: item, index: index})
		return
	}
}

// search binary-searches the sorted buffer for key, returning its position
// and whether it was found. When not found, the position is the correct
// insertion point to keep the buffer sorted.
func (m *Iterator[T]) search(key []byte) (int, bool) {
	lo, hi := 0, len(m.buffer)
	for lo < hi {
		mid := (lo + hi) / 2
		c := bytestream.CompareBytes(m.buffer[mid].key, key)
		switch {
		case c == 0:
			return mid, true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

func (m *Iterator[T]) insertAt(pos int, e entry[T]) {
	m.buffer = append(m.buffer, entry[T]{})
	copy(m.buffer[pos+1:], m.buffer[pos:len(m.buffer)-1])
	m.buffer[pos] = e
}
