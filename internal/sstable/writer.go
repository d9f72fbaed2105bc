package sstable

import (
	"bufio"
	"encoding/binary"
	"io"

	"lsmkv/internal/bloom"
	"lsmkv/internal/bytestream"
	"lsmkv/internal/hash"
	"lsmkv/internal/memtable"
	"lsmkv/internal/varint"
	lsmerrors "lsmkv/pkg/errors"
)

// Item is a single (key, record) pair a Writer consumes, already in
// ascending key order with no duplicate keys.
type Item struct {
	Key    []byte
	Record memtable.Record
}

// Source supplies Items to a Writer in ascending key order, e.g. the
// in-order traversal of a memtable being flushed, or the merging iterator
// over a set of sorted runs being compacted.
type Source interface {
	Next() (Item, bool)
}

type headerEntry struct {
	tag    uint64
	offset uint64
}

// Writer serializes a Source into the on-disk sorted-run format: a
// sequence of prefix-compressed records, a terminator, an index block of
// anchor offsets, a Bloom filter block, a header block, and an 16-byte
// footer (header offset + magic).
//
// Writer buffers output through a bufio.Writer sized to StagingBufferSize
// so random small records don't translate into one syscall apiece, and it
// never seeks backward: the footer only needs the header block's offset,
// which is already known by the time the footer is written.
type Writer struct {
	w        *bufio.Writer
	offset   uint64
	ml, k    int
	strategy hash.Strategy
}

// NewWriter creates a Writer over w, using the given Bloom filter
// parameters for the run's filter block.
func NewWriter(w io.Writer, ml, k int, strategy hash.Strategy) *Writer {
	return &Writer{
		w:        bufio.NewWriterSize(w, StagingBufferSize),
		ml:       ml,
		k:        k,
		strategy: strategy,
	}
}

// NewDefaultWriter creates a Writer using the default Bloom filter
// parameters and SfHash64 strategy.
func NewDefaultWriter(w io.Writer) *Writer {
	return NewWriter(w, bloom.DefaultML, bloom.DefaultK, hash.SfHash64Strategy{})
}

func (w *Writer) writeRaw(b []byte) error {
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	w.offset += uint64(len(b))
	return nil
}

func (w *Writer) writeVarint(v uint64) error {
	var buf [varint.MaxLen]byte
	n := varint.Encode(v, buf[:])
	return w.writeRaw(buf[:n])
}

// Write drains src, writing every non-cached item as a prefix-compressed
// record (cache-provenance entries must never be persisted into a run),
// then appends the index, Bloom filter, header, and footer blocks and
// flushes the staging buffer. An item whose key does not strictly follow
// the previous item's key fails with ErrWriterOutOfOrder.
func (w *Writer) Write(src Source) error {
	filter := bloom.New(w.ml, w.k, w.strategy)

	var anchorOffsets []uint64
	var lastKey []byte
	sinceAnchor := 0
	count := 0

	nextLive := func() (Item, bool) {
		for {
			item, ok := src.Next()
			if !ok || !item.Record.Cached() {
				return item, ok
			}
		}
	}

	item, ok := nextLive()
	for ok {
		// One item of lookahead tells whether this is the run's final record,
		// which is always written as an anchor.
		next, hasNext := nextLive()
		if count > 0 && bytestream.CompareBytes(item.Key, lastKey) <= 0 {
			return lsmerrors.ErrWriterOutOfOrder
		}

		isAnchor := count == 0 || sinceAnchor >= AnchorInterval || !hasNext
		commonLen := 0
		if isAnchor {
			anchorOffsets = append(anchorOffsets, w.offset)
			sinceAnchor = 0
		} else {
			commonLen = bytestream.CommonPrefixLen(lastKey, item.Key)
			sinceAnchor++
		}

		var flags uint64
		var value []byte
		switch rec := item.Record.(type) {
		case memtable.Tombstone:
			flags = 1
		case memtable.Live:
			value = rec.Value
		}

		if err := w.writeVarint(uint64(len(item.Key))); err != nil {
			return err
		}
		if err := w.writeVarint(uint64(commonLen)); err != nil {
			return err
		}
		if err := w.writeVarint(uint64(len(value))); err != nil {
			return err
		}
		if err := w.writeVarint(flags); err != nil {
			return err
		}
		if err := w.writeRaw(item.Key[commonLen:]); err != nil {
			return err
		}
		if err := w.writeRaw(value); err != nil {
			return err
		}

		filter.Insert(item.Key)
		lastKey = item.Key
		count++
		item, ok = next, hasNext
	}

	// Terminator record: keyLen=commonLen=valueLen=flags=0.
	for i := 0; i < 4; i++ {
		if err := w.writeVarint(0); err != nil {
			return err
		}
	}

	var headers []headerEntry

	indexOffset := w.offset
	if err := w.writeVarint(uint64(len(anchorOffsets))); err != nil {
		return err
	}
	for _, a := range anchorOffsets {
		if err := w.writeVarint(a); err != nil {
			return err
		}
	}
	headers = append(headers, headerEntry{tag: BlockTypeIndex, offset: indexOffset})

	bloomOffset := w.offset
	if err := w.writeRaw(filter.AppendTo(nil)); err != nil {
		return err
	}
	headers = append(headers, headerEntry{tag: BlockTypeBloomFilter, offset: bloomOffset})

	headerOffset := w.offset
	if err := w.writeVarint(uint64(len(headers))); err != nil {
		return err
	}
	for _, h := range headers {
		if err := w.writeVarint(h.tag); err != nil {
			return err
		}
		if err := w.writeVarint(h.offset); err != nil {
			return err
		}
	}

	var footer [16]byte
	binary.LittleEndian.PutUint64(footer[0:8], headerOffset)
	binary.LittleEndian.PutUint64(footer[8:16], Magic)
	if err := w.writeRaw(footer[:]); err != nil {
		return err
	}

	return w.w.Flush()
}
