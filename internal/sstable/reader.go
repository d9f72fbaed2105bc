package sstable

import (
	"encoding/binary"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"

	"lsmkv/internal/bloom"
	"lsmkv/internal/bytestream"
	"lsmkv/internal/hash"
	"lsmkv/internal/memtable"
	"lsmkv/internal/varint"
)

type recordHeader struct {
	keyLen, commonLen, valueLen, flags uint64
	suffixOffset                      int
	valueOffset                       int
	nextOffset                        int
}

func (h recordHeader) isTerminator() bool {
	return h.keyLen == 0 && h.commonLen == 0 && h.valueLen == 0 && h.flags == 0
}

func parseRecordHeader(region []byte, offset int) (recordHeader, error) {
	if offset < 0 || offset >= len(region) {
		return recordHeader{}, corrupt("record header offset %d out of range", offset)
	}
	p := offset
	keyLen, n, err := varint.DecodeLen(region[p:])
	if err != nil {
		return recordHeader{}, corrupt("key length: %v", err)
	}
	p += n
	commonLen, n, err := varint.DecodeLen(region[p:])
	if err != nil {
		return recordHeader{}, corrupt("common prefix length: %v", err)
	}
	p += n
	valueLen, n, err := varint.DecodeLen(region[p:])
	if err != nil {
		return recordHeader{}, corrupt("value length: %v", err)
	}
	p += n
	flags, n, err := varint.DecodeLen(region[p:])
	if err != nil {
		return recordHeader{}, corrupt("flags: %v", err)
	}
	p += n

	if commonLen > keyLen {
		return recordHeader{}, corrupt("common prefix length %d exceeds key length %d", commonLen, keyLen)
	}
	suffixOffset := p
	valueOffset := suffixOffset + int(keyLen-commonLen)
	next := valueOffset + int(valueLen)
	if next > len(region) {
		return recordHeader{}, corrupt("record at offset %d runs past end of file", offset)
	}

	return recordHeader{
		keyLen:       keyLen,
		commonLen:    commonLen,
		valueLen:     valueLen,
		flags:        flags,
		suffixOffset: suffixOffset,
		valueOffset:  valueOffset,
		nextOffset:   next,
	}, nil
}

func (h recordHeader) reconstructKey(region []byte, lastKey []byte) []byte {
	key := make([]byte, h.keyLen)
	copy(key, lastKey[:h.commonLen])
	copy(key[h.commonLen:], region[h.suffixOffset:h.suffixOffset+int(h.keyLen-h.commonLen)])
	return key
}

// record reconstructs the tombstone-or-live payload from the header. It is
// always returned with cached=false: a run's contents are the authoritative
// data for its level, not a look-aside copy (that provenance flag belongs
// only to values the engine materializes into level-0 from a lower level —
// see internal/lsm). This matters for compaction: a merge of several runs
// feeds their records straight back into a new Writer, which otherwise
// drops any record flagged cached.
func (h recordHeader) record(region []byte) memtable.Record {
	if h.flags&1 != 0 {
		return memtable.NewTombstone(false)
	}
	value := make([]byte, h.valueLen)
	copy(value, region[h.valueOffset:h.valueOffset+int(h.valueLen)])
	return memtable.NewLive(value, false)
}

// Reader is a memory-mapped, read-only view of a single sorted run,
// supporting point lookups (anchor binary search + forward scan) and full
// ascending iteration.
type Reader struct {
	file   *os.File
	region mmap.MMap

	anchorOffsets []int
	anchorKeys    [][]byte

	filter *bloom.Filter
	cache  *TwoTierCache
}

// Open memory-maps path and parses its footer, header, index, and Bloom
// filter blocks.
func Open(path string, ml, k int, strategy hash.Strategy) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	region, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	r := &Reader{file: f, region: region, cache: NewTwoTierCache()}
	if err := r.parse(ml, k, strategy); err != nil {
		region.Unmap()
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) parse(ml, k int, strategy hash.Strategy) error {
	n := len(r.region)
	if n < 16 {
		return corrupt("file too short to contain a footer: %d bytes", n)
	}
	magic := binary.LittleEndian.Uint64(r.region[n-8:])
	if magic != Magic {
		return corrupt("bad magic %x", magic)
	}
	headerOffset := binary.LittleEndian.Uint64(r.region[n-16 : n-8])
	if headerOffset >= uint64(n) {
		return corrupt("header offset %d out of range", headerOffset)
	}

	offset := int(headerOffset)
	count, nn, err := varint.DecodeLen(r.region[offset:])
	if err != nil {
		return corrupt("header block count: %v", err)
	}
	offset += nn

	var indexOffset, bloomOffset int
	var haveIndex, haveBloom bool
	for i := uint64(0); i < count; i++ {
		tag, nn, err := varint.DecodeLen(r.region[offset:])
		if err != nil {
			return corrupt("header entry %d tag: %v", i, err)
		}
		offset += nn
		off, nn, err := varint.DecodeLen(r.region[offset:])
		if err != nil {
			return corrupt("header entry %d offset: %v", i, err)
		}
		offset += nn

		switch tag {
		case BlockTypeIndex:
			indexOffset, haveIndex = int(off), true
		case BlockTypeBloomFilter:
			bloomOffset, haveBloom = int(off), true
		default:
			return corrupt("unknown header block tag %d", tag)
		}
	}
	if !haveIndex {
		return corrupt("missing index block")
	}
	if !haveBloom {
		return corrupt("missing bloom filter block")
	}

	if err := r.parseIndex(indexOffset); err != nil {
		return err
	}

	filter, _, err := bloom.Decode(r.region[bloomOffset:], ml, k, strategy)
	if err != nil {
		return corrupt("bloom filter block: %v", err)
	}
	r.filter = filter
	return nil
}

func (r *Reader) parseIndex(indexOffset int) error {
	count, n, err := varint.DecodeLen(r.region[indexOffset:])
	if err != nil {
		return corrupt("index block count: %v", err)
	}
	offset := indexOffset + n

	anchorOffsets := make([]int, count)
	for i := uint64(0); i < count; i++ {
		v, n, err := varint.DecodeLen(r.region[offset:])
		if err != nil {
			return corrupt("index entry %d: %v", i, err)
		}
		offset += n
		anchorOffsets[i] = int(v)
	}

	anchorKeys := make([][]byte, count)
	for i, off := range anchorOffsets {
		hdr, err := parseRecordHeader(r.region, off)
		if err != nil {
			return corrupt("anchor %d: %v", i, err)
		}
		if hdr.commonLen != 0 {
			return corrupt("anchor %d at offset %d is prefix-compressed", i, off)
		}
		anchorKeys[i] = r.region[hdr.suffixOffset : hdr.suffixOffset+int(hdr.keyLen)]
	}

	r.anchorOffsets = anchorOffsets
	r.anchorKeys = anchorKeys
	return nil
}

// lowerBoundAnchor returns the index of the rightmost anchor key <= key, or
// -1 if key precedes every anchor (or there are none).
func (r *Reader) lowerBoundAnchor(key []byte) int {
	idx := sort.Search(len(r.anchorKeys), func(i int) bool {
		return bytestream.CompareBytes(r.anchorKeys[i], key) > 0
	})
	return idx - 1
}

// Get performs a point lookup, probing the two-tier cache, then the Bloom
// filter, then an anchor binary search followed by a forward scan.
func (r *Reader) Get(key []byte) (memtable.Record, bool, error) {
	if rec, ok := r.cache.Get(key); ok {
		return rec, true, nil
	}
	if !r.filter.MayContain(key) {
		return nil, false, nil
	}

	idx := r.lowerBoundAnchor(key)
	if idx < 0 {
		return nil, false, nil
	}

	offset := r.anchorOffsets[idx]
	var lastKey []byte
	for {
		hdr, err := parseRecordHeader(r.region, offset)
		if err != nil {
			return nil, false, err
		}
		if hdr.isTerminator() {
			return nil, false, nil
		}

		fullKey := hdr.reconstructKey(r.region, lastKey)
		c := bytestream.CompareBytes(fullKey, key)
		switch {
		case c == 0:
			rec := hdr.record(r.region)
			r.cache.Set(key, rec)
			r.prefetchFrom(hdr.nextOffset, fullKey)
			return rec, true, nil
		case c > 0:
			return nil, false, nil
		}

		lastKey = fullKey
		offset = hdr.nextOffset
	}
}

// prefetchFrom warms the lookaside tier with up to PrefetchCap records
// following a record Get found in the data section. It stops at the run's
// end or, from the second prefetched record on, at any record stored
// without a shared prefix (as every anchor is).
func (r *Reader) prefetchFrom(offset int, lastKey []byte) {
	for i := 0; i < PrefetchCap; i++ {
		hdr, err := parseRecordHeader(r.region, offset)
		if err != nil || hdr.isTerminator() {
			return
		}
		if hdr.commonLen == 0 && i > 0 {
			// Hit an uncompressed record (possibly an anchor); stop warming here.
			return
		}
		key := hdr.reconstructKey(r.region, lastKey)
		r.cache.SetLookaside(key, hdr.record(r.region))
		lastKey = key
		offset = hdr.nextOffset
	}
}

// RecordIterator walks a run's records in ascending key order from a given
// byte offset, reconstructing full keys from the rolling prefix.
type RecordIterator struct {
	region  []byte
	offset  int
	lastKey []byte
}

// Iter returns an iterator over the entire run, in ascending key order.
func (r *Reader) Iter() *RecordIterator {
	return &RecordIterator{region: r.region}
}

// Next returns the next (key, record) pair, or ok=false at the terminator.
func (it *RecordIterator) Next() ([]byte, memtable.Record, bool, error) {
	hdr, err := parseRecordHeader(it.region, it.offset)
	if err != nil {
		return nil, nil, false, err
	}
	if hdr.isTerminator() {
		return nil, nil, false, nil
	}
	key := hdr.reconstructKey(it.region, it.lastKey)
	rec := hdr.record(it.region)
	it.lastKey = key
	it.offset = hdr.nextOffset
	return key, rec, true, nil
}

// Close unmaps the run and closes its backing file.
func (r *Reader) Close() error {
	if err := r.region.Unmap(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
