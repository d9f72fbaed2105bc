// Package bloom implements the engine's approximate-membership filter: a
// fixed-size bit array parameterized by (ML, K) and a pluggable hash
// strategy, supporting insert, query, serialize, and deserialize.
package bloom

import (
	"fmt"

	"lsmkv/internal/hash"
	"lsmkv/internal/varint"
)

// DefaultML and DefaultK match the engine-wide default the SSTable format
// assumes when serializing a filter without recording its
// parameters: ML=24, K=2, using SfHash64Strategy.
const (
	DefaultML = 24
	DefaultK  = 2
)

// Filter is a fixed-size Bloom filter. A false query result is definitive;
// true is probabilistic.
type Filter struct {
	ml       int
	k        int
	strategy hash.Strategy
	data     []byte
}

// New creates an empty filter holding exactly 1<<ml bits, testing k slots
// per operation via strategy. ml*k must not exceed 64.
func New(ml, k int, strategy hash.Strategy) *Filter {
	if ml*k > 64 {
		panic(fmt.Sprintf("bloom: ml*k = %d exceeds 64 bits", ml*k))
	}
	return &Filter{
		ml:       ml,
		k:        k,
		strategy: strategy,
		data:     make([]byte, 1<<uint(ml-3)),
	}
}

// NewDefault creates a filter using the engine-wide default parameters.
func NewDefault() *Filter {
	return New(DefaultML, DefaultK, hash.SfHash64Strategy{})
}

// Insert adds message to the filter.
func (f *Filter) Insert(message []byte) {
	for _, position := range f.strategy.Hash(message, f.ml, f.k) {
		mask := byte(1) << (position & 0x07)
		f.data[position>>3] |= mask
	}
}

// MayContain reports whether message might be in the filter. false is a
// definite negative; true may be a false positive.
func (f *Filter) MayContain(message []byte) bool {
	for _, position := range f.strategy.Hash(message, f.ml, f.k) {
		mask := byte(1) << (position & 0x07)
		if f.data[position>>3]&mask == 0 {
			return false
		}
	}
	return true
}

// Size returns the number of bytes the filter's bit array occupies.
func (f *Filter) Size() int { return len(f.data) }

// AppendTo serializes the filter as `varuint64 byte_length | bytes`,
// appending to dst and returning the extended slice.
func (f *Filter) AppendTo(dst []byte) []byte {
	dst = varint.AppendTo(dst, uint64(len(f.data)))
	return append(dst, f.data...)
}

// Decode parses a filter serialized by AppendTo from buf, returning the
// filter and the number of bytes consumed. The caller supplies ml/k/strategy
// since the on-disk format only records the raw bit array.
func Decode(buf []byte, ml, k int, strategy hash.Strategy) (*Filter, int, error) {
	size, n, err := varint.DecodeLen(buf)
	if err != nil {
		return nil, 0, fmt.Errorf("bloom: decode length: %w", err)
	}
	want := uint64(1) << uint(ml-3)
	if size != want {
		return nil, 0, fmt.Errorf("bloom: size mismatch: got %d bytes, want %d for ML=%d", size, want, ml)
	}
	if uint64(len(buf)-n) < size {
		return nil, 0, fmt.Errorf("bloom: truncated filter body")
	}
	data := make([]byte, size)
	copy(data, buf[n:uint64(n)+size])
	return &Filter{ml: ml, k: k, strategy: strategy, data: data}, n + int(size), nil
}
