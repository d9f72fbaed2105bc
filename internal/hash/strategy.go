// Package hash implements the pluggable hash strategies the Bloom filter
// composes over: a 64-bit cryptographic hash (SipHash-2-4), a SIMD-batched
// 64-bit non-cryptographic hash (SfHash64) used as the engine's default, and
// a third strategy riding on github.com/twmb/murmur3.
package hash

import "fmt"

// Strategy produces K independent slot indices, each ML bits wide, from an
// arbitrary byte message. ML*K must not exceed 64.
type Strategy interface {
	// Hash returns k values, each in [0, 2^ml).
	Hash(message []byte, ml, k int) []uint32
}

// extractSlots masks and shifts a single 64-bit digest into k values of ml
// bits each, the routine every strategy in this package shares.
func extractSlots(digest uint64, ml, k int) []uint32 {
	if ml*k > 64 {
		panic(fmt.Sprintf("hash: ml*k = %d exceeds 64 bits", ml*k))
	}
	mask := uint64(1)<<uint(ml) - 1
	result := make([]uint32, k)
	for i := 0; i < k; i++ {
		result[i] = uint32(digest & mask)
		digest >>= uint(ml)
	}
	return result
}
