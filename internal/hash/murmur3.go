package hash

import "github.com/twmb/murmur3"

// Murmur3Strategy is a third hash strategy, built atop
// github.com/twmb/murmur3. It splits murmur3's 128-bit digest into two
// 64-bit halves and extracts slots from the first half the same way
// SfHash64 and SipHash do.
type Murmur3Strategy struct{}

// Hash implements Strategy.
func (Murmur3Strategy) Hash(message []byte, ml, k int) []uint32 {
	h1, _ := murmur3.Sum128(message)
	return extractSlots(h1, ml, k)
}
