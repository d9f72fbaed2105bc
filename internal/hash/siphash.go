package hash

import "encoding/binary"

// SipHashStrategy is the engine's cryptographic-quality hash strategy,
// SipHash-2-4 with a fixed 128-bit key. No Go package in the dependency
// pack implements SipHash (and the reference implementation itself relied
// on a deprecated standard-library hasher rather than an external crate),
// so this is a direct, from-scratch port of the well-known public
// algorithm.
type SipHashStrategy struct{}

// Hash implements Strategy.
func (SipHashStrategy) Hash(message []byte, ml, k int) []uint32 {
	return extractSlots(sipHash24(sipKey0, sipKey1, message), ml, k)
}

// Fixed key: the strategy hashes an arbitrary message with no caller-
// supplied key, so a constant key is used throughout the engine's lifetime.
const (
	sipKey0 = 0x0706050403020100
	sipKey1 = 0x0f0e0d0c0b0a0908
)

func sipRound(v0, v1, v2, v3 uint64) (uint64, uint64, uint64, uint64) {
	v0 += v1
	v1 = rotl64(v1, 13)
	v1 ^= v0
	v0 = rotl64(v0, 32)

	v2 += v3
	v3 = rotl64(v3, 16)
	v3 ^= v2

	v0 += v3
	v3 = rotl64(v3, 21)
	v3 ^= v0

	v2 += v1
	v1 = rotl64(v1, 17)
	v1 ^= v2
	v2 = rotl64(v2, 32)

	return v0, v1, v2, v3
}

func rotl64(x uint64, n uint) uint64 {
	return (x << n) | (x >> (64 - n))
}

func sipHash24(k0, k1 uint64, message []byte) uint64 {
	v0 := k0 ^ 0x736f6d6570736575
	v1 := k1 ^ 0x646f72616e646f6d
	v2 := k0 ^ 0x6c7967656e657261
	v3 := k1 ^ 0x7465646279746573

	length := len(message)
	end := length - (length % 8)

	for off := 0; off < end; off += 8 {
		m := binary.LittleEndian.Uint64(message[off : off+8])
		v3 ^= m
		v0, v1, v2, v3 = sipRound(v0, v1, v2, v3)
		v0, v1, v2, v3 = sipRound(v0, v1, v2, v3)
		v0 ^= m
	}

	var tail [8]byte
	copy(tail[:], message[end:])
	tail[7] = byte(length)
	m := binary.LittleEndian.Uint64(tail[:])
	v3 ^= m
	v0, v1, v2, v3 = sipRound(v0, v1, v2, v3)
	v0, v1, v2, v3 = sipRound(v0, v1, v2, v3)
	v0 ^= m

	v2 ^= 0xff
	v0, v1, v2, v3 = sipRound(v0, v1, v2, v3)
	v0, v1, v2, v3 = sipRound(v0, v1, v2, v3)
	v0, v1, v2, v3 = sipRound(v0, v1, v2, v3)
	v0, v1, v2, v3 = sipRound(v0, v1, v2, v3)

	return v0 ^ v1 ^ v2 ^ v3
}
