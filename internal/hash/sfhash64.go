package hash

import (
	"encoding/binary"
	"math/bits"
)

// magic constants, ported verbatim from the reference sfHash64 algorithm.
const (
	sfMagicSeed    = 0xbc4a78eb0e083fb5
	sfMagicShift1  = 0xc2d4f379500c363f
	sfMagicShift2  = 0xa696a85adffcf585
	sfMagicShift3  = 0xfcb5791894673fd3
	sfMagicShift4  = 0xb828e5548ad84c69
	sfMagicOffset1 = 0xff43a9d0c1c914cd
	sfMagicOffset2 = 0xf049ed58f79e6153
	sfMagicMix     = 0xed27a0e9f72a6d47
)

// SfHash64Strategy is the engine's default, SIMD-batched-in-spirit 64-bit
// non-cryptographic hash. Its main loop processes four 64-bit lanes in
// parallel for inputs of 32 bytes or more, falling back to a scalar loop
// and a byte-wise tail otherwise.
//
// This hash is endianness-sensitive: it reads 8-byte words little-endian,
// so digests (and hence Bloom filter bit positions) are only portable
// between little-endian readers and writers.
type SfHash64Strategy struct{}

// Hash implements Strategy.
func (SfHash64Strategy) Hash(message []byte, ml, k int) []uint32 {
	return extractSlots(sfhash64(message), ml, k)
}

func sfMix(v uint64) uint64 {
	v ^= v >> 23
	v *= sfMagicMix
	return v ^ (v >> 47)
}

// sfMatchTail XORs up to 7 trailing bytes of src into dest at descending
// byte shifts, exactly mirroring the reference implementation's
// match_bytes terminator.
func sfMatchTail(dest uint64, src []byte, tailLen uint64) uint64 {
	if tailLen > 6 {
		dest ^= uint64(src[6]) << 48
	}
	if tailLen > 5 {
		dest ^= uint64(src[5]) << 40
	}
	if tailLen > 4 {
		dest ^= uint64(src[4]) << 32
	}
	if tailLen > 3 {
		dest ^= uint64(src[3]) << 24
	}
	if tailLen > 2 {
		dest ^= uint64(src[2]) << 16
	}
	if tailLen > 1 {
		dest ^= uint64(src[1]) << 8
	}
	if tailLen > 0 {
		dest ^= uint64(src[0])
	}
	return dest
}

func sfhash64(buffer []byte) uint64 {
	length := uint64(len(buffer))
	h3 := sfMagicSeed ^ (length * sfMagicShift1)

	offset := 0
	wordBytes := (length >> 3) << 3 // bytes covered by whole 64-bit words; the tail starts here

	if length < 32 {
		for uint64(offset) != wordBytes {
			v := binary.LittleEndian.Uint64(buffer[offset:])
			h3 ^= sfMix(v)
			h3 *= sfMagicShift1
			offset += 8
		}
		tailLen := length & 7
		v := sfMatchTail(0, buffer[offset:], tailLen)
		h3 ^= sfMix(v)
		h3 *= sfMagicShift4
		return sfMix(h3)
	}

	numBlocks32 := length >> 5
	var h uint64
	if numBlocks32 > 0 {
		ha0 := h3 + sfMagicOffset1 + sfMagicOffset2
		ha1 := h3 + sfMagicOffset1
		ha2 := h3
		ha3 := h3 - sfMagicOffset2

		for b := uint64(0); b < numBlocks32; b++ {
			v0 := binary.LittleEndian.Uint64(buffer[offset:])
			v1 := binary.LittleEndian.Uint64(buffer[offset+8:])
			v2 := binary.LittleEndian.Uint64(buffer[offset+16:])
			v3 := binary.LittleEndian.Uint64(buffer[offset+24:])

			v0 ^= v0 >> 23
			v1 ^= v1 >> 23
			v2 ^= v2 >> 23
			v3 ^= v3 >> 23

			ha0 ^= v0 ^ (v0 >> 47)
			ha1 ^= v1 ^ (v1 >> 47)
			ha2 ^= v2 ^ (v2 >> 47)
			ha3 ^= v3 ^ (v3 >> 47)

			ha0 *= sfMagicShift1
			ha1 *= sfMagicShift2
			ha2 *= sfMagicShift3
			ha3 *= sfMagicShift4

			offset += 32
		}
		h = bits.RotateLeft64(ha0, -1) ^ bits.RotateLeft64(ha1, -3) ^
			bits.RotateLeft64(ha2, -6) ^ bits.RotateLeft64(ha3, -11)
	} else {
		h = h3
	}

	for uint64(offset) != wordBytes {
		v := binary.LittleEndian.Uint64(buffer[offset:])
		h ^= sfMix(v)
		h *= sfMagicShift1
		offset += 8
	}

	tailLen := length & 7
	v := sfMatchTail(0, buffer[offset:], tailLen)
	h ^= sfMix(v)
	h *= sfMagicShift4
	return sfMix(h)
}
