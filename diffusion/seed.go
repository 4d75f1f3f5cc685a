package diffusion

import (
	"crypto/rand"
	"encoding/binary"
)

// RandomSeed generates a non-negative random seed for sampling.
// Uses crypto/rand so concurrent callers never correlate.
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is practically impossible; a fixed
		// seed is still a valid generation
		return 42
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]))
	if seed < 0 {
		seed = -seed
	}
	if seed < 0 { // -MinInt64 stays negative
		seed = 0
	}
	return seed
}

// ResolveSeed maps the sentinel -1 (and any negative input) to a fresh
// random seed, otherwise returns the caller's seed unchanged.
func ResolveSeed(seed int64) int64 {
	if seed < 0 {
		return RandomSeed()
	}
	return seed
}
