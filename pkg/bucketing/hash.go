// Package bucketing provides deterministic, seeded bucket assignment for
// experiment and feature-flag gateways. Repeated evaluations of the same
// composite key always land in the same bucket, so a re-entrant advance
// cycle re-derives the branch it picked before instead of re-rolling.
package bucketing

// FNV-1a constants, 64-bit variant.
const (
	fnvPrime = 1099511628211

	// keySeparator delimits key parts in the canonical encoding. Parts
	// never contain control characters, so joining is collision-free.
	keySeparator = 0x1f
)

// Hasher computes seeded FNV-1a hashes over canonical key encodings. The
// seed is process-wide configuration and never mutated at runtime.
type Hasher struct {
	seed uint64
}

// NewHasher returns a hasher with the given seed. Two hashers with the
// same seed produce identical assignments.
func NewHasher(seed uint64) *Hasher {
	return &Hasher{seed: seed}
}

// Sum hashes the canonical encoding of the key parts.
func (h *Hasher) Sum(parts ...string) uint64 {
	sum := h.seed

	for i, part := range parts {
		if i > 0 {
			sum ^= keySeparator
			sum *= fnvPrime
		}

		for j := 0; j < len(part); j++ {
			sum ^= uint64(part[j])
			sum *= fnvPrime
		}
	}

	return sum
}

// Bucket reduces the hash of the key parts into [0, bucketCount) via
// modulo. A bucketCount below one collapses to bucket zero.
func (h *Hasher) Bucket(bucketCount int, parts ...string) int {
	if bucketCount < 1 {
		return 0
	}

	return int(h.Sum(parts...) % uint64(bucketCount))
}
