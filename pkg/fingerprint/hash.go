package fingerprint

import (
	"fmt"
	"math/bits"
	"strconv"

	"dredge/pkg/errors"
)

// Hash is a 64-bit perceptual hash, rendered as 16 hex digits.
type Hash uint64

func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// ParseHash reads the hex form produced by String.
func ParseHash(s string) (Hash, error) {
	if len(s) != 16 {
		return 0, errors.Newf(errors.ErrorTypePermanent, "hash %q must be 16 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, errors.Wrap(errors.ErrorTypePermanent, fmt.Sprintf("parsing hash %q", s), err)
	}
	return Hash(v), nil
}

// Distance is the Hamming distance between two hashes: the number of bits
// at which they differ, 0 through 64.
func Distance(a, b Hash) int {
	return bits.OnesCount64(uint64(a) ^ uint64(b))
}
