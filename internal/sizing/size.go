// Package sizing provides safe size arithmetic and the 32/64-bit field
// decisions of the zip format.
package sizing

import "math"

// Limit32 is the largest value a classic 32-bit size or offset field can
// hold; it doubles as the ZIP64 sentinel.
const Limit32 = math.MaxUint32

// Limit16 is the largest 16-bit length or count.
const Limit16 = math.MaxUint16

// ToInt64 converts a uint64 to int64, returning overflowErr if it doesn't fit.
func ToInt64(size uint64, overflowErr error) (int64, error) {
	if size > uint64(math.MaxInt64) {
		return 0, overflowErr
	}
	return int64(size), nil
}

// AddUint64 adds two uint64 values, returning (result, false) on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// Needs64 reports whether v must move to a ZIP64 field.
func Needs64(v uint64) bool {
	return v >= Limit32
}

// Field32 returns v for a 32-bit header field, or the sentinel when the
// real value is carried in a ZIP64 block.
func Field32(v uint64, promoted bool) uint32 {
	if promoted || Needs64(v) {
		return Limit32
	}
	return uint32(v)
}
