// SPDX-License-Identifier: MIT

/*
Package bitint provides the power-of-two helpers used to size FFTs.

Usage:

	// Round a 400 sample frame up to its FFT length
	fftLen := bitint.NextPowerOfTwo(400) // Returns 512

	// Verify a configured FFT length
	ok := bitint.IsPowerOfTwo(fftLen)

NextPowerOfTwo shifts by the bit length of size-1 rather than size so an
exact power of two maps to itself: 8-1 = 0b0111 has length 3 and 1<<3 = 8,
while 8 = 0b1000 would give 1<<4 = 16.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size, and 1 for
// size <= 0.
//
//	Input  Output
//	400    512
//	512    512
//	0      1
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two. A power of two
// has a single bit set, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

