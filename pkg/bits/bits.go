// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bits includes all bit related types and operations.
package bits

import "math/bits"

// IsOn64 returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn64(mask, bits uint64) bool {
	return mask&bits == bits
}

// IsAnyOn64 returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn64(mask, bits uint64) bool {
	return mask&bits != 0
}

// MaskOf64 returns a uint64 with only bit i set.
func MaskOf64(i int) uint64 {
	return uint64(1) << uint64(i)
}

// TrailingZeros64 returns the number of bits before the least significant 1
// bit in x; if x is 0, it returns 64.
func TrailingZeros64(x uint64) int {
	return bits.TrailingZeros64(x)
}

// MostSignificantOne64 returns the index of the most significant 1 bit in
// x. If x is 0, MostSignificantOne64 returns 64.
func MostSignificantOne64(x uint64) int {
	if x == 0 {
		return 64
	}
	return 63 - bits.LeadingZeros64(x)
}

// ForEachSetBit64 calls f once for each set bit in x, with argument i equal
// to the set bit's index, in increasing order.
func ForEachSetBit64(x uint64, f func(i int)) {
	for x != 0 {
		i := TrailingZeros64(x)
		f(i)
		x &^= MaskOf64(i)
	}
}

// OnesCount64 returns the number of set bits in x.
func OnesCount64(x uint64) int {
	return bits.OnesCount64(x)
}

// IsPowerOfTwo64 returns true if x is a power of two.
func IsPowerOfTwo64(x uint64) bool {
	return x != 0 && x&(x-1) == 0
}

// LowestOne64 keeps only the least significant set bit of x.
func LowestOne64(x uint64) uint64 {
	return x & -x
}

// HighestOne64 keeps only the most significant set bit of x.
func HighestOne64(x uint64) uint64 {
	if x == 0 {
		return 0
	}
	return MaskOf64(MostSignificantOne64(x))
}

// IsAligned returns true if addr is a multiple of align, which must be a
// power of two.
func IsAligned(addr, align uint64) bool {
	return addr&(align-1) == 0
}

// AlignDown rounds addr down to a multiple of align, which must be a power
// of two.
func AlignDown(addr, align uint64) uint64 {
	return addr &^ (align - 1)
}

// AlignUp rounds addr up to a multiple of align, which must be a power of
// two. The result wraps if addr is within align of the top of the range.
func AlignUp(addr, align uint64) uint64 {
	return AlignDown(addr+align-1, align)
}
