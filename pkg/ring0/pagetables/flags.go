// Copyright 2026 The pml4 Authors.
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

package pagetables

import (
	"strconv"
	"strings"

	"github.com/pml4/pml4/pkg/bits"
	"github.com/pml4/pml4/pkg/hostarch"
)

// Flags is a set of x86-64 page table entry bits.
//
// The values are the architectural bit positions, so a Flags value can be
// or'ed directly into a PTE.
type Flags uintptr

// Architectural and software-defined entry bits.
const (
	None         Flags = 0
	Present      Flags = 1 << 0
	Writable     Flags = 1 << 1
	User         Flags = 1 << 2
	WriteThrough Flags = 1 << 3
	CacheDisable Flags = 1 << 4
	Accessed     Flags = 1 << 5
	Dirty        Flags = 1 << 6
	Huge         Flags = 1 << 7
	Global       Flags = 1 << 8

	// PageDir marks an entry that refers to a lower level table. It lives in
	// the software-available range above the physical address bits.
	PageDir Flags = 1 << 52

	// Ignored is the remaining software-available range, bits 53 to 58.
	Ignored Flags = 0x3f << 53

	// ProtectionKey is the memory protection key field, bits 59 to 62.
	ProtectionKey Flags = 0xf << 59

	NoExec Flags = 1 << 63

	// All is every bit that is not part of the address.
	All Flags = 0xfff | PageDir | NoExec

	// Permissive are the bits that are or'ed into intermediate entries so
	// that they never restrict what a lower level grants.
	Permissive Flags = Present | Writable
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{Present, "present"},
	{Writable, "writable"},
	{User, "user"},
	{WriteThrough, "write_through"},
	{CacheDisable, "cache_disable"},
	{Accessed, "accessed"},
	{Dirty, "dirty"},
	{Huge, "huge"},
	{Global, "global"},
	{PageDir, "pdir"},
	{NoExec, "no_exec"},
}

// HasFlag returns true if every bit in mask is set in f.
func HasFlag(f, mask Flags) bool {
	return bits.IsOn64(uint64(f), uint64(mask))
}

// Has is a convenience wrapper around HasFlag.
func (f Flags) Has(mask Flags) bool {
	return HasFlag(f, mask)
}

// HasAny returns true if any bit in mask is set in f.
func (f Flags) HasAny(mask Flags) bool {
	return bits.IsAnyOn64(uint64(f), uint64(mask))
}

// String implements fmt.Stringer.
func (f Flags) String() string {
	if f == None {
		return "none"
	}
	var names []string
	rest := f
	for _, fn := range flagNames {
		if f.HasAny(fn.flag) {
			names = append(names, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		names = append(names, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(names, "|")
}

// FromAccessType converts a generic access type to entry flags.
//
// Read access maps to Present. NoExec is set unless execute access is
// requested. No access at all yields None.
func FromAccessType(at hostarch.AccessType) Flags {
	if !at.Any() {
		return None
	}
	f := Present
	if at.Write {
		f |= Writable
	}
	if !at.Execute {
		f |= NoExec
	}
	return f
}

// ToAccessType converts entry flags to a generic access type. An entry
// without Present grants nothing.
func ToAccessType(f Flags) hostarch.AccessType {
	if f&Present == 0 {
		return hostarch.NoAccess
	}
	return hostarch.AccessType{
		Read:    true,
		Write:   f&Writable != 0,
		Execute: f&NoExec == 0,
	}
}

// MemoryTypeFlags returns the caching bits for the given memory type.
func MemoryTypeFlags(mt hostarch.MemoryType) Flags {
	switch mt {
	case hostarch.MemoryTypeWriteThrough:
		return WriteThrough
	case hostarch.MemoryTypeUncached:
		return CacheDisable | WriteThrough
	default:
		return None
	}
}

// MemoryTypeOf is the inverse of MemoryTypeFlags.
func MemoryTypeOf(f Flags) hostarch.MemoryType {
	switch {
	case f.HasAny(CacheDisable):
		return hostarch.MemoryTypeUncached
	case f.HasAny(WriteThrough):
		return hostarch.MemoryTypeWriteThrough
	default:
		return hostarch.MemoryTypeWriteBack
	}
}
