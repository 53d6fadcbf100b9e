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
	"fmt"
	"unsafe"
)

// PTE is a single page table entry.
type PTE uintptr

// PTEs is a collection of entries.
type PTEs [entriesPerPage]PTE

// Table is one 4K-aligned table at any level.
//
// Tables contain no Go pointers. Directory entries hold the physical
// address of the child as handed out by the Allocator, which allows tables
// to live in memory the garbage collector does not scan.
type Table struct {
	ptes  PTEs
	start uintptr
	level Level
}

// TableBytes is the amount of memory one table occupies.
const TableBytes = unsafe.Sizeof(Table{})

// Level returns the table's level.
func (t *Table) Level() Level {
	return t.level
}

// Start returns the first linear address covered by the table.
func (t *Table) Start() uintptr {
	return t.start
}

// PageSize is the span of one entry.
func (t *Table) PageSize() uintptr {
	return t.level.PageSize()
}

// RangeSize is the span of the whole table.
func (t *Table) RangeSize() uintptr {
	return t.level.RangeSize()
}

// AllowedFlags is the mask of bits entries in this table may carry.
func (t *Table) AllowedFlags() Flags {
	return t.level.AllowedFlags()
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return entriesPerPage
}

// IsPage classifies e at this table's level.
func (t *Table) IsPage(e PTE) bool {
	return t.level.IsPage(e)
}

// IsPageDir classifies e at this table's level.
func (t *Table) IsPageDir(e PTE) bool {
	return t.level.IsPageDir(e)
}

// FlagsOf returns the flags of e valid at this table's level.
func (t *Table) FlagsOf(e PTE) Flags {
	return t.level.FlagsOf(e)
}

// IsPageAligned returns true if addr is aligned to this table's page size.
func (t *Table) IsPageAligned(addr uintptr) bool {
	return t.level.IsPageAligned(addr)
}

// WithinRange returns true if addr falls inside the table's range.
func (t *Table) WithinRange(addr uintptr) bool {
	return addr >= t.start && addr-t.start < t.RangeSize()
}

// IndexOf returns the index of the entry covering addr, or -1.
func (t *Table) IndexOf(addr uintptr) int {
	if !t.WithinRange(addr) {
		return -1
	}
	return int((addr - t.start) / t.PageSize())
}

// Entry returns the entry covering addr, or nil if addr is outside the
// table's range.
func (t *Table) Entry(addr uintptr) *PTE {
	i := t.IndexOf(addr)
	if i < 0 {
		return nil
	}
	return &t.ptes[i]
}

// At returns entry i. It panics if i is out of bounds.
func (t *Table) At(i int) *PTE {
	if i < 0 || i >= entriesPerPage {
		panic(fmt.Sprintf("%v: entry index %d out of range", t.level, i))
	}
	return &t.ptes[i]
}

// EntryAddr returns the first linear address covered by entry i.
func (t *Table) EntryAddr(i int) uintptr {
	return t.start + uintptr(i)*t.PageSize()
}

// index returns the index of e within t, or -1 if e is not one of t's
// entries.
func (t *Table) index(e *PTE) int {
	if e == nil {
		return -1
	}
	base := uintptr(unsafe.Pointer(&t.ptes[0]))
	p := uintptr(unsafe.Pointer(e))
	if p < base {
		return -1
	}
	i := (p - base) / unsafe.Sizeof(PTE(0))
	if i >= entriesPerPage || &t.ptes[i] != e {
		return -1
	}
	return int(i)
}

// Contains returns true if e points at one of t's entries.
func (t *Table) Contains(e *PTE) bool {
	return t.index(e) >= 0
}

func (t *Table) mustContain(e *PTE) int {
	i := t.index(e)
	if i < 0 {
		panic(fmt.Sprintf("%v@%#x: entry %p does not belong to table", t.level, t.start, e))
	}
	return i
}

// SetFlags replaces the flags of e, keeping its address.
//
// Bits not allowed at this level are dropped. If the result would be
// present but neither a page nor a directory, e is left untouched and None
// is returned. Otherwise the flags now in e are returned.
func (t *Table) SetFlags(e *PTE, flags Flags) Flags {
	t.mustContain(e)
	n := PTE(AddrOf(*e)) | PTE(flags&t.AllowedFlags())
	if flags&Present != 0 && !t.IsPage(n) && !t.IsPageDir(n) {
		return None
	}
	*e = n
	return t.FlagsOf(n)
}

// SetPageFlags is SetFlags with Huge added, which PML1 drops.
func (t *Table) SetPageFlags(e *PTE, flags Flags) Flags {
	return t.SetFlags(e, flags|Huge)
}

// PermitFlags widens e so that it does not restrict flags.
//
// Present and Writable are or'ed in. NoExec is cleared if flags lacks it.
func (t *Table) PermitFlags(e *PTE, flags Flags) {
	t.mustContain(e)
	cur := t.FlagsOf(*e)
	*e |= PTE(flags & t.AllowedFlags() & Permissive)
	if cur&NoExec != 0 && flags&NoExec == 0 {
		*e &^= PTE(NoExec)
	}
}

// MapAll fills every entry with consecutive pages starting at phys.
//
// phys must be aligned to the table's range.
func (t *Table) MapAll(phys uintptr, flags Flags) {
	if !t.level.IsRangeAligned(phys) {
		panic(fmt.Sprintf("%v: %#x is not aligned to %#x", t.level, phys, t.RangeSize()))
	}
	psz := t.PageSize()
	f := PTE(flags & t.AllowedFlags())
	for i := range t.ptes {
		t.ptes[i] = PTE(phys+uintptr(i)*psz) | f
	}
}

// IDMap identity maps the table's whole range.
func (t *Table) IDMap(flags Flags) {
	t.MapAll(t.start, flags)
}

// Map maps consecutive entries starting at req.Lin.
//
// Pages are written at this table's page size until req.Size is covered or
// the table ends; the size is rounded up to a whole page. The address of
// each entry is left alone if req.Phys is AnyAddr, and unused entries are
// skipped. Map never descends.
func (t *Table) Map(req Map) Map {
	i := t.IndexOf(req.Lin)
	if i < 0 || req.Size == 0 {
		return Map{}
	}
	if req.Phys != AnyAddr && !PhysInRange(req.Phys, req.Size) {
		panic(fmt.Sprintf("%v: physical range %#x+%#x out of bounds", t.level, req.Phys, req.Size))
	}
	psz := t.PageSize()
	res := Map{Lin: req.Lin, Phys: req.Phys, Flags: req.Flags, PageSizes: psz}
	phys := req.Phys
	for ; i < entriesPerPage && res.Size < req.Size; i++ {
		e := &t.ptes[i]
		if t.IsPageDir(*e) {
			panic(fmt.Sprintf("%v: map over directory at %#x", t.level, t.EntryAddr(i)))
		}
		res.Size += psz
		if phys == AnyAddr {
			if *e == 0 {
				continue
			}
		} else {
			*e = PTE(phys)
			phys += psz
		}
		t.SetPageFlags(e, req.Flags)
	}
	return res
}

// MapEntry maps a single page at e.
//
// e must belong to the table and must not be a directory. An unused entry
// is left alone if req.Phys is AnyAddr.
func (t *Table) MapEntry(e *PTE, req Map) Map {
	t.mustContain(e)
	if !req.Valid() {
		panic(fmt.Sprintf("%v: invalid request %v", t.level, req))
	}
	if t.IsPageDir(*e) {
		panic(fmt.Sprintf("%v: map over directory %#x", t.level, uintptr(*e)))
	}
	psz := t.PageSize()
	if req.Phys == AnyAddr && *e == 0 {
		return Map{Lin: req.Lin, Phys: AnyAddr, Flags: req.Flags, Size: psz, PageSizes: psz}
	}
	if req.Phys != AnyAddr {
		if !PhysInRange(req.Phys, psz) {
			panic(fmt.Sprintf("%v: physical address %#x out of bounds", t.level, req.Phys))
		}
		*e = PTE(req.Phys)
	}
	got := t.SetPageFlags(e, req.Flags)
	return Map{
		Lin:       req.Lin,
		Phys:      req.Phys,
		Flags:     got &^ Huge,
		Size:      psz,
		PageSizes: psz,
	}
}

// IsEmpty returns true if every entry is zero. An entry that is not present
// but still holds an address or flags counts as used.
func (t *Table) IsEmpty() bool {
	for _, e := range t.ptes {
		if e != 0 {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (t *Table) String() string {
	return fmt.Sprintf("%v@%#x", t.level, t.start)
}
