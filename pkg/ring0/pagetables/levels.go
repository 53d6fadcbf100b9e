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

	"github.com/pml4/pml4/pkg/bits"
)

// Page sizes. Each level maps 512 times the size of the level below it.
const (
	PageSize4K   = 1 << 12
	PageSize2M   = 1 << 21
	PageSize1G   = 1 << 30
	PageSize512G = 1 << 39

	// DefaultPageSizes are the leaf sizes the hardware can map.
	DefaultPageSizes = PageSize4K | PageSize2M | PageSize1G

	// MaxAddress is one past the last linear address covered by a root.
	MaxAddress = PageSize512G * entriesPerPage

	// MaxPhysAddress is one past the last physical address an entry can
	// hold. Higher bits belong to the flags.
	MaxPhysAddress = 1 << 52

	entriesPerPage = 512
	entryShift     = 9
)

// Level identifies a table's position in the hierarchy.
type Level uint8

// Levels, from the bottom up.
const (
	PML1 Level = iota
	PML2
	PML3
	PML4

	// RootLevel is the level of the top table.
	RootLevel = PML4
)

type levelInfo struct {
	name     string
	pageSize uintptr
	allowed  Flags
	leaf     bool
}

var levels = [...]levelInfo{
	PML1: {name: "PML1", pageSize: PageSize4K, allowed: All &^ (Huge | PageDir), leaf: true},
	PML2: {name: "PML2", pageSize: PageSize2M, allowed: All, leaf: true},
	PML3: {name: "PML3", pageSize: PageSize1G, allowed: All, leaf: true},
	PML4: {name: "PML4", pageSize: PageSize512G, allowed: All &^ Huge},
}

func (l Level) info() *levelInfo {
	if int(l) >= len(levels) {
		panic(fmt.Sprintf("invalid page table level %d", l))
	}
	return &levels[l]
}

// String implements fmt.Stringer.
func (l Level) String() string {
	if int(l) >= len(levels) {
		return fmt.Sprintf("Level(%d)", l)
	}
	return levels[l].name
}

// PageSize is the span of a single entry.
func (l Level) PageSize() uintptr {
	return l.info().pageSize
}

// RangeSize is the span of a whole table.
func (l Level) RangeSize() uintptr {
	return l.info().pageSize << entryShift
}

// AllowedFlags is the mask of bits an entry at this level may carry.
func (l Level) AllowedFlags() Flags {
	return l.info().allowed
}

// LeafCapable returns true if entries at this level can map pages.
func (l Level) LeafCapable() bool {
	return l.info().leaf
}

// Sub returns the level below l. PML1 has none.
func (l Level) Sub() (Level, bool) {
	if l == PML1 {
		return 0, false
	}
	return l - 1, true
}

// LevelForPageSize returns the level whose entries are psz wide.
func LevelForPageSize(psz uintptr) (Level, bool) {
	for l := range levels {
		if levels[l].pageSize == psz {
			return Level(l), true
		}
	}
	return 0, false
}

// IsPageAligned returns true if addr is a multiple of the level's page size.
func (l Level) IsPageAligned(addr uintptr) bool {
	return bits.IsAligned(uint64(addr), uint64(l.PageSize()))
}

// IsRangeAligned returns true if addr is a multiple of the level's range.
func (l Level) IsRangeAligned(addr uintptr) bool {
	return bits.IsAligned(uint64(addr), uint64(l.RangeSize()))
}

// AddrOf extracts the address part of an entry.
func AddrOf(e PTE) uintptr {
	return uintptr(e) &^ uintptr(All)
}

// FlagsOf extracts the flags an entry at this level may carry.
func (l Level) FlagsOf(e PTE) Flags {
	return Flags(e) & l.info().allowed
}

// IsPage returns true if e maps a page at this level.
//
// At PML1 every entry without PageDir whose address is aligned is a page,
// present or not. Above that the Huge bit is required, and PML4 never
// maps pages.
func (l Level) IsPage(e PTE) bool {
	info := l.info()
	f := Flags(e)
	return (f&Huge&info.allowed != 0 || l == PML1) &&
		f&PageDir == 0 &&
		l.IsPageAligned(AddrOf(e))
}

// IsPageDir returns true if e refers to a lower level table.
func (l Level) IsPageDir(e PTE) bool {
	return l != PML1 &&
		Flags(e)&PageDir != 0 &&
		!l.IsPage(e) &&
		AddrOf(e) != 0
}
