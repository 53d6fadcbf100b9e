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

// Package pagetables provides a generic implementation of x86-64 four
// level page tables.
//
// A PageTables value owns a PML4 root and the tree of lower level tables
// below it. Mapping requests are satisfied with the largest page size the
// request permits at every point; huge pages are split into a lower level
// table when only part of them is changed.
//
// PageTables is not safe for concurrent use. Callers serialize access.
package pagetables

import (
	"fmt"

	"github.com/pml4/pml4/pkg/bits"
	"github.com/pml4/pml4/pkg/log"
)

// PageTables is a page table hierarchy.
type PageTables struct {
	// Allocator is used to allocate tables.
	Allocator Allocator

	// root is the PML4 table.
	root *Table

	// pageSizes are the leaf sizes that may be used.
	pageSizes uintptr
}

// Option configures New.
type Option func(*PageTables)

// WithPageSizes restricts the leaf sizes the tables may use. The mask must
// include 4K.
func WithPageSizes(mask uintptr) Option {
	return func(p *PageTables) {
		p.pageSizes = mask
	}
}

// New returns new page tables with an empty root.
func New(a Allocator, opts ...Option) *PageTables {
	p := &PageTables{
		Allocator: a,
		pageSizes: DefaultPageSizes,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.pageSizes&PageSize4K == 0 || p.pageSizes&^DefaultPageSizes != 0 {
		panic(fmt.Sprintf("pagetables: unsupported page sizes %s", PageSizeString(p.pageSizes)))
	}
	p.root = p.newTable(RootLevel, 0)
	if p.root == nil {
		panic("pagetables: unable to allocate root")
	}
	return p
}

// Root returns the PML4 table.
func (p *PageTables) Root() *Table {
	return p.root
}

// RootAddr returns the physical address of the root, as loaded into CR3.
func (p *PageTables) RootAddr() uintptr {
	return p.Allocator.PhysicalFor(p.root)
}

// SupportedPageSizes returns the leaf sizes the tables may use.
func (p *PageTables) SupportedPageSizes() uintptr {
	return p.pageSizes
}

// newTable allocates a zeroed table.
func (p *PageTables) newTable(level Level, start uintptr) *Table {
	t := p.Allocator.NewTable()
	if t == nil {
		return nil
	}
	if phys := p.Allocator.PhysicalFor(t); !bits.IsAligned(uint64(phys), tableAlign) {
		panic(fmt.Sprintf("pagetables: table at %#x is not aligned", phys))
	}
	*t = Table{start: start, level: level}
	return t
}

// NewTable allocates a table at the given level covering the range that
// starts at start, with every entry identity mapped using flags.
//
// The table is not linked into the hierarchy. It returns nil if the
// allocator is exhausted.
func (p *PageTables) NewTable(level Level, start uintptr, flags Flags) *Table {
	if !level.IsRangeAligned(start) {
		panic(fmt.Sprintf("pagetables: %v start %#x is not aligned", level, start))
	}
	t := p.newTable(level, start)
	if t == nil {
		return nil
	}
	t.IDMap(flags)
	return t
}

// PageDir returns the table e refers to.
//
// e must belong to t. At PML1 and for a zero entry it returns nil. It
// panics if e is anything other than a directory.
func (p *PageTables) PageDir(t *Table, e *PTE) *Table {
	t.mustContain(e)
	if t.level == PML1 || *e == 0 {
		return nil
	}
	if !t.IsPageDir(*e) {
		panic(fmt.Sprintf("pagetables: %v entry %#x is not a directory", t.level, uintptr(*e)))
	}
	child := p.Allocator.LookupTable(AddrOf(*e))
	if child == nil {
		panic(fmt.Sprintf("pagetables: %v entry %#x refers to unknown table", t.level, uintptr(*e)))
	}
	return child
}

// CreatePageDir installs a new lower level table at the entry of t that
// covers lin.
//
// If phys or flags are non-zero the new table is filled with consecutive
// pages starting at phys, which carries a huge page's contents down one
// level. Otherwise it starts empty. The entry becomes a present directory
// with flags minus Huge. The entry must not already be a directory. It
// returns nil if the allocator is exhausted.
func (p *PageTables) CreatePageDir(t *Table, lin, phys uintptr, flags Flags) *Table {
	sub, ok := t.level.Sub()
	if !ok {
		panic("pagetables: PML1 has no directories")
	}
	e := t.Entry(lin)
	if e == nil {
		panic(fmt.Sprintf("pagetables: %#x is outside %v", lin, t))
	}
	if t.IsPageDir(*e) {
		panic(fmt.Sprintf("pagetables: %v entry for %#x is already a directory", t.level, lin))
	}
	child := p.newTable(sub, lin&^(t.PageSize()-1))
	if child == nil {
		return nil
	}
	if phys != 0 || flags != None {
		child.MapAll(phys, flags)
	}
	*e = PTE(p.Allocator.PhysicalFor(child)) |
		PTE(flags&t.AllowedFlags()&^Huge) | PTE(Present|PageDir)
	return child
}

// lookup walks to the entry covering addr and returns it with its table.
func (p *PageTables) lookup(addr uintptr) (*Table, *PTE) {
	t := p.root
	for {
		e := t.Entry(addr)
		if e == nil {
			return nil, nil
		}
		if !t.IsPageDir(*e) {
			return t, e
		}
		t = p.PageDir(t, e)
	}
}

// EntryR returns the lowest level entry covering addr, or nil if addr is
// outside the root's range.
func (p *PageTables) EntryR(addr uintptr) *PTE {
	_, e := p.lookup(addr)
	return e
}

// Lookup returns the decoded lowest level entry covering addr.
func (p *PageTables) Lookup(addr uintptr) Entry {
	t, e := p.lookup(addr)
	if e == nil {
		return Unmapped{}
	}
	return t.Decode(t.index(e))
}

// FlagsR returns the flags of the lowest level entry covering addr.
func (p *PageTables) FlagsR(addr uintptr) Flags {
	t, e := p.lookup(addr)
	if e == nil {
		return None
	}
	return t.FlagsOf(*e)
}

// HasFlag returns true if the lowest level entry covering addr has every
// bit in mask.
func (p *PageTables) HasFlag(addr uintptr, mask Flags) bool {
	return HasFlag(p.FlagsR(addr), mask)
}

// Translate returns the physical address addr maps to.
func (p *PageTables) Translate(addr uintptr) (uintptr, Flags, bool) {
	t, e := p.lookup(addr)
	if e == nil || Flags(*e)&Present == 0 || !t.IsPage(*e) {
		return 0, None, false
	}
	return AddrOf(*e) + (addr & (t.PageSize() - 1)), t.FlagsOf(*e), true
}

// ActivePageSize returns the size of the page mapping addr, or 0 if addr
// is outside the root's range. Entries that are not present still report
// the size they would map.
func (p *PageTables) ActivePageSize(addr uintptr) uintptr {
	t, e := p.lookup(addr)
	if e == nil {
		return 0
	}
	return t.PageSize()
}

// SetFlagsR replaces the flags of the page covering addr, widening every
// directory on the way down. It returns the flags now set, or None if no
// page covers addr or the flags were refused.
func (p *PageTables) SetFlagsR(addr uintptr, flags Flags) Flags {
	t := p.root
	for {
		e := t.Entry(addr)
		if e == nil {
			return None
		}
		if !t.IsPageDir(*e) {
			if *e == 0 || !t.IsPage(*e) {
				return None
			}
			if t.level != PML1 {
				flags |= Huge
			}
			return t.SetFlags(e, flags)
		}
		t.PermitFlags(e, flags)
		t = p.PageDir(t, e)
	}
}

// MapR maps req.
//
// req.Lin and req.Phys must be 4K aligned. The largest page size permitted
// by req.PageSizes and the tables' supported sizes is used wherever
// alignment and remaining size allow. Existing pages are overwritten and
// huge pages are split as needed.
//
// It returns the mapping made, which may be shorter than requested if
// memory for tables ran out, or the empty Map if req cannot be mapped at
// all.
func (p *PageTables) MapR(req Map) Map {
	if !bits.IsAligned(uint64(req.Lin), PageSize4K) ||
		(req.Phys != AnyAddr && !bits.IsAligned(uint64(req.Phys), PageSize4K)) {
		panic(fmt.Sprintf("pagetables: unaligned request %v", req))
	}
	res := p.mapRoot(req, opMap)
	if res.Valid() && req.Phys == AnyAddr {
		if t, e := p.lookup(req.Lin); e != nil && *e != 0 && t.IsPage(*e) {
			res.Phys = AddrOf(*e) + (req.Lin & (t.PageSize() - 1))
		}
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("pagetables: map %v: %v", req, res)
	}
	return res
}

// Protect replaces the flags on every page in [lin, lin+size) and keeps
// their addresses. Huge pages only partly covered are split.
func (p *PageTables) Protect(lin, size uintptr, flags Flags) Map {
	return p.MapR(Map{
		Lin:       lin,
		Phys:      AnyAddr,
		Flags:     flags,
		Size:      size,
		PageSizes: p.pageSizes,
	})
}

// Unmap clears [lin, lin+size), rounded out to 4K. Tables that become
// unreachable are freed; tables left empty are kept until PurgeUnused.
//
// It returns the range cleared, with Phys set to AnyAddr.
func (p *PageTables) Unmap(lin, size uintptr) Map {
	if !bits.IsAligned(uint64(lin), PageSize4K) {
		panic(fmt.Sprintf("pagetables: unaligned unmap at %#x", lin))
	}
	res := p.mapRoot(Map{
		Lin:       lin,
		Phys:      AnyAddr,
		Size:      uintptr(bits.AlignUp(uint64(size), PageSize4K)),
		PageSizes: p.pageSizes,
	}, opUnmap)
	if log.IsLogging(log.Debug) {
		log.Debugf("pagetables: unmap [%#x, %#x): %v", lin, lin+size, res)
	}
	return res
}

// Summary counts the present pages and the directories.
func (p *PageTables) Summary() Summary {
	return p.summary(p.root)
}

// BytesAllocated returns the memory used by all reachable tables.
func (p *PageTables) BytesAllocated() uintptr {
	var n uintptr
	p.Traverse(func(*Table) {
		n += TableBytes
	})
	return n
}

// Traverse calls fn for the root and every table below it, parents first.
func (p *PageTables) Traverse(fn func(t *Table)) {
	p.traverse(p.root, fn)
}

// PurgeUnused frees every table below the root whose entries are all zero
// once its own empty children are gone. It returns the bytes released.
func (p *PageTables) PurgeUnused() uintptr {
	return p.purge(p.root, 0, MaxAddress)
}

// PurgeRange is PurgeUnused limited to the tables whose range intersects
// [lin, lin+size).
func (p *PageTables) PurgeRange(lin, size uintptr) uintptr {
	if size == 0 || lin >= MaxAddress {
		return 0
	}
	end := lin + size
	if end < lin || end > MaxAddress {
		end = MaxAddress
	}
	return p.purge(p.root, lin, end)
}

// Destroy frees every table including the root. The PageTables must not
// be used afterwards.
func (p *PageTables) Destroy() {
	if p.root == nil {
		return
	}
	p.destroy(p.root)
	p.root = nil
}
