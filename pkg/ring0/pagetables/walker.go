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
	"io"
	"strings"

	"github.com/pml4/pml4/pkg/bits"
)

// op is the operation a walk performs at each entry.
type op int

const (
	opMap op = iota
	opUnmap
)

// mapRoot validates req against the supported page sizes and walks the
// hierarchy from the root.
func (p *PageTables) mapRoot(req Map, o op) Map {
	if !req.Valid() {
		return Map{}
	}
	req.PageSizes &= p.pageSizes
	if req.PageSizes == 0 {
		return Map{}
	}
	smallest := uint64(req.MinPageSize())
	if !bits.IsAligned(uint64(req.Lin), smallest) {
		return Map{}
	}
	if req.Phys != AnyAddr && !bits.IsAligned(uint64(req.Phys), smallest) {
		return Map{}
	}
	if req.Lin >= MaxAddress {
		return Map{}
	}
	if req.Phys != AnyAddr && !PhysInRange(req.Phys, req.Size) {
		return Map{}
	}
	return p.mapR(p.root, req, o)
}

// PhysInRange returns true if [phys, phys+size) can be held by entries.
func PhysInRange(phys, size uintptr) bool {
	return phys < MaxPhysAddress && size <= MaxPhysAddress-phys
}

// entryEnd returns one past the last address covered by the entry that
// covers addr.
func entryEnd(t *Table, addr uintptr) uintptr {
	return (addr &^ (t.PageSize() - 1)) + t.PageSize()
}

// mapR walks consecutive entries of t, starting with the one covering
// req.Lin, until req is covered or t ends.
//
// It stops at the first entry that could not be completed and returns what
// was mapped up to that point.
func (p *PageTables) mapR(t *Table, req Map, o op) Map {
	if t.level == PML1 {
		return p.mapLeafR(t, req, o)
	}
	if !req.Valid() || !t.WithinRange(req.Lin) {
		return Map{}
	}
	var res Map
	for res.Size < req.Size {
		lin := req.Lin + res.Size
		e := t.Entry(lin)
		if e == nil {
			break
		}
		sub := Map{
			Lin:       lin,
			Phys:      req.Phys,
			Flags:     req.Flags,
			Size:      req.Size - res.Size,
			PageSizes: req.PageSizes,
		}
		if req.Phys != AnyAddr {
			sub.Phys = req.Phys + res.Size
		}
		r := p.mapEntryR(t, e, sub, o)
		if !r.Valid() {
			return res
		}
		next := res.Add(r)
		if !next.Valid() {
			panic(fmt.Sprintf("pagetables: %v produced disjoint mappings %v and %v", t, res, r))
		}
		res = next
		if res.Size < req.Size && r.End() < entryEnd(t, lin) {
			// The entry is only partly done.
			return res
		}
	}
	return res
}

// mapEntryR maps as much of req as falls in entry e of t.
//
// A page is written at this level if the request permits this level's page
// size, is large and aligned enough, and the entry is not a directory.
// Otherwise the request descends into a directory, which is created from
// whatever the entry held if needed. The smallest permitted page size being
// at least this level's size means the request can't be met here.
func (p *PageTables) mapEntryR(t *Table, e *PTE, req Map, o op) Map {
	if o == opUnmap {
		return p.unmapEntryR(t, e, req)
	}
	if req.Phys == AnyAddr && *e == 0 {
		return skipHole(t, req)
	}
	psz := t.PageSize()
	if t.level.LeafCapable() &&
		!t.IsPageDir(*e) &&
		req.Size >= psz &&
		req.PageSizes&psz != 0 &&
		t.IsPageAligned(req.Lin) &&
		((req.Phys == AnyAddr && t.IsPage(*e)) ||
			(req.Phys != AnyAddr && t.IsPageAligned(req.Phys))) {
		return t.MapEntry(e, req)
	}
	if req.MinPageSize() >= psz {
		return Map{}
	}
	if !t.IsPageDir(*e) && p.split(t, e, req.Lin) == nil {
		return Map{}
	}
	t.PermitFlags(e, req.Flags)
	return p.mapR(p.PageDir(t, e), req, o)
}

// skipHole returns the part of req falling in an unused entry of t. There
// is no address to keep, so the entry stays unused.
func skipHole(t *Table, req Map) Map {
	return Map{
		Lin:       req.Lin,
		Phys:      AnyAddr,
		Flags:     req.Flags,
		Size:      min(req.Size, entryEnd(t, req.Lin)-req.Lin),
		PageSizes: PageSize4K,
	}
}

// split replaces the entry of t covering lin with a directory that keeps
// whatever the entry mapped.
func (p *PageTables) split(t *Table, e *PTE, lin uintptr) *Table {
	if t.IsPage(*e) {
		return p.CreatePageDir(t, lin, AddrOf(*e), t.FlagsOf(*e))
	}
	return p.CreatePageDir(t, lin, 0, None)
}

// unmapEntryR clears as much of req as falls in entry e of t.
//
// Fully covered entries are cleared and their tables freed. Partly covered
// huge pages are split first.
func (p *PageTables) unmapEntryR(t *Table, e *PTE, req Map) Map {
	psz := t.PageSize()
	covered := t.IsPageAligned(req.Lin) && req.Size >= psz
	done := Map{Lin: req.Lin, Phys: req.Phys, PageSizes: psz}
	switch {
	case t.IsPageDir(*e):
		if !covered {
			return p.mapR(p.PageDir(t, e), req, opUnmap)
		}
		p.destroy(p.PageDir(t, e))
		*e = 0
		done.Size = psz
	case covered:
		*e = 0
		done.Size = psz
	case t.IsPage(*e):
		child := p.split(t, e, req.Lin)
		if child == nil {
			return Map{}
		}
		return p.mapR(child, req, opUnmap)
	default:
		// Nothing is mapped here.
		done.Size = min(req.Size, entryEnd(t, req.Lin)-req.Lin)
		done.PageSizes = PageSize4K
	}
	return done
}

// mapLeafR is mapR at PML1, where entries are always pages.
func (p *PageTables) mapLeafR(t *Table, req Map, o op) Map {
	if req.Size == 0 || req.PageSizes&PageSize4K == 0 {
		return Map{}
	}
	if o == opMap {
		return t.Map(req)
	}
	if !t.WithinRange(req.Lin) {
		return Map{}
	}
	res := Map{Lin: req.Lin, Phys: req.Phys, PageSizes: PageSize4K}
	for e := t.Entry(req.Lin); e != nil && res.Size < req.Size; e = t.Entry(req.Lin + res.Size) {
		*e = 0
		res.Size += PageSize4K
	}
	return res
}

// summary counts t and everything below it.
func (p *PageTables) summary(t *Table) Summary {
	var s Summary
	psz := t.PageSize()
	for i := range t.ptes {
		e := &t.ptes[i]
		switch {
		case t.IsPageDir(*e):
			s.addDir(psz)
			s.Add(p.summary(p.PageDir(t, e)))
		case t.IsPage(*e) && Flags(*e)&Present != 0:
			s.addPage(psz)
		}
	}
	return s
}

func (p *PageTables) traverse(t *Table, fn func(*Table)) {
	fn(t)
	if t.level == PML1 {
		return
	}
	for i := range t.ptes {
		if e := &t.ptes[i]; t.IsPageDir(*e) {
			p.traverse(p.PageDir(t, e), fn)
		}
	}
}

// purge frees empty tables below t and returns the bytes released.
func (p *PageTables) purge(t *Table, lin, end uintptr) uintptr {
	if t.level == PML1 {
		return 0
	}
	var freed uintptr
	psz := t.PageSize()
	for i := range t.ptes {
		e := &t.ptes[i]
		if start := t.EntryAddr(i); start >= end || start+psz <= lin {
			continue
		}
		if !t.IsPageDir(*e) {
			continue
		}
		child := p.PageDir(t, e)
		freed += p.purge(child, lin, end)
		if child.IsEmpty() {
			p.Allocator.FreeTable(child)
			*e = 0
			freed += TableBytes
		}
	}
	return freed
}

// destroy frees t and every table below it.
func (p *PageTables) destroy(t *Table) {
	if t.level != PML1 {
		for i := range t.ptes {
			if e := &t.ptes[i]; t.IsPageDir(*e) {
				p.destroy(p.PageDir(t, e))
				*e = 0
			}
		}
	}
	p.Allocator.FreeTable(t)
}

// Dump writes the directory tree, one line per table.
func (p *PageTables) Dump(w io.Writer) error {
	return p.dump(w, p.root, 0)
}

func (p *PageTables) dump(w io.Writer, t *Table, depth int) error {
	var s Summary
	for i := range t.ptes {
		if e := t.ptes[i]; t.IsPage(e) && Flags(e)&Present != 0 {
			s.addPage(t.PageSize())
		}
	}
	if _, err := fmt.Fprintf(w, "%s-+<%v> %#x pages: %d\n",
		strings.Repeat(" ", depth*2), t.level, t.start, s.Pages()); err != nil {
		return err
	}
	if t.level == PML1 {
		return nil
	}
	for i := range t.ptes {
		if e := &t.ptes[i]; t.IsPageDir(*e) {
			if err := p.dump(w, p.PageDir(t, e), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
