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

// Package vmem manages a virtual address space on top of page tables.
//
// An AddressSpace keeps a registry of named regions next to the tables.
// Every Map call creates one region; Unmap removes the whole region that
// contains an address, and protection changes are only allowed inside an
// existing region.
package vmem

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pml4/pml4/pkg/bits"
	"github.com/pml4/pml4/pkg/hostarch"
	"github.com/pml4/pml4/pkg/log"
	"github.com/pml4/pml4/pkg/ring0/pagetables"
)

// DefaultName is used for regions mapped without a name.
const DefaultName = "vmem.Map"

// AddressSpace is a set of page tables and the regions mapped in them.
//
// AddressSpace is safe for concurrent use.
type AddressSpace struct {
	// invalidate is called for every page whose translation changed.
	// It is immutable.
	invalidate func(addr uintptr)

	// warn reports failed mappings at a limited rate.
	warn log.Logger

	// mu protects the fields below.
	mu sync.Mutex

	// pt are the page tables.
	pt *pagetables.PageTables

	// regions are the mapped regions.
	regions regionSet
}

// Option configures New.
type Option func(*config)

type config struct {
	pageSizes  uintptr
	invalidate func(addr uintptr)
}

// WithPageSizes sets the page sizes the address space may use. The mask
// must include 4K.
func WithPageSizes(mask uintptr) Option {
	return func(c *config) {
		c.pageSizes = mask
	}
}

// WithInvalidate sets the function called for every page whose
// translation changed, as a TLB shootdown would.
func WithInvalidate(fn func(addr uintptr)) Option {
	return func(c *config) {
		c.invalidate = fn
	}
}

// New returns an empty address space using a for its tables.
func New(a pagetables.Allocator, opts ...Option) *AddressSpace {
	c := config{
		pageSizes:  pagetables.DefaultPageSizes,
		invalidate: func(uintptr) {},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &AddressSpace{
		invalidate: c.invalidate,
		warn:       log.BasicRateLimitedLogger(time.Second),
		pt:         pagetables.New(a, pagetables.WithPageSizes(c.pageSizes)),
		regions:    newRegionSet(),
	}
}

// PageTables returns the underlying tables. Callers must not modify them
// while the address space is in use.
func (as *AddressSpace) PageTables() *pagetables.PageTables {
	return as.pt
}

// SupportedPageSizes returns the page sizes the address space may use.
func (as *AddressSpace) SupportedPageSizes() uintptr {
	return as.pt.SupportedPageSizes()
}

// MinPageSize returns the smallest supported page size.
func (as *AddressSpace) MinPageSize() uintptr {
	return uintptr(bits.LowestOne64(uint64(as.pt.SupportedPageSizes())))
}

// MaxPageSize returns the largest supported page size.
func (as *AddressSpace) MaxPageSize() uintptr {
	return uintptr(bits.HighestOne64(uint64(as.pt.SupportedPageSizes())))
}

// Map maps m as a new region called name.
//
// The region covers m.Size rounded up to the smallest requested page size.
// If the tables run out of memory part way, the region is shrunk to what
// was mapped and ErrIncomplete is returned with the partial result.
func (as *AddressSpace) Map(m Mapping, name string) (Mapping, error) {
	if name == "" {
		name = DefaultName
	}
	if !m.Valid() {
		return Mapping{}, fmt.Errorf("%s %v: %w", name, m, ErrEmpty)
	}
	if m.Lin == 0 || m.Phys == 0 {
		return Mapping{}, fmt.Errorf("%s %v: %w", name, m, ErrZeroPage)
	}
	sizes := m.PageSizes & as.pt.SupportedPageSizes()
	if sizes == 0 {
		return Mapping{}, fmt.Errorf("%s %v: %w", name, m, ErrPageSize)
	}
	align := uint64(bits.LowestOne64(uint64(sizes)))
	if !bits.IsAligned(uint64(m.Lin), align) || !bits.IsAligned(uint64(m.Phys), align) {
		return Mapping{}, fmt.Errorf("%s %v: %w", name, m, ErrUnaligned)
	}
	size := uintptr(bits.AlignUp(uint64(m.Size), align))
	if end, ok := hostarch.Addr(m.Lin).AddLength(uint64(size)); !ok || size < m.Size || uintptr(end) > pagetables.MaxAddress {
		return Mapping{}, fmt.Errorf("%s %v: %w", name, m, ErrRange)
	}
	if !pagetables.PhysInRange(m.Phys, size) {
		return Mapping{}, fmt.Errorf("%s %v: %w", name, m, ErrPhysRange)
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	r := Region{
		Name:       name,
		Start:      m.Lin,
		End:        m.Lin + size,
		Phys:       m.Phys,
		Access:     m.Access,
		MemoryType: m.MemoryType,
		PageSizes:  sizes,
	}
	if err := as.regions.insert(r); err != nil {
		return Mapping{}, err
	}

	req := m.ToMap()
	req.Size = size
	req.PageSizes = sizes
	res := as.pt.MapR(req)
	switch {
	case !res.Valid():
		as.regions.remove(r.Start)
		as.warn.Warningf("vmem: failed to map %s %v", name, m)
		return Mapping{}, fmt.Errorf("%s %v: %w", name, m, ErrNoMemory)
	case res.Size < size:
		r.End = r.Start + res.Size
		as.regions.replace(r)
		as.warn.Warningf("vmem: mapped %s only up to %#x", name, r.End)
		return FromMap(res), fmt.Errorf("%s %v: %w: %v", name, m, ErrIncomplete, res)
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("vmem: mapped %v", r)
	}
	return FromMap(res), nil
}

// Unmap unmaps the whole region containing addr and frees tables left
// empty. It returns the range unmapped.
func (as *AddressSpace) Unmap(addr uintptr) (Mapping, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	r, ok := as.regions.find(addr)
	if !ok {
		return Mapping{}, fmt.Errorf("unmap %#x: %w", addr, ErrNotMapped)
	}
	as.invalidateRange(r.Start, r.End)
	res := as.pt.Unmap(r.Start, r.Size())
	freed := as.pt.PurgeRange(r.Start, r.Size())
	as.regions.remove(r.Start)
	if log.IsLogging(log.Debug) {
		log.Debugf("vmem: unmapped %v, freed %d bytes of tables", r, freed)
	}
	return Mapping{
		Lin:       res.Lin,
		Size:      res.Size,
		PageSizes: res.PageSizes,
	}, nil
}

// invalidateRange invalidates every page in [start, end) using the page
// sizes currently mapped. Must be called with mu held.
func (as *AddressSpace) invalidateRange(start, end uintptr) {
	for addr := start; addr < end; {
		as.invalidate(addr)
		psz := as.pt.ActivePageSize(addr)
		if psz == 0 {
			return
		}
		addr = uintptr(bits.AlignDown(uint64(addr), uint64(psz))) + psz
	}
}

// containing returns the region holding all of [lin, lin+size).
func (as *AddressSpace) containing(lin, size uintptr) (Region, error) {
	r, ok := as.regions.find(lin)
	if !ok || lin+size > r.End || lin+size < lin {
		return Region{}, fmt.Errorf("[%#x, %#x): %w", lin, lin+size, ErrNotMapped)
	}
	return r, nil
}

// Protect changes the access of [lin, lin+size), which must lie in one
// region. Physical addresses are kept. It returns the range changed.
func (as *AddressSpace) Protect(lin, size uintptr, access hostarch.AccessType) (Mapping, error) {
	if size < as.MinPageSize() {
		return Mapping{}, fmt.Errorf("protect %#x: size %#x: %w", lin, size, ErrEmpty)
	}
	if lin == 0 {
		return Mapping{}, fmt.Errorf("protect: %w", ErrZeroPage)
	}
	if !hostarch.Addr(lin).IsPageAligned() {
		return Mapping{}, fmt.Errorf("protect %#x: %w", lin, ErrUnaligned)
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	r, err := as.containing(lin, size)
	if err != nil {
		return Mapping{}, fmt.Errorf("protect: %w", err)
	}
	flags := pagetables.FromAccessType(access) | pagetables.MemoryTypeFlags(r.MemoryType)
	res := as.pt.Protect(lin, size, flags)
	if !res.Valid() {
		return Mapping{}, fmt.Errorf("protect [%#x, %#x): %w", lin, lin+size, ErrNoMemory)
	}
	as.invalidateRange(res.Lin, res.End())
	if res.Lin == r.Start && res.End() >= r.End {
		r.Access = access
		as.regions.replace(r)
	}
	if res.Size < size {
		return FromMap(res), fmt.Errorf("protect [%#x, %#x): %w: %v", lin, lin+size, ErrIncomplete, res)
	}
	return FromMap(res), nil
}

// ProtectPage changes the access of the page containing lin, whatever its
// size. It returns the access now in effect.
func (as *AddressSpace) ProtectPage(lin uintptr, access hostarch.AccessType) (hostarch.AccessType, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	r, err := as.containing(lin, 0)
	if err != nil {
		return hostarch.NoAccess, fmt.Errorf("protect page: %w", err)
	}
	f := as.protectPage(lin, pagetables.FromAccessType(access)|pagetables.MemoryTypeFlags(r.MemoryType))
	return pagetables.ToAccessType(f), nil
}

// protectPage must be called with mu held.
func (as *AddressSpace) protectPage(lin uintptr, flags pagetables.Flags) pagetables.Flags {
	f := as.pt.SetFlagsR(lin, flags)
	as.invalidate(lin)
	return f
}

// ProtectRange changes the access of every page from lin to the end of
// its region, one page at a time. It returns the union of the access now
// in effect on those pages.
func (as *AddressSpace) ProtectRange(lin uintptr, access hostarch.AccessType) (hostarch.AccessType, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	r, err := as.containing(lin, 0)
	if err != nil {
		return hostarch.NoAccess, fmt.Errorf("protect range: %w", err)
	}
	flags := pagetables.FromAccessType(access) | pagetables.MemoryTypeFlags(r.MemoryType)
	var got pagetables.Flags
	for addr := lin; addr < r.End; {
		psz := as.pt.ActivePageSize(addr)
		got |= as.protectPage(addr, flags)
		addr = uintptr(bits.AlignDown(uint64(addr), uint64(psz))) + psz
	}
	if lin == r.Start {
		r.Access = access
		as.regions.replace(r)
	}
	return pagetables.ToAccessType(got), nil
}

// Flags returns the page table flags in effect at addr.
func (as *AddressSpace) Flags(addr uintptr) pagetables.Flags {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.pt.FlagsR(addr)
}

// Access returns the access permitted at addr.
func (as *AddressSpace) Access(addr uintptr) hostarch.AccessType {
	return pagetables.ToAccessType(as.Flags(addr))
}

// ActivePageSize returns the size of the page covering addr.
func (as *AddressSpace) ActivePageSize(addr uintptr) uintptr {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.pt.ActivePageSize(addr)
}

// VirtToPhys returns the physical address addr translates to, or 0 if
// addr is not mapped.
func (as *AddressSpace) VirtToPhys(addr uintptr) uintptr {
	as.mu.Lock()
	defer as.mu.Unlock()
	phys, _, ok := as.pt.Translate(addr)
	if !ok {
		return 0
	}
	return phys
}

// Region returns the region containing addr.
func (as *AddressSpace) Region(addr uintptr) (Region, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.regions.find(addr)
}

// Regions returns every region in address order.
func (as *AddressSpace) Regions() []Region {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.regions.all()
}

// Summary counts the pages and directories in the tables.
func (as *AddressSpace) Summary() pagetables.Summary {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.pt.Summary()
}

// BytesAllocated returns the memory used by the tables.
func (as *AddressSpace) BytesAllocated() uintptr {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.pt.BytesAllocated()
}

// Dump writes the table tree to w.
func (as *AddressSpace) Dump(w io.Writer) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.pt.Dump(w)
}

// Release frees all tables. The address space must not be used afterwards.
func (as *AddressSpace) Release() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.pt.Destroy()
	as.regions.tree.Clear(false)
}
