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
	"math/rand"
	"testing"
)

// randomEntries returns a fixed set of arbitrary bit patterns.
func randomEntries() []PTE {
	r := rand.New(rand.NewSource(0x5eed))
	es := make([]PTE, 256)
	for i := range es {
		es[i] = PTE(r.Uint64())
	}
	return es
}

func pte(addr uintptr, f Flags) PTE {
	return PTE(addr) | PTE(f)
}

func TestPageAlignment(t *testing.T) {
	for _, tc := range []struct {
		level Level
		addr  uintptr
		want  bool
	}{
		{PML4, 0, true},
		{PML4, 4 * kib, false},
		{PML4, 2 * mib, false},
		{PML4, 1 * gib, false},
		{PML4, 512 * gib, true},
		{PML4, 4*kib + 17, false},
		{PML3, 0, true},
		{PML3, 4 * kib, false},
		{PML3, 2 * mib, false},
		{PML3, 1 * gib, true},
		{PML3, 512 * gib, true},
		{PML2, 4 * kib, false},
		{PML2, 2 * mib, true},
		{PML2, 1 * gib, true},
		{PML1, 0, true},
		{PML1, 4 * kib, true},
		{PML1, 512 * gib, true},
		{PML1, 4*kib + 17, false},
	} {
		if got := tc.level.IsPageAligned(tc.addr); got != tc.want {
			t.Errorf("%v.IsPageAligned(%#x) = %v, want %v", tc.level, tc.addr, got, tc.want)
		}
	}
	if !PML4.IsRangeAligned(0) || !PML4.IsRangeAligned(512*gib*512) || PML4.IsRangeAligned(512*gib*4) {
		t.Errorf("PML4.IsRangeAligned is wrong")
	}
}

func TestIsPage(t *testing.T) {
	for _, tc := range []struct {
		level Level
		e     PTE
		want  bool
	}{
		{PML4, 0, false},
		{PML4, pte(4*kib, Present|Huge), false},
		{PML4, pte(1*gib, Present|Huge), false},
		{PML4, pte(512*gib, Huge), false},
		{PML4, pte(512*gib, None), false},

		{PML3, 0, false},
		{PML3, pte(4*kib, None), false},
		{PML3, pte(4*kib, Present|Huge), false},
		{PML3, pte(2*mib, Present), false},
		{PML3, pte(2*mib, Present|Huge), false},
		{PML3, pte(1*gib, Present), false},
		{PML3, pte(1*gib, Huge), true},
		{PML3, pte(512*gib, Present), false},
		{PML3, pte(512*gib, Huge), true},

		{PML2, 0, false},
		{PML2, pte(4*kib, None) + 420, false},
		{PML2, pte(4*kib, Present|Huge), false},
		{PML2, pte(2*mib, Present), false},
		{PML2, pte(2*mib, Present|Huge), true},
		{PML2, pte(1*gib, Present), false},
		{PML2, pte(1*gib, Present|Huge), true},
		{PML2, pte(512*gib, Present|Huge), true},

		{PML1, 0, true},
		{PML1, pte(4*kib, None), true},
		{PML1, pte(5*kib, None) + 17, true},
		{PML1, pte(4*kib, Present|Huge), true},
		{PML1, pte(2*mib, Present), true},
		{PML1, pte(512*gib, Present|Huge), true},
		{PML1, pte(4*kib, Present|PageDir), false},
	} {
		if got := tc.level.IsPage(tc.e); got != tc.want {
			t.Errorf("%v.IsPage(%#x) = %v, want %v", tc.level, uintptr(tc.e), got, tc.want)
		}
	}
	for _, e := range randomEntries() {
		if PML4.IsPage(e) {
			t.Errorf("PML4.IsPage(%#x) = true", uintptr(e))
		}
		if !PML1.IsPage(e &^ PTE(PageDir)) {
			t.Errorf("PML1.IsPage(%#x) = false", uintptr(e&^PTE(PageDir)))
		}
	}
}

func TestIsPageDir(t *testing.T) {
	if PML4.IsPageDir(0) || PML4.IsPageDir(pte(512*gib, None)) {
		t.Errorf("PML4.IsPageDir true without pdir")
	}
	if !PML4.IsPageDir(pte(512*gib, PageDir|Present)) {
		t.Errorf("PML4.IsPageDir(pdir|present) = false")
	}
	if PML2.IsPageDir(pte(0, PageDir|Present)) {
		t.Errorf("directory at address zero")
	}
	for _, level := range []Level{PML4, PML3, PML2} {
		for _, e := range randomEntries() {
			if AddrOf(e) == 0 {
				continue
			}
			if got, want := level.IsPageDir(e), e&PTE(PageDir) != 0; got != want {
				t.Errorf("%v.IsPageDir(%#x) = %v, want %v", level, uintptr(e), got, want)
			}
		}
	}
	for _, e := range randomEntries() {
		if PML1.IsPageDir(e) {
			t.Errorf("PML1.IsPageDir(%#x) = true", uintptr(e))
		}
	}
}

func TestClassificationIsExclusive(t *testing.T) {
	entries := append(randomEntries(),
		0,
		pte(2*mib, Present|Huge),
		pte(1*gib, Present|Writable|Huge|NoExec),
		pte(4*kib, Present|PageDir),
		pte(1*gib, Present|PageDir|Huge),
		pte(4*kib, None),
	)
	for level := PML1; level <= PML4; level++ {
		for _, e := range entries {
			page, dir := level.IsPage(e), level.IsPageDir(e)
			if page && dir {
				t.Errorf("%v: %#x is both a page and a directory", level, uintptr(e))
			}
			switch d := level.Decode(e).(type) {
			case Directory:
				if !dir {
					t.Errorf("%v: %#x decoded as %v", level, uintptr(e), d)
				}
			case Leaf:
				if !page || Flags(e)&Present == 0 {
					t.Errorf("%v: %#x decoded as %v", level, uintptr(e), d)
				}
			case Unmapped:
				if dir || (page && Flags(e)&Present != 0) {
					t.Errorf("%v: %#x decoded as %v", level, uintptr(e), d)
				}
			}
		}
	}
}

func TestAddrAndFlagsOf(t *testing.T) {
	if got := AddrOf(4*kib + 17); got != 4*kib {
		t.Errorf("AddrOf() = %#x", got)
	}
	rnd := randomEntries()
	fl1 := PageDir | Present
	for _, level := range []Level{PML4, PML3, PML2} {
		if got := level.FlagsOf(rnd[0]|PTE(fl1)) & fl1; got != fl1 {
			t.Errorf("%v.FlagsOf() kept %v, want %v", level, got, fl1)
		}
	}
	if got := PML1.FlagsOf(rnd[0]|PTE(fl1)) & fl1; got != Present {
		t.Errorf("PML1.FlagsOf() kept %v", got)
	}
	for _, tc := range []struct {
		level Level
		want  Flags
	}{
		{PML4, All &^ Huge},
		{PML3, All},
		{PML2, All},
		{PML1, All &^ (PageDir | Huge)},
	} {
		if got := tc.level.FlagsOf(rnd[1] | PTE(All)); got != tc.want {
			t.Errorf("%v.FlagsOf(all) = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestLevels(t *testing.T) {
	for _, tc := range []struct {
		level Level
		psz   uintptr
		name  string
		leaf  bool
	}{
		{PML1, PageSize4K, "PML1", true},
		{PML2, PageSize2M, "PML2", true},
		{PML3, PageSize1G, "PML3", true},
		{PML4, PageSize512G, "PML4", false},
	} {
		if got := tc.level.PageSize(); got != tc.psz {
			t.Errorf("%v.PageSize() = %#x", tc.level, got)
		}
		if got := tc.level.RangeSize(); got != tc.psz*512 {
			t.Errorf("%v.RangeSize() = %#x", tc.level, got)
		}
		if got := tc.level.String(); got != tc.name {
			t.Errorf("String() = %q, want %q", got, tc.name)
		}
		if got := tc.level.LeafCapable(); got != tc.leaf {
			t.Errorf("%v.LeafCapable() = %v", tc.level, got)
		}
		if got, ok := LevelForPageSize(tc.psz); !ok || got != tc.level {
			t.Errorf("LevelForPageSize(%#x) = %v, %v", tc.psz, got, ok)
		}
	}
	if _, ok := PML1.Sub(); ok {
		t.Errorf("PML1 has a sub level")
	}
	if sub, ok := PML4.Sub(); !ok || sub != PML3 {
		t.Errorf("PML4.Sub() = %v, %v", sub, ok)
	}
	if _, ok := LevelForPageSize(3 * kib); ok {
		t.Errorf("LevelForPageSize(3K) succeeded")
	}
	if got := Level(7).String(); got != "Level(7)" {
		t.Errorf("String() = %q", got)
	}
}

func TestTableEntries(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	tbl := pt.NewTable(PML2, 1*gib, None)
	if tbl.WithinRange(1*gib-1) || !tbl.WithinRange(1*gib) || !tbl.WithinRange(2*gib-1) || tbl.WithinRange(2*gib) {
		t.Errorf("WithinRange is wrong for %v", tbl)
	}
	if got := tbl.IndexOf(1*gib + 5*mib); got != 2 {
		t.Errorf("IndexOf() = %d, want 2", got)
	}
	if got := tbl.IndexOf(0); got != -1 {
		t.Errorf("IndexOf(0) = %d, want -1", got)
	}
	if tbl.Entry(1*gib+4*mib) != tbl.At(2) || tbl.Entry(3*gib) != nil {
		t.Errorf("Entry() is wrong")
	}
	if got := tbl.EntryAddr(3); got != 1*gib+6*mib {
		t.Errorf("EntryAddr(3) = %#x", got)
	}
	mustPanic(t, "At(-1)", func() { tbl.At(-1) })
	mustPanic(t, "At(512)", func() { tbl.At(512) })
	if !tbl.Contains(tbl.At(511)) || tbl.Contains(pt.Root().At(0)) || tbl.Contains(nil) {
		t.Errorf("Contains() is wrong")
	}
}

func TestSetFlagsRoundTrip(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	for _, tc := range []struct {
		level Level
		addr  uintptr
		flags []Flags
	}{
		{PML1, 8 * kib, []Flags{None, Present, Present | Writable, Present | NoExec, Writable | User | Accessed | Dirty | Global, WriteThrough | CacheDisable | Present}},
		{PML2, 4 * mib, []Flags{Huge, Present | Huge, Present | Writable | Huge | NoExec, Huge | Dirty | Global | Present}},
		{PML3, 2 * gib, []Flags{Huge, Present | Huge | Writable, Present | Huge | User | NoExec}},
	} {
		tbl := pt.NewTable(tc.level, 0, None)
		e := tbl.Entry(tc.addr)
		for _, f := range tc.flags {
			if got := tbl.SetFlags(e, f); got != f {
				t.Errorf("%v.SetFlags(%v) = %v", tc.level, f, got)
			}
			if got := tbl.FlagsOf(*e); got != f {
				t.Errorf("%v.FlagsOf() after SetFlags(%v) = %v", tc.level, f, got)
			}
			if got := AddrOf(*e); got != tc.addr {
				t.Errorf("%v.SetFlags() moved address to %#x", tc.level, got)
			}
		}
	}
}

func TestSetFlagsRefusesInvalid(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	tbl := pt.NewTable(PML2, 0, None)
	e := tbl.At(1)
	before := *e
	// Present without Huge is neither a page nor a directory at PML2.
	if got := tbl.SetFlags(e, Present|Writable); got != None {
		t.Errorf("SetFlags() = %v, want none", got)
	}
	if *e != before {
		t.Errorf("entry changed to %#x", *e)
	}
	if got := tbl.SetPageFlags(e, Present|Writable); got != Present|Writable|Huge {
		t.Errorf("SetPageFlags() = %v", got)
	}
	// PML1 drops Huge.
	pml1 := pt.NewTable(PML1, 0, None)
	if got := pml1.SetPageFlags(pml1.At(3), Present); got != Present {
		t.Errorf("PML1 SetPageFlags() = %v", got)
	}
	mustPanic(t, "foreign entry", func() { tbl.SetFlags(pml1.At(0), Present) })
}

func TestPermitFlags(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	tbl := pt.NewTable(PML3, 0, None)
	e := tbl.At(0)
	*e = pte(8*kib, Present|PageDir|NoExec)

	tbl.PermitFlags(e, Present|NoExec|User)
	if got := tbl.FlagsOf(*e); got != Present|PageDir|NoExec {
		t.Errorf("after no_exec request: %v", got)
	}
	tbl.PermitFlags(e, Writable)
	if got := tbl.FlagsOf(*e); got != Present|Writable|PageDir {
		t.Errorf("after writable request: %v", got)
	}
	tbl.PermitFlags(e, NoExec)
	if got := tbl.FlagsOf(*e); got != Present|Writable|PageDir {
		t.Errorf("no_exec was restored: %v", got)
	}
	if got := AddrOf(*e); got != 8*kib {
		t.Errorf("address changed to %#x", got)
	}
}

func TestMapAllAndMap(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	tbl := pt.NewTable(PML1, 2*mib, None)
	tbl.MapAll(4*mib, Present|Huge)
	for i := 0; i < tbl.Len(); i++ {
		if got, want := tbl.Decode(i), (Leaf{Addr: 4*mib + uintptr(i)*4*kib, Flags: Present, PageSize: PageSize4K}); got != want {
			t.Fatalf("entry %d = %v, want %v", i, got, want)
		}
	}
	mustPanic(t, "unaligned MapAll", func() { tbl.MapAll(4*kib, Present) })

	res := tbl.Map(Map{Lin: 2*mib + 8*kib, Phys: 1 * gib, Flags: Present | Writable, Size: 6 * kib, PageSizes: PageSize4K})
	if res.Size != 8*kib || res.PageSizes != PageSize4K || res.Phys != 1*gib {
		t.Errorf("Map() = %v", res)
	}
	if got := tbl.Decode(3); got != (Leaf{Addr: 1*gib + 4*kib, Flags: Present | Writable, PageSize: PageSize4K}) {
		t.Errorf("entry 3 = %v", got)
	}

	// AnyAddr keeps addresses.
	tbl.Map(Map{Lin: 2 * mib, Phys: AnyAddr, Flags: None, Size: 4 * kib, PageSizes: PageSize4K})
	if got := tbl.Decode(0); got != (Unmapped{Raw: PTE(4 * mib)}) {
		t.Errorf("entry 0 = %v", got)
	}

	// The table ends before the request does.
	res = tbl.Map(Map{Lin: 4*mib - 4*kib, Phys: 0, Flags: Present, Size: 1 * mib, PageSizes: PageSize4K})
	if res.Size != 4*kib {
		t.Errorf("Map() past the end = %v", res)
	}
	if tbl.IsEmpty() {
		t.Errorf("IsEmpty() = true")
	}
}

func TestMapEntry(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	tbl := pt.NewTable(PML2, 0, None)
	res := tbl.MapEntry(tbl.At(1), Map{Lin: 2 * mib, Phys: 6 * mib, Flags: Present, Size: 10 * mib, PageSizes: PageSize2M})
	want := Map{Lin: 2 * mib, Phys: 6 * mib, Flags: Present, Size: 2 * mib, PageSizes: PageSize2M}
	if res != want {
		t.Errorf("MapEntry() = %v, want %v", res, want)
	}
	*tbl.At(2) = pte(8*kib, Present|PageDir)
	mustPanic(t, "directory", func() {
		tbl.MapEntry(tbl.At(2), Map{Lin: 4 * mib, Phys: 4 * mib, Flags: Present, Size: 2 * mib, PageSizes: PageSize2M})
	})
	mustPanic(t, "invalid request", func() { tbl.MapEntry(tbl.At(3), Map{}) })
}

func TestIsEmpty(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	tbl := pt.newTable(PML1, 0)
	if !tbl.IsEmpty() {
		t.Errorf("zeroed table is not empty")
	}
	tbl.SetFlags(tbl.At(7), Present)
	if tbl.IsEmpty() {
		t.Errorf("table with a present entry is empty")
	}

	// Entries that are not present but keep an address are in use.
	tbl = pt.NewTable(PML1, 2*mib, None)
	if tbl.IsEmpty() {
		t.Errorf("identity table without flags is empty")
	}
	for i := 0; i < tbl.Len(); i++ {
		*tbl.At(i) = 0
	}
	if !tbl.IsEmpty() {
		t.Errorf("cleared table is not empty")
	}
}

func TestMapSkipsUnusedEntries(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	tbl := pt.newTable(PML1, 0)
	tbl.Map(Map{Lin: 4 * kib, Phys: 1 * gib, Flags: Present, Size: 4 * kib, PageSizes: PageSize4K})

	res := tbl.Map(Map{Lin: 0, Phys: AnyAddr, Flags: Present | Writable, Size: 12 * kib, PageSizes: PageSize4K})
	if res.Size != 12*kib {
		t.Errorf("Map() = %v", res)
	}
	for i, want := range []PTE{0, pte(1*gib, Present|Writable), 0} {
		if got := *tbl.At(i); got != want {
			t.Errorf("entry %d = %#x, want %#x", i, got, want)
		}
	}

	res = tbl.MapEntry(tbl.At(2), Map{Lin: 8 * kib, Phys: AnyAddr, Flags: Present, Size: 4 * kib, PageSizes: PageSize4K})
	if res.Size != 4*kib || *tbl.At(2) != 0 {
		t.Errorf("MapEntry() on unused entry = %v, entry %#x", res, *tbl.At(2))
	}

	mustPanic(t, "Map past physical limit", func() {
		tbl.Map(Map{Lin: 0, Phys: MaxPhysAddress, Flags: Present, Size: 4 * kib, PageSizes: PageSize4K})
	})
	mustPanic(t, "MapEntry past physical limit", func() {
		tbl.MapEntry(tbl.At(3), Map{Lin: 12 * kib, Phys: 1 << 63, Flags: Present, Size: 4 * kib, PageSizes: PageSize4K})
	})
	if got := *tbl.At(3); got != 0 {
		t.Errorf("entry 3 = %#x after refused map", got)
	}
}
