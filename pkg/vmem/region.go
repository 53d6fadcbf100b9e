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

package vmem

import (
	"fmt"

	"github.com/google/btree"
	"github.com/pml4/pml4/pkg/hostarch"
)

// Region is a named range of linear addresses mapped through Map.
type Region struct {
	Name       string              `json:"name"`
	Start      uintptr             `json:"start"`
	End        uintptr             `json:"end"`
	Phys       uintptr             `json:"phys"`
	Access     hostarch.AccessType `json:"-"`
	MemoryType hostarch.MemoryType `json:"-"`
	PageSizes  uintptr             `json:"page_sizes"`
}

// Size returns the length of the region.
func (r Region) Size() uintptr {
	return r.End - r.Start
}

// Contains returns true if addr is in [Start, End).
func (r Region) Contains(addr uintptr) bool {
	return addr >= r.Start && addr < r.End
}

// Overlaps returns true if r and o share an address.
func (r Region) Overlaps(o Region) bool {
	return r.Start < o.End && o.Start < r.End
}

// String implements fmt.Stringer.
func (r Region) String() string {
	return fmt.Sprintf("%s [%#x, %#x) -> %#x %v %s", r.Name, r.Start, r.End, r.Phys, r.Access, r.MemoryType.ShortString())
}

// regionSet is a set of disjoint regions ordered by start address.
type regionSet struct {
	tree *btree.BTreeG[Region]
}

const regionDegree = 8

func newRegionSet() regionSet {
	return regionSet{
		tree: btree.NewG(regionDegree, func(a, b Region) bool {
			return a.Start < b.Start
		}),
	}
}

// find returns the region containing addr.
func (s regionSet) find(addr uintptr) (Region, bool) {
	var found Region
	ok := false
	s.tree.DescendLessOrEqual(Region{Start: addr}, func(r Region) bool {
		if r.Contains(addr) {
			found, ok = r, true
		}
		return false
	})
	return found, ok
}

// overlapping returns the first region that overlaps r.
func (s regionSet) overlapping(r Region) (Region, bool) {
	if prev, ok := s.find(r.Start); ok {
		return prev, true
	}
	var found Region
	ok := false
	s.tree.AscendGreaterOrEqual(Region{Start: r.Start}, func(next Region) bool {
		if next.Overlaps(r) {
			found, ok = next, true
		}
		return false
	})
	return found, ok
}

// insert adds r. It must not overlap an existing region.
func (s regionSet) insert(r Region) error {
	if o, ok := s.overlapping(r); ok {
		return fmt.Errorf("%w: %s overlaps %s", ErrOverlap, r.Name, o)
	}
	s.tree.ReplaceOrInsert(r)
	return nil
}

// replace stores r over the region with the same start.
func (s regionSet) replace(r Region) {
	s.tree.ReplaceOrInsert(r)
}

// remove deletes the region starting at start.
func (s regionSet) remove(start uintptr) {
	s.tree.Delete(Region{Start: start})
}

// all returns every region in address order.
func (s regionSet) all() []Region {
	rs := make([]Region, 0, s.tree.Len())
	s.tree.Ascend(func(r Region) bool {
		rs = append(rs, r)
		return true
	})
	return rs
}
