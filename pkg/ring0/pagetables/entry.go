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

import "fmt"

// Entry is the decoded form of a PTE. It is one of Unmapped, Leaf or
// Directory.
type Entry interface {
	isEntry()
	fmt.Stringer
}

// Unmapped is an entry that maps nothing.
//
// Raw holds whatever bits were left behind, for example the address of a
// page that was protected to no access.
type Unmapped struct {
	Raw PTE
}

// Leaf is a present page.
type Leaf struct {
	Addr     uintptr
	Flags    Flags
	PageSize uintptr
}

// Directory refers to a lower level table.
type Directory struct {
	Addr  uintptr
	Flags Flags
}

func (Unmapped) isEntry()  {}
func (Leaf) isEntry()      {}
func (Directory) isEntry() {}

// String implements fmt.Stringer.
func (u Unmapped) String() string {
	if u.Raw == 0 {
		return "unmapped"
	}
	return fmt.Sprintf("unmapped(%#x)", uintptr(u.Raw))
}

// String implements fmt.Stringer.
func (l Leaf) String() string {
	return fmt.Sprintf("page %#x [%v] size %#x", l.Addr, l.Flags, l.PageSize)
}

// String implements fmt.Stringer.
func (d Directory) String() string {
	return fmt.Sprintf("dir %#x [%v]", d.Addr, d.Flags)
}

// Decode classifies e at level l.
func (l Level) Decode(e PTE) Entry {
	switch {
	case l.IsPageDir(e):
		return Directory{Addr: AddrOf(e), Flags: l.FlagsOf(e)}
	case l.IsPage(e) && Flags(e)&Present != 0:
		return Leaf{Addr: AddrOf(e), Flags: l.FlagsOf(e), PageSize: l.PageSize()}
	default:
		return Unmapped{Raw: e}
	}
}

// Decode classifies entry i.
func (t *Table) Decode(i int) Entry {
	return t.level.Decode(*t.At(i))
}
