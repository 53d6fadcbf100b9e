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

	"github.com/pml4/pml4/pkg/hostarch"
	"github.com/pml4/pml4/pkg/ring0/pagetables"
)

// AnyPageSize permits every page size the address space supports.
const AnyPageSize = pagetables.DefaultPageSizes

// Mapping is a mapping request or result in hardware neutral terms.
type Mapping struct {
	Lin        uintptr
	Phys       uintptr
	Size       uintptr
	Access     hostarch.AccessType
	MemoryType hostarch.MemoryType
	PageSizes  uintptr
}

// ToMap converts m to a page table request.
func (m Mapping) ToMap() pagetables.Map {
	return pagetables.Map{
		Lin:       m.Lin,
		Phys:      m.Phys,
		Flags:     pagetables.FromAccessType(m.Access) | pagetables.MemoryTypeFlags(m.MemoryType),
		Size:      m.Size,
		PageSizes: m.PageSizes,
	}
}

// FromMap converts a page table result.
func FromMap(m pagetables.Map) Mapping {
	return Mapping{
		Lin:        m.Lin,
		Phys:       m.Phys,
		Size:       m.Size,
		Access:     pagetables.ToAccessType(m.Flags),
		MemoryType: pagetables.MemoryTypeOf(m.Flags),
		PageSizes:  m.PageSizes,
	}
}

// Valid returns true if m has a size and at least one page size.
func (m Mapping) Valid() bool {
	return m.Size != 0 && m.PageSizes != 0
}

// String implements fmt.Stringer.
func (m Mapping) String() string {
	if !m.Valid() {
		return "{empty}"
	}
	return fmt.Sprintf("{lin %#x phys %#x size %s %v %s sizes %s}",
		m.Lin, m.Phys, hostarch.FormatSize(uint64(m.Size)), m.Access,
		m.MemoryType.ShortString(), pagetables.PageSizeString(m.PageSizes))
}
