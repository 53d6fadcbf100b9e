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
	"strings"

	"github.com/pml4/pml4/pkg/bits"
)

// AnyAddr as a physical address keeps whatever address an entry already
// has. It is used to change flags only.
const AnyAddr = ^uintptr(0)

// Map describes a mapping request or the mapping that resulted from one.
//
// PageSizes is a bitmask of page sizes: in a request, the sizes that may be
// used; in a result, the sizes that were used. The zero Map is the empty
// result.
type Map struct {
	Lin       uintptr
	Phys      uintptr
	Flags     Flags
	Size      uintptr
	PageSizes uintptr
}

// Valid returns true if m describes a non-empty mapping.
func (m Map) Valid() bool {
	return m.Size != 0 && m.PageSizes != 0
}

// MinPageSize returns the smallest page size in m.PageSizes, or 0.
func (m Map) MinPageSize() uintptr {
	return uintptr(bits.LowestOne64(uint64(m.PageSizes)))
}

// MaxPageSize returns the largest page size in m.PageSizes, or 0.
func (m Map) MaxPageSize() uintptr {
	return uintptr(bits.HighestOne64(uint64(m.PageSizes)))
}

// PageCount returns the number of pages m spans if it used a single page
// size, and the number of minimum-sized pages otherwise.
func (m Map) PageCount() uintptr {
	smallest := m.MinPageSize()
	if smallest == 0 {
		return 0
	}
	return m.Size / smallest
}

// End returns one past the last linear address.
func (m Map) End() uintptr {
	return m.Lin + m.Size
}

// Add concatenates m and next.
//
// The empty Map is the identity. Otherwise next must start where m ends,
// both linearly and physically (or both must use AnyAddr), or the result is
// empty. The combined mapping keeps only the flags both parts have.
func (m Map) Add(next Map) Map {
	if !next.Valid() {
		return m
	}
	if !m.Valid() {
		return next
	}
	if next.Lin != m.Lin+m.Size {
		return Map{}
	}
	if m.Phys == AnyAddr || next.Phys == AnyAddr {
		if m.Phys != next.Phys {
			return Map{}
		}
	} else if next.Phys != m.Phys+m.Size {
		return Map{}
	}
	return Map{
		Lin:       m.Lin,
		Phys:      m.Phys,
		Flags:     m.Flags & next.Flags,
		Size:      m.Size + next.Size,
		PageSizes: m.PageSizes | next.PageSizes,
	}
}

var pageSizeNames = map[uintptr]string{
	PageSize4K:   "4K",
	PageSize2M:   "2M",
	PageSize1G:   "1G",
	PageSize512G: "512G",
}

// PageSizeString formats a page size mask largest first, e.g. "1G|4K".
func PageSizeString(mask uintptr) string {
	if mask == 0 {
		return "none"
	}
	var (
		parts   []string
		unknown uintptr
	)
	bits.ForEachSetBit64(uint64(mask), func(i int) {
		psz := uintptr(1) << i
		if name, ok := pageSizeNames[psz]; ok {
			parts = append([]string{name}, parts...)
		} else {
			unknown |= psz
		}
	})
	if unknown != 0 {
		parts = append(parts, fmt.Sprintf("%#x", unknown))
	}
	return strings.Join(parts, "|")
}

// String implements fmt.Stringer.
func (m Map) String() string {
	if !m.Valid() {
		return "{empty}"
	}
	phys := "any"
	if m.Phys != AnyAddr {
		phys = fmt.Sprintf("%#x", m.Phys)
	}
	return fmt.Sprintf("{lin %#x phys %s size %#x flags %v sizes %s}",
		m.Lin, phys, m.Size, m.Flags, PageSizeString(m.PageSizes))
}
