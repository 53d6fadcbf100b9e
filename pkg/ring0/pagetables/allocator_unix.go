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

//go:build unix

package pagetables

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/pml4/pml4/pkg/bits"
	"github.com/pml4/pml4/pkg/log"
)

// MmapAllocator places every table in its own anonymous mapping, outside
// the Go heap. It is not safe for concurrent use.
type MmapAllocator struct {
	used map[uintptr][]byte

	// limit caps the number of live tables if non-zero.
	limit int
}

// NewMmapAllocator returns a new MmapAllocator. A limit of zero means no
// limit.
func NewMmapAllocator(limit int) *MmapAllocator {
	return &MmapAllocator{
		used:  make(map[uintptr][]byte),
		limit: limit,
	}
}

// NewTable implements Allocator.NewTable.
func (m *MmapAllocator) NewTable() *Table {
	if m.limit > 0 && len(m.used) >= m.limit {
		log.Warningf("pagetables: table limit %d reached", m.limit)
		return nil
	}
	size := int(bits.AlignUp(uint64(TableBytes), uint64(unix.Getpagesize())))
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		log.Warningf("pagetables: mmap of %d bytes failed: %v", size, err)
		return nil
	}
	t := (*Table)(unsafe.Pointer(&mem[0]))
	m.used[uintptr(unsafe.Pointer(t))] = mem
	return t
}

// PhysicalFor implements Allocator.PhysicalFor.
func (m *MmapAllocator) PhysicalFor(t *Table) uintptr {
	return uintptr(unsafe.Pointer(t))
}

// LookupTable implements Allocator.LookupTable.
func (m *MmapAllocator) LookupTable(physical uintptr) *Table {
	mem, ok := m.used[physical]
	if !ok {
		return nil
	}
	return (*Table)(unsafe.Pointer(&mem[0]))
}

// FreeTable implements Allocator.FreeTable.
func (m *MmapAllocator) FreeTable(t *Table) {
	phys := uintptr(unsafe.Pointer(t))
	mem, ok := m.used[phys]
	if !ok {
		panic("pagetables: free of unknown table")
	}
	delete(m.used, phys)
	if err := unix.Munmap(mem); err != nil {
		log.Warningf("pagetables: munmap of table %#x failed: %v", phys, err)
	}
}

// Live returns the number of mapped tables.
func (m *MmapAllocator) Live() int {
	return len(m.used)
}

// Release unmaps every table still live.
func (m *MmapAllocator) Release() {
	for phys, mem := range m.used {
		if err := unix.Munmap(mem); err != nil {
			log.Warningf("pagetables: munmap of table %#x failed: %v", phys, err)
		}
		delete(m.used, phys)
	}
}
