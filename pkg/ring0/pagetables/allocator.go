// Copyright 2018 The gVisor Authors.
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
	"unsafe"
)

// tableAlign is the alignment every table must have.
const tableAlign = PageSize4K

// Allocator is used to allocate and map tables.
type Allocator interface {
	// NewTable returns a new, 4K-aligned table. Its contents are
	// overwritten by the caller. It returns nil if memory is exhausted.
	NewTable() *Table

	// PhysicalFor gives the physical address for a table.
	PhysicalFor(t *Table) uintptr

	// LookupTable looks up a table by its physical address. It returns nil
	// if no live table has that address.
	LookupTable(physical uintptr) *Table

	// FreeTable marks a table as no longer in use.
	FreeTable(t *Table)
}

// maxPooled bounds the number of freed tables kept for reuse.
const maxPooled = 32

// RuntimeAllocator is a trivial allocator backed by the Go heap.
//
// Tables are kept alive by the used map. It is not safe for concurrent use.
type RuntimeAllocator struct {
	// used is the set of tables that have been handed out.
	used map[uintptr]*Table

	// pool is the set of free-to-use tables.
	pool []*Table

	// allocated counts every table ever created.
	allocated int
}

// NewRuntimeAllocator returns an allocator that uses runtime allocation.
func NewRuntimeAllocator() *RuntimeAllocator {
	return &RuntimeAllocator{
		used: make(map[uintptr]*Table),
	}
}

// newAlignedTable returns a table carved out of a byte slice, which keeps it
// in memory the garbage collector does not scan.
func newAlignedTable() *Table {
	mem := make([]byte, TableBytes+tableAlign)
	offset := uintptr(unsafe.Pointer(&mem[0])) & (tableAlign - 1)
	if offset != 0 {
		offset = tableAlign - offset
	}
	return (*Table)(unsafe.Pointer(&mem[offset]))
}

// NewTable implements Allocator.NewTable.
func (r *RuntimeAllocator) NewTable() *Table {
	var t *Table
	if n := len(r.pool); n > 0 {
		t = r.pool[n-1]
		r.pool[n-1] = nil
		r.pool = r.pool[:n-1]
	} else {
		t = newAlignedTable()
		r.allocated++
	}
	r.used[uintptr(unsafe.Pointer(t))] = t
	return t
}

// PhysicalFor returns the physical address for the given table.
func (r *RuntimeAllocator) PhysicalFor(t *Table) uintptr {
	return uintptr(unsafe.Pointer(t))
}

// LookupTable implements Allocator.LookupTable.
func (r *RuntimeAllocator) LookupTable(physical uintptr) *Table {
	return r.used[physical]
}

// FreeTable implements Allocator.FreeTable.
func (r *RuntimeAllocator) FreeTable(t *Table) {
	phys := uintptr(unsafe.Pointer(t))
	if _, ok := r.used[phys]; !ok {
		panic("pagetables: free of unknown table")
	}
	delete(r.used, phys)
	if len(r.pool) < maxPooled {
		r.pool = append(r.pool, t)
	}
}

// Live returns the number of tables in use.
func (r *RuntimeAllocator) Live() int {
	return len(r.used)
}

// Allocated returns the number of tables ever created.
func (r *RuntimeAllocator) Allocated() int {
	return r.allocated
}
