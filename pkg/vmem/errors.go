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

import "errors"

// Errors returned by AddressSpace operations. They are wrapped with the
// offending request; test with errors.Is.
var (
	// ErrEmpty is returned for a mapping with no size or no page sizes.
	ErrEmpty = errors.New("empty mapping")

	// ErrZeroPage is returned for requests touching address 0.
	ErrZeroPage = errors.New("the zero page cannot be mapped")

	// ErrUnaligned is returned when an address is not aligned to the
	// smallest usable page size.
	ErrUnaligned = errors.New("address not aligned to page size")

	// ErrPageSize is returned when none of the requested page sizes is
	// supported.
	ErrPageSize = errors.New("page size not supported")

	// ErrRange is returned for addresses above the canonical limit.
	ErrRange = errors.New("address out of range")

	// ErrPhysRange is returned for physical ranges entries cannot hold.
	ErrPhysRange = errors.New("physical address out of range")

	// ErrOverlap is returned when a new region overlaps an existing one.
	ErrOverlap = errors.New("region overlaps existing mapping")

	// ErrNotMapped is returned when no region covers an address.
	ErrNotMapped = errors.New("address not mapped")

	// ErrNoMemory is returned when no part of a request could be mapped.
	ErrNoMemory = errors.New("out of page table memory")

	// ErrIncomplete is returned when only part of a request was mapped.
	ErrIncomplete = errors.New("mapping incomplete")
)
