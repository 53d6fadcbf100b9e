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
	"github.com/pml4/pml4/pkg/log"
	"github.com/pml4/pml4/pkg/ring0/pagetables"
)

// ExecName is the name of the region holding executable code.
const ExecName = "ELF .text"

// DefaultIdentityLimit is how much of the identity map is rebuilt from 2M
// pages when 1G pages are not supported.
const DefaultIdentityLimit = 16 * hostarch.GiB

// IdentityFlags are the flags of the boot identity map.
const IdentityFlags = pagetables.Present | pagetables.Writable | pagetables.Huge | pagetables.NoExec

// BootConfig describes the initial layout of an address space.
type BootConfig struct {
	// PageSizes are the supported page sizes. Zero means all.
	PageSizes uintptr

	// ExecStart and ExecEnd bound the executable code. ExecStart must be
	// 4K aligned. Both zero means no code is made executable.
	ExecStart uintptr
	ExecEnd   uintptr

	// IdentityLimit is the size of the identity map built from 2M pages
	// when 1G pages are not supported. Zero means DefaultIdentityLimit.
	IdentityLimit uintptr
}

// Bootstrap returns an address space set up the way a kernel boots:
//
//   - the first 512G are identity mapped present, writable and not
//     executable, using 1G pages where supported;
//   - the zero page is not present;
//   - [ExecStart, ExecEnd) is read only and executable, as region ExecName.
func Bootstrap(a pagetables.Allocator, cfg BootConfig, opts ...Option) (*AddressSpace, error) {
	if cfg.PageSizes == 0 {
		cfg.PageSizes = pagetables.DefaultPageSizes
	}
	if cfg.IdentityLimit == 0 {
		cfg.IdentityLimit = DefaultIdentityLimit
	}
	if cfg.ExecEnd != 0 || cfg.ExecStart != 0 {
		if !hostarch.Addr(cfg.ExecStart).IsPageAligned() {
			return nil, fmt.Errorf("exec start %#x: %w", cfg.ExecStart, ErrUnaligned)
		}
		if cfg.ExecEnd <= cfg.ExecStart {
			return nil, fmt.Errorf("exec range [%#x, %#x): %w", cfg.ExecStart, cfg.ExecEnd, ErrEmpty)
		}
	}

	as := New(a, append([]Option{WithPageSizes(cfg.PageSizes)}, opts...)...)
	pt := as.pt
	log.Infof("vmem: initializing paging, page sizes %s", pagetables.PageSizeString(pt.SupportedPageSizes()))

	log.Infof("vmem: adding 512 1G entries at 0x0 -> %#x", pagetables.PageSize512G)
	if pt.CreatePageDir(pt.Root(), 0, 0, IdentityFlags) == nil {
		as.Release()
		return nil, fmt.Errorf("identity map: %w", ErrNoMemory)
	}

	if pt.SupportedPageSizes()&pagetables.PageSize1G == 0 {
		first := pt.MapR(pagetables.Map{
			Lin:       0,
			Phys:      0,
			Flags:     IdentityFlags,
			Size:      cfg.IdentityLimit,
			PageSizes: pt.SupportedPageSizes(),
		})
		if first.Size < cfg.IdentityLimit {
			as.Release()
			return nil, fmt.Errorf("identity map %v: %w", first, ErrIncomplete)
		}
		log.Infof("vmem: identity mapping %v", first)
	}

	log.Infof("vmem: marking page 0 as not present")
	zero := pt.MapR(pagetables.Map{
		Lin:       0,
		Phys:      0,
		Flags:     pagetables.None,
		Size:      pagetables.PageSize4K,
		PageSizes: pagetables.PageSize4K,
	})
	if zero.Size != pagetables.PageSize4K {
		as.Release()
		return nil, fmt.Errorf("zero page %v: %w", zero, ErrNoMemory)
	}

	if cfg.ExecEnd != 0 {
		log.Infof("vmem: allowing execute on %#x -> %#x", cfg.ExecStart, cfg.ExecEnd)
		if _, err := as.Map(Mapping{
			Lin:       cfg.ExecStart,
			Phys:      cfg.ExecStart,
			Size:      cfg.ExecEnd - cfg.ExecStart,
			Access:    hostarch.ReadExecute,
			PageSizes: AnyPageSize,
		}, ExecName); err != nil {
			as.Release()
			return nil, fmt.Errorf("allow executable: %w", err)
		}
	}
	return as, nil
}
