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

package layout

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pml4/pml4/pkg/hostarch"
	"github.com/pml4/pml4/pkg/ring0/pagetables"
	"github.com/pml4/pml4/pkg/vmem"
)

var kernel = Layout{
	Name:      "kernel",
	PageSizes: []string{"4K", "2M", "1G"},
	Exec:      Exec{Start: 0xa00000, End: 0xb0000b},
	Regions: []Region{
		{Name: "heap", Lin: 1 << 40, Phys: 4 << 30, Size: 64 << 20, Access: "rw-"},
		{Name: "lapic", Lin: 0x10100000000, Phys: 0xfee00000, Size: 4096, Access: "rw-", PageSizes: []string{"4K"}, MemoryType: "UC"},
		{Name: "rodata", Lin: 2 << 40, Phys: 8 << 30, Size: 3 << 20, Access: "r--"},
	},
}

func TestLoad(t *testing.T) {
	for _, path := range []string{"testdata/kernel.toml", "testdata/kernel.yaml"} {
		t.Run(path, func(t *testing.T) {
			l, err := Load(path)
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if diff := cmp.Diff(&kernel, l); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		path string
		want string
	}{
		{"testdata/kernel.json", "unknown layout format"},
		{"testdata/missing.toml", "unable to read layout"},
		{"testdata/overlap.toml", `region "b" overlaps "a"`},
	} {
		t.Run(tc.path, func(t *testing.T) {
			_, err := Load(tc.path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Load() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		format Format
		data   string
		want   string
	}{
		{"unknown toml key", TOML, "name = \"x\"\nbogus = 1\n", "unknown layout keys"},
		{"unknown yaml key", YAML, "name: x\nbogus: 1\n", "field bogus not found"},
		{"bad number", YAML, "exec: {start: 12Q}\n", "invalid size"},
		{"bad page size", YAML, "page_sizes: [3K]\n", "unsupported page size"},
		{"no 4K", YAML, "page_sizes: [2M]\n", "do not include 4K"},
		{"empty exec", YAML, "exec: {start: 0x2000, end: 0x1000}\n", "is empty"},
		{"bad access", YAML, "regions: [{name: a, lin: 1T, phys: 1G, size: 4K, access: rwz}]\n", "invalid access"},
		{"bad memory type", YAML, "regions: [{name: a, lin: 1T, phys: 1G, size: 4K, memory_type: XX}]\n", "unknown memory type"},
		{"unnamed", YAML, "regions: [{lin: 1T, phys: 1G, size: 4K}]\n", "has no name"},
		{"duplicate", YAML, "regions: [{name: a, lin: 1T, phys: 1G, size: 4K}, {name: a, lin: 2T, phys: 2G, size: 4K}]\n", "defined twice"},
		{"empty region", YAML, "regions: [{name: a, lin: 1T, phys: 1G, size: 0}]\n", "is empty"},
		{"unaligned", YAML, "regions: [{name: a, lin: 1T, phys: 0x1000, size: 2M, page_sizes: [2M]}]\n", "not aligned to 2 MiB"},
		{"phys too high", YAML, "regions: [{name: a, lin: 1T, phys: 0x10000000000000, size: 4K}]\n", "physical range exceeds 0x10000000000000"},
		{"phys crosses limit", YAML, "regions: [{name: a, lin: 1T, phys: 0xffffffffff000, size: 8K}]\n", "physical range exceeds"},
		{"format", Format("json"), "{}", "unknown layout format"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.data), tc.format)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Parse() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestParsePageSizes(t *testing.T) {
	for _, tc := range []struct {
		in   []string
		want uintptr
	}{
		{nil, pagetables.DefaultPageSizes},
		{[]string{"any"}, pagetables.DefaultPageSizes},
		{[]string{"4K"}, pagetables.PageSize4K},
		{[]string{"4KiB", "0x200000"}, pagetables.PageSize4K | pagetables.PageSize2M},
		{[]string{"1g"}, pagetables.PageSize1G},
	} {
		got, err := ParsePageSizes(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParsePageSizes(%q) = %#x, %v, want %#x", tc.in, got, err, tc.want)
		}
	}
	for _, in := range []string{"512G", "8K", "x"} {
		if _, err := ParsePageSizes([]string{in}); err == nil {
			t.Errorf("ParsePageSizes(%q) succeeded", in)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, format := range []Format{TOML, YAML} {
		data, err := kernel.Encode(format)
		if err != nil {
			t.Fatalf("Encode(%s) failed: %v", format, err)
		}
		got, err := Parse(data, format)
		if err != nil {
			t.Fatalf("Parse(%s) of encoded layout failed: %v\n%s", format, err, data)
		}
		if diff := cmp.Diff(&kernel, got); diff != "" {
			t.Errorf("%s round trip mismatch (-want +got):\n%s", format, diff)
		}
	}
}

func TestBuild(t *testing.T) {
	l, err := Load("testdata/kernel.toml")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	as, err := l.Build(pagetables.NewRuntimeAllocator())
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	defer as.Release()

	var names []string
	for _, r := range as.Regions() {
		names = append(names, r.Name)
	}
	if diff := cmp.Diff([]string{vmem.ExecName, "heap", "lapic", "rodata"}, names); diff != "" {
		t.Errorf("Regions() mismatch (-want +got):\n%s", diff)
	}
	for _, tc := range []struct {
		addr uintptr
		want hostarch.AccessType
	}{
		{0, hostarch.NoAccess},
		{0xa00000, hostarch.ReadExecute},
		{1 << 40, hostarch.ReadWrite},
		{2<<40 + 2<<20, hostarch.Read},
		{3 << 40, hostarch.NoAccess},
	} {
		if got := as.Access(tc.addr); got != tc.want {
			t.Errorf("Access(%#x) = %v, want %v", tc.addr, got, tc.want)
		}
	}
	if got := as.VirtToPhys(0x10100000000 + 0x20); got != 0xfee00020 {
		t.Errorf("VirtToPhys() = %#x", got)
	}
	if got := pagetables.MemoryTypeOf(as.Flags(0x10100000000)); got != hostarch.MemoryTypeUncached {
		t.Errorf("memory type = %v", got)
	}
	if got := as.ActivePageSize(1 << 40); got != pagetables.PageSize2M {
		t.Errorf("ActivePageSize(1T) = %#x, want 2M", got)
	}
}

func TestBuildSmall(t *testing.T) {
	l, err := Load("testdata/small.yml")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	as, err := l.Build(pagetables.NewRuntimeAllocator())
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if got := as.ActivePageSize(4<<30 - 1); got != pagetables.PageSize2M {
		t.Errorf("ActivePageSize() inside the identity limit = %#x, want 2M", got)
	}
	if got := as.Access(0x200000); got != hostarch.ReadExecute {
		t.Errorf("Access() of code = %v", got)
	}
}

func TestBuildFailure(t *testing.T) {
	l := Layout{
		Name: "clash",
		Exec: Exec{Start: 0xa00000, End: 0xb00000},
		Regions: []Region{
			{Name: "code", Lin: 0xa00000, Phys: 0xa00000, Size: 4096},
		},
	}
	if err := l.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if _, err := l.Build(pagetables.NewRuntimeAllocator()); !errors.Is(err, vmem.ErrOverlap) {
		t.Errorf("Build() = %v, want %v", err, vmem.ErrOverlap)
	}
}
