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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/pml4/pml4/pkg/layout"
	"github.com/pml4/pml4/pkg/vmem"
)

// Map implements subcommands.Command for the "map" command.
type Map struct {
	region layout.Region
	lin    string
	phys   string
	size   string
	sizes  string
	unmap  string
	tree   bool
}

// Name implements subcommands.Command.Name.
func (*Map) Name() string {
	return "map"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Map) Synopsis() string {
	return "apply one more mapping to a layout and print the result"
}

// Usage implements subcommands.Command.Usage.
func (*Map) Usage() string {
	return `map [flags] <layout> - build the address space described by <layout>,
map one more region into it and print what was mapped.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Map) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.region.Name, "name", "ptctl", "name of the new region.")
	f.StringVar(&m.lin, "lin", "", "linear start address, e.g. 0x10000000000 or 1T.")
	f.StringVar(&m.phys, "phys", "", "physical start address.")
	f.StringVar(&m.size, "size", "", "size of the mapping, e.g. 4M.")
	f.StringVar(&m.region.Access, "access", "rw-", "access in r/w/x notation.")
	f.StringVar(&m.sizes, "page-sizes", "any", "comma separated page sizes to use.")
	f.StringVar(&m.region.MemoryType, "memory-type", "WB", "memory type: WB, WT or UC.")
	f.StringVar(&m.unmap, "unmap", "", "unmap the region containing this address afterwards.")
	f.BoolVar(&m.tree, "tree", false, "print the table tree afterwards.")
}

// Execute implements subcommands.Command.Execute.
func (m *Map) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*Config)

	_, as, err := build(conf, f.Arg(0))
	if err != nil {
		Fatalf("%v", err)
	}
	defer as.Release()

	if err := m.run(os.Stdout, as); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func (m *Map) run(w io.Writer, as *vmem.AddressSpace) error {
	r := m.region
	r.PageSizes = sizeList(m.sizes)
	for _, v := range []struct {
		s   string
		dst *layout.Number
	}{
		{m.lin, &r.Lin},
		{m.phys, &r.Phys},
		{m.size, &r.Size},
	} {
		addr, err := parseAddr(v.s)
		if err != nil {
			return err
		}
		*v.dst = layout.Number(addr)
	}
	req, err := r.Mapping()
	if err != nil {
		return err
	}

	got, err := as.Map(req, r.Name)
	if err != nil {
		return fmt.Errorf("map %s: %w", r.Name, err)
	}
	fmt.Fprintf(w, "mapped %s: %v\n", r.Name, got)
	fmt.Fprintf(w, "summary: %v\n", as.Summary())

	if m.unmap != "" {
		addr, err := parseAddr(m.unmap)
		if err != nil {
			return err
		}
		got, err := as.Unmap(addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "unmapped: %v\n", got)
		fmt.Fprintf(w, "summary: %v\n", as.Summary())
	}
	if m.tree {
		return as.Dump(w)
	}
	return nil
}
