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
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/pml4/pml4/pkg/hostarch"
	"github.com/pml4/pml4/pkg/vmem"
)

// Lookup implements subcommands.Command for the "lookup" command.
type Lookup struct {
	entries bool
}

// Name implements subcommands.Command.Name.
func (*Lookup) Name() string {
	return "lookup"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Lookup) Synopsis() string {
	return "print how addresses translate in a layout"
}

// Usage implements subcommands.Command.Usage.
func (*Lookup) Usage() string {
	return `lookup [flags] <layout> <addr>... - print access, page size, physical
address and region for each address.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Lookup) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.entries, "entries", false, "also print the decoded page table entry.")
}

// Execute implements subcommands.Command.Execute.
func (l *Lookup) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*Config)

	_, as, err := build(conf, f.Arg(0))
	if err != nil {
		Fatalf("%v", err)
	}
	defer as.Release()

	addrs := make([]uintptr, 0, f.NArg()-1)
	for _, arg := range f.Args()[1:] {
		addr, err := parseAddr(arg)
		if err != nil {
			Fatalf("invalid address %q: %v", arg, err)
		}
		addrs = append(addrs, addr)
	}
	if err := l.run(os.Stdout, as, addrs); err != nil {
		Fatalf("error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func (l *Lookup) run(w io.Writer, as *vmem.AddressSpace, addrs []uintptr) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "ADDR\tACCESS\tPAGE\tPHYS\tREGION")
	if l.entries {
		fmt.Fprintf(tw, "\tENTRY")
	}
	fmt.Fprintln(tw)
	for _, addr := range addrs {
		page := "-"
		if psz := as.ActivePageSize(addr); psz != 0 {
			page = hostarch.FormatSize(uint64(psz))
		}
		phys := "-"
		if p := as.VirtToPhys(addr); p != 0 || as.Access(addr).Any() {
			phys = fmt.Sprintf("%#x", p)
		}
		region := "-"
		if r, ok := as.Region(addr); ok {
			region = r.Name
		}
		fmt.Fprintf(tw, "%#x\t%v\t%s\t%s\t%s", addr, as.Access(addr), page, phys, region)
		if l.entries {
			fmt.Fprintf(tw, "\t%v", as.PageTables().Lookup(addr))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
