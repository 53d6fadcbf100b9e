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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/pml4/pml4/pkg/hostarch"
	"github.com/pml4/pml4/pkg/ring0/pagetables"
	"github.com/pml4/pml4/pkg/vmem"
)

// Summary implements subcommands.Command for the "summary" command.
type Summary struct {
	json bool
	tree bool
}

// Name implements subcommands.Command.Name.
func (*Summary) Name() string {
	return "summary"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Summary) Synopsis() string {
	return "build a layout and print its page table statistics"
}

// Usage implements subcommands.Command.Usage.
func (*Summary) Usage() string {
	return `summary [flags] <layout> - build the address space described by
<layout> and print its regions and page table statistics.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Summary) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.json, "json", false, "print the summary as JSON.")
	f.BoolVar(&s.tree, "tree", false, "also print the table tree.")
}

// Execute implements subcommands.Command.Execute.
func (s *Summary) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*Config)

	l, as, err := build(conf, f.Arg(0))
	if err != nil {
		Fatalf("%v", err)
	}
	defer as.Release()

	if s.json {
		err = writeReportJSON(os.Stdout, newReport(l.Name, as))
	} else {
		err = writeReport(os.Stdout, newReport(l.Name, as))
	}
	if err != nil {
		Fatalf("error writing summary: %v", err)
	}
	if s.tree {
		if err := as.Dump(os.Stdout); err != nil {
			Fatalf("error writing tree: %v", err)
		}
	}
	return subcommands.ExitSuccess
}

// report is the output of summary.
type report struct {
	Name           string             `json:"name"`
	PageSizes      string             `json:"page_sizes"`
	Regions        []reportRegion     `json:"regions"`
	Summary        pagetables.Summary `json:"summary"`
	MappedBytes    uint64             `json:"mapped_bytes"`
	BytesAllocated uint64             `json:"table_bytes"`
}

type reportRegion struct {
	vmem.Region
	Access     string `json:"access"`
	MemoryType string `json:"memory_type"`
}

func newReport(name string, as *vmem.AddressSpace) report {
	r := report{
		Name:           name,
		PageSizes:      pagetables.PageSizeString(as.SupportedPageSizes()),
		Summary:        as.Summary(),
		BytesAllocated: uint64(as.BytesAllocated()),
	}
	r.MappedBytes = r.Summary.MappedBytes()
	for _, reg := range as.Regions() {
		r.Regions = append(r.Regions, reportRegion{
			Region:     reg,
			Access:     reg.Access.String(),
			MemoryType: reg.MemoryType.ShortString(),
		})
	}
	return r
}

func writeReportJSON(w io.Writer, r report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func writeReport(w io.Writer, r report) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "Layout:\t%s\n", r.Name)
	fmt.Fprintf(tw, "Page sizes:\t%s\n", r.PageSizes)
	fmt.Fprintf(tw, "Pages:\t4K %d, 2M %d, 1G %d\n", r.Summary.Pages4K, r.Summary.Pages2M, r.Summary.Pages1G)
	fmt.Fprintf(tw, "Directories:\t2M %d, 1G %d, 512G %d\n", r.Summary.Dirs2M, r.Summary.Dirs1G, r.Summary.Dirs512G)
	fmt.Fprintf(tw, "Mapped:\t%s\n", hostarch.FormatSize(r.MappedBytes))
	fmt.Fprintf(tw, "Tables:\t%s\n", hostarch.FormatSize(r.BytesAllocated))
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(r.Regions) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tSTART\tEND\tPHYS\tACCESS\tTYPE\tSIZES\n")
	for _, reg := range r.Regions {
		fmt.Fprintf(tw, "%s\t%#x\t%#x\t%#x\t%s\t%s\t%s\n",
			reg.Name, reg.Start, reg.End, reg.Phys, reg.Access, reg.MemoryType,
			pagetables.PageSizeString(reg.PageSizes))
	}
	return tw.Flush()
}
