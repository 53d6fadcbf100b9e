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
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/pml4/pml4/pkg/log"
)

// Check implements subcommands.Command for the "check" command.
type Check struct {
	jobs     int
	failFast bool
}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "build layouts and report which fail"
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check [flags] <layout>... - build every layout concurrently and report
the ones that cannot be built.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Check) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.jobs, "j", runtime.GOMAXPROCS(0), "number of layouts to build at once.")
	f.BoolVar(&c.failFast, "fail-fast", false, "stop at the first failure.")
}

// Execute implements subcommands.Command.Execute.
func (c *Check) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*Config)

	results := c.run(ctx, conf, f.Args())
	failed := writeResults(os.Stdout, results)
	if failed > 0 {
		log.Warningf("%d of %d layouts failed", failed, len(results))
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// checkResult is the outcome of building one layout.
type checkResult struct {
	path    string
	name    string
	summary string
	err     error
}

// run builds every layout in paths with at most c.jobs at a time. Results
// are in the order of paths.
func (c *Check) run(ctx context.Context, conf *Config, paths []string) []checkResult {
	results := make([]checkResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if c.jobs > 0 {
		g.SetLimit(c.jobs)
	}
	for i, path := range paths {
		i, path := i, path
		results[i].path = path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].err = err
				return nil
			}
			l, as, err := build(conf, path)
			if err != nil {
				results[i].err = err
				if c.failFast {
					return err
				}
				return nil
			}
			results[i].name = l.Name
			results[i].summary = as.Summary().String()
			as.Release()
			return nil
		})
	}
	// Errors are recorded per layout.
	_ = g.Wait()
	return results
}

// writeResults prints one line per result and returns the number of
// failures.
func writeResults(w io.Writer, results []checkResult) int {
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", r.path, r.err)
			continue
		}
		fmt.Fprintf(w, "ok   %s (%s): %s\n", r.path, r.name, r.summary)
	}
	return failed
}
