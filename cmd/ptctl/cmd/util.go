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

// Package cmd holds implementations of the ptctl commands.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pml4/pml4/pkg/hostarch"
	"github.com/pml4/pml4/pkg/layout"
	"github.com/pml4/pml4/pkg/log"
	"github.com/pml4/pml4/pkg/ring0/pagetables"
	"github.com/pml4/pml4/pkg/vmem"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the caller of ptctl, e.g. a build script.
var ErrorLogger io.Writer

// Fatalf logs to stderr and ErrorLogger, then exits.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintln(os.Stderr, msg)
	if ErrorLogger != nil {
		fmt.Fprintln(ErrorLogger, msg)
	}
	os.Exit(128)
}

// Config is passed to every command.
type Config struct {
	// Allocator selects the table allocator: "runtime" or "mmap".
	Allocator string

	// TableLimit caps the number of tables with the mmap allocator.
	TableLimit int
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Allocator {
	case "runtime", "mmap":
	default:
		return fmt.Errorf("invalid allocator %q, must be 'runtime' or 'mmap'", c.Allocator)
	}
	if c.TableLimit < 0 {
		return fmt.Errorf("table limit must not be negative: %d", c.TableLimit)
	}
	return nil
}

// NewAllocator returns a fresh allocator of the configured kind.
func (c *Config) NewAllocator() (pagetables.Allocator, error) {
	if c.Allocator == "mmap" {
		return newMmapAllocator(c.TableLimit)
	}
	return pagetables.NewRuntimeAllocator(), nil
}

// build loads the layout in path and builds its address space.
func build(conf *Config, path string) (*layout.Layout, *vmem.AddressSpace, error) {
	l, err := layout.Load(path)
	if err != nil {
		return nil, nil, err
	}
	a, err := conf.NewAllocator()
	if err != nil {
		return nil, nil, err
	}
	as, err := l.Build(a)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("Built layout %q from %s: %v", l.Name, path, as.Summary())
	return l, as, nil
}

// parseAddr parses an address or size flag. The empty string is zero.
func parseAddr(s string) (uintptr, error) {
	if s == "" {
		return 0, nil
	}
	v, err := hostarch.ParseSize(s)
	if err != nil {
		return 0, err
	}
	return uintptr(v), nil
}

// sizeList splits a comma separated list of page sizes.
func sizeList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
