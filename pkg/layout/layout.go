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

// Package layout loads address space layouts from TOML or YAML files.
//
// A layout names the boot parameters of an address space and the regions
// mapped into it after boot, for example:
//
//	name = "kernel"
//	page_sizes = ["4K", "2M", "1G"]
//
//	[exec]
//	start = "0xa00000"
//	end = "0xb0000b"
//
//	[[region]]
//	name = "heap"
//	lin = "1T"
//	phys = "4G"
//	size = "64M"
//	access = "rw-"
//
// Addresses and sizes are hexadecimal, decimal or carry a binary unit
// suffix.
package layout

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/pml4/pml4/pkg/bits"
	"github.com/pml4/pml4/pkg/hostarch"
	"github.com/pml4/pml4/pkg/ring0/pagetables"
	"github.com/pml4/pml4/pkg/vmem"
)

// Number is an address or size. It is written as a string or an integer.
type Number uint64

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Number) UnmarshalText(text []byte) error {
	v, err := hostarch.ParseSize(string(text))
	if err != nil {
		return err
	}
	*n = Number(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (n Number) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%#x", uint64(n))), nil
}

// Exec bounds the executable code.
type Exec struct {
	Start Number `toml:"start" yaml:"start"`
	End   Number `toml:"end" yaml:"end"`
}

// Region is a mapping made after boot.
type Region struct {
	Name       string   `toml:"name" yaml:"name"`
	Lin        Number   `toml:"lin" yaml:"lin"`
	Phys       Number   `toml:"phys" yaml:"phys"`
	Size       Number   `toml:"size" yaml:"size"`
	Access     string   `toml:"access,omitempty" yaml:"access,omitempty"`
	PageSizes  []string `toml:"page_sizes,omitempty" yaml:"page_sizes,omitempty"`
	MemoryType string   `toml:"memory_type,omitempty" yaml:"memory_type,omitempty"`
}

// Layout describes an address space.
type Layout struct {
	Name          string   `toml:"name" yaml:"name"`
	PageSizes     []string `toml:"page_sizes,omitempty" yaml:"page_sizes,omitempty"`
	Exec          Exec     `toml:"exec" yaml:"exec"`
	IdentityLimit Number   `toml:"identity_limit,omitempty" yaml:"identity_limit,omitempty"`
	Regions       []Region `toml:"region" yaml:"regions"`
}

// Format is a layout file encoding.
type Format string

// Supported formats.
const (
	TOML Format = "toml"
	YAML Format = "yaml"
)

// FormatOf returns the format of a file from its extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return TOML, nil
	case ".yaml", ".yml":
		return YAML, nil
	default:
		return "", fmt.Errorf("unknown layout format for %q", path)
	}
}

// Load reads and validates the layout in path.
func Load(path string) (*Layout, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read layout: %w", err)
	}
	l, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Parse decodes and validates a layout. Unknown keys are errors.
func Parse(data []byte, format Format) (*Layout, error) {
	var l Layout
	switch format {
	case TOML:
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&l)
		if err != nil {
			return nil, fmt.Errorf("unable to decode layout: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown layout keys %v", undecoded)
		}
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&l); err != nil {
			return nil, fmt.Errorf("unable to decode layout: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown layout format %q", format)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Encode writes l in the given format.
func (l *Layout) Encode(format Format) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case TOML:
		if err := toml.NewEncoder(&buf).Encode(l); err != nil {
			return nil, err
		}
	case YAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(l); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown layout format %q", format)
	}
	return buf.Bytes(), nil
}

// ParsePageSizes parses a list of page sizes such as ["4K", "2M"]. "any"
// and the empty list mean every supported size.
func ParsePageSizes(sizes []string) (uintptr, error) {
	var mask uintptr
	for _, s := range sizes {
		if strings.EqualFold(s, "any") {
			mask |= pagetables.DefaultPageSizes
			continue
		}
		v, err := hostarch.ParseSize(s)
		if err != nil {
			return 0, err
		}
		if !bits.IsPowerOfTwo64(v) || uintptr(v)&pagetables.DefaultPageSizes == 0 {
			return 0, fmt.Errorf("unsupported page size %q", s)
		}
		mask |= uintptr(v)
	}
	if mask == 0 {
		mask = pagetables.DefaultPageSizes
	}
	return mask, nil
}

// ParseAccess parses r/w/x notation. The empty string is read-write.
func ParseAccess(s string) (hostarch.AccessType, error) {
	if s == "" {
		return hostarch.ReadWrite, nil
	}
	at, ok := hostarch.ParseAccessType(s)
	if !ok {
		return hostarch.NoAccess, fmt.Errorf("invalid access %q", s)
	}
	return at, nil
}

// BootConfig returns the boot parameters of l.
func (l *Layout) BootConfig() (vmem.BootConfig, error) {
	sizes, err := ParsePageSizes(l.PageSizes)
	if err != nil {
		return vmem.BootConfig{}, err
	}
	if sizes&pagetables.PageSize4K == 0 {
		return vmem.BootConfig{}, fmt.Errorf("page sizes %s do not include 4K", pagetables.PageSizeString(sizes))
	}
	return vmem.BootConfig{
		PageSizes:     sizes,
		ExecStart:     uintptr(l.Exec.Start),
		ExecEnd:       uintptr(l.Exec.End),
		IdentityLimit: uintptr(l.IdentityLimit),
	}, nil
}

// Mapping converts r to a mapping request.
func (r *Region) Mapping() (vmem.Mapping, error) {
	access, err := ParseAccess(r.Access)
	if err != nil {
		return vmem.Mapping{}, err
	}
	sizes, err := ParsePageSizes(r.PageSizes)
	if err != nil {
		return vmem.Mapping{}, err
	}
	mt, err := hostarch.ParseMemoryType(r.MemoryType)
	if err != nil {
		return vmem.Mapping{}, err
	}
	return vmem.Mapping{
		Lin:        uintptr(r.Lin),
		Phys:       uintptr(r.Phys),
		Size:       uintptr(r.Size),
		Access:     access,
		MemoryType: mt,
		PageSizes:  sizes,
	}, nil
}

// Validate checks that every value in l parses and that regions are
// non-empty, aligned, physically addressable and disjoint. Overlap with the identity map is
// permitted.
func (l *Layout) Validate() error {
	var errs []error
	if _, err := l.BootConfig(); err != nil {
		errs = append(errs, err)
	}
	if l.Exec.End != 0 && l.Exec.End <= l.Exec.Start {
		errs = append(errs, fmt.Errorf("exec range [%#x, %#x) is empty", uint64(l.Exec.Start), uint64(l.Exec.End)))
	}
	names := make(map[string]bool)
	for i := range l.Regions {
		r := &l.Regions[i]
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("region %d has no name", i))
		} else if names[r.Name] {
			errs = append(errs, fmt.Errorf("region %q defined twice", r.Name))
		}
		names[r.Name] = true

		m, err := r.Mapping()
		if err != nil {
			errs = append(errs, fmt.Errorf("region %q: %w", r.Name, err))
			continue
		}
		if m.Size == 0 {
			errs = append(errs, fmt.Errorf("region %q is empty", r.Name))
		}
		align := bits.LowestOne64(uint64(m.PageSizes))
		if !bits.IsAligned(uint64(m.Lin), align) || !bits.IsAligned(uint64(m.Phys), align) {
			errs = append(errs, fmt.Errorf("region %q is not aligned to %s", r.Name, hostarch.FormatSize(align)))
		}
		if !pagetables.PhysInRange(m.Phys, m.Size) {
			errs = append(errs, fmt.Errorf("region %q physical range exceeds %#x", r.Name, uint64(pagetables.MaxPhysAddress)))
		}
		for _, o := range l.Regions[:i] {
			if r.Lin < o.Lin+o.Size && o.Lin < r.Lin+r.Size {
				errs = append(errs, fmt.Errorf("region %q overlaps %q", r.Name, o.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// Build boots an address space as l describes and maps its regions in
// order.
func (l *Layout) Build(a pagetables.Allocator, opts ...vmem.Option) (*vmem.AddressSpace, error) {
	cfg, err := l.BootConfig()
	if err != nil {
		return nil, err
	}
	as, err := vmem.Bootstrap(a, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("layout %q: %w", l.Name, err)
	}
	for i := range l.Regions {
		r := &l.Regions[i]
		m, err := r.Mapping()
		if err != nil {
			as.Release()
			return nil, fmt.Errorf("region %q: %w", r.Name, err)
		}
		if _, err := as.Map(m, r.Name); err != nil {
			as.Release()
			return nil, fmt.Errorf("layout %q: %w", l.Name, err)
		}
	}
	return as, nil
}
