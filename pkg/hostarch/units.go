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

package hostarch

import (
	"fmt"
	"strconv"
	"strings"
)

// Binary size units.
const (
	KiB = 1 << 10
	MiB = 1 << 20
	GiB = 1 << 30
	TiB = 1 << 40
)

var units = []struct {
	size   uint64
	suffix string
}{
	{TiB, "TiB"},
	{GiB, "GiB"},
	{MiB, "MiB"},
	{KiB, "KiB"},
}

// FormatSize renders n with the largest binary unit that divides it, e.g.
// "4 KiB", "2 MiB" or "1023 MiB". Sizes that are not a multiple of 1 KiB are
// printed in bytes.
func FormatSize(n uint64) string {
	if n == 0 {
		return "0 B"
	}
	for _, u := range units {
		if n%u.size == 0 {
			return fmt.Sprintf("%d %s", n/u.size, u.suffix)
		}
	}
	return fmt.Sprintf("%d B", n)
}

// ParseSize parses sizes and addresses written as hexadecimal ("0x1000"),
// decimal ("4096") or with a binary unit suffix ("4K", "4KiB", "2M", "1G",
// "1TiB"). Suffixes are case insensitive.
func ParseSize(s string) (uint64, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return 0, fmt.Errorf("empty size")
	}
	if strings.HasPrefix(t, "0x") || strings.HasPrefix(t, "0X") {
		v, err := strconv.ParseUint(t[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %w", s, err)
		}
		return v, nil
	}
	mult := uint64(1)
	lower := strings.ToLower(t)
	lower = strings.TrimSuffix(lower, "ib")
	lower = strings.TrimSuffix(lower, "b")
	switch {
	case strings.HasSuffix(lower, "k"):
		mult = KiB
	case strings.HasSuffix(lower, "m"):
		mult = MiB
	case strings.HasSuffix(lower, "g"):
		mult = GiB
	case strings.HasSuffix(lower, "t"):
		mult = TiB
	}
	if mult != 1 {
		lower = lower[:len(lower)-1]
	}
	v, err := strconv.ParseUint(strings.TrimSpace(lower), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if v != 0 && v*mult/mult != v {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return v * mult, nil
}
