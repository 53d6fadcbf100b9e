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

package pagetables

import "fmt"

// Summary counts present pages and directory entries by size.
//
// DirsN counts directory entries in tables whose entries are N wide.
type Summary struct {
	Pages4K  int `json:"pages_4k"`
	Pages2M  int `json:"pages_2m"`
	Pages1G  int `json:"pages_1g"`
	Dirs2M   int `json:"dirs_2m"`
	Dirs1G   int `json:"dirs_1g"`
	Dirs512G int `json:"dirs_512g"`
}

func (s *Summary) addPage(psz uintptr) {
	switch psz {
	case PageSize4K:
		s.Pages4K++
	case PageSize2M:
		s.Pages2M++
	case PageSize1G:
		s.Pages1G++
	default:
		panic(fmt.Sprintf("no page size %#x", psz))
	}
}

func (s *Summary) addDir(psz uintptr) {
	switch psz {
	case PageSize2M:
		s.Dirs2M++
	case PageSize1G:
		s.Dirs1G++
	case PageSize512G:
		s.Dirs512G++
	default:
		panic(fmt.Sprintf("no directory size %#x", psz))
	}
}

// Add accumulates o into s.
func (s *Summary) Add(o Summary) {
	s.Pages4K += o.Pages4K
	s.Pages2M += o.Pages2M
	s.Pages1G += o.Pages1G
	s.Dirs2M += o.Dirs2M
	s.Dirs1G += o.Dirs1G
	s.Dirs512G += o.Dirs512G
}

// Pages returns the total number of pages.
func (s Summary) Pages() int {
	return s.Pages4K + s.Pages2M + s.Pages1G
}

// MappedBytes returns the number of bytes covered by pages.
func (s Summary) MappedBytes() uint64 {
	return uint64(s.Pages4K)*PageSize4K + uint64(s.Pages2M)*PageSize2M + uint64(s.Pages1G)*PageSize1G
}

// String implements fmt.Stringer.
func (s Summary) String() string {
	return fmt.Sprintf("4K pages: %d, 2M pages: %d, 1G pages: %d, 2M dirs: %d, 1G dirs: %d, 512G dirs: %d",
		s.Pages4K, s.Pages2M, s.Pages1G, s.Dirs2M, s.Dirs1G, s.Dirs512G)
}
