// Copyright 2026 The gVisor Authors.
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

package mm

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/hhh476-tian/xv6/pkg/hostarch"
)

// pather is implemented by files that know their host path.
type pather interface {
	Path() string
}

// MapsData returns the contents of a /proc/[pid]/maps-style listing of mm:
// the heap, if any, followed by each VMA in address order.
func (mm *MemoryManager) MapsData() []byte {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	var b bytes.Buffer
	if heapEnd := hostarch.Addr(hostarch.PageRoundUp(mm.size)); heapEnd > 0 {
		writeMapsEntry(&b, hostarch.AddrRange{Start: 0, End: heapEnd}, hostarch.AnyAccess, "p", 0, "[heap]")
	}

	vmas := make([]*VMA, 0, NumVMAs)
	for i := range mm.vmas {
		if mm.vmas[i].present {
			vmas = append(vmas, &mm.vmas[i].vma)
		}
	}
	sort.Slice(vmas, func(i, j int) bool { return vmas[i].Start < vmas[j].Start })
	for _, v := range vmas {
		private := "p"
		if v.Shared() {
			private = "s"
		}
		var name string
		if p, ok := v.File.(pather); ok {
			name = p.Path()
		}
		writeMapsEntry(&b, v.Range(), v.Perms, private, v.Offset, name)
	}
	return b.Bytes()
}

// writeMapsEntry writes one maps line, including the trailing newline.
func writeMapsEntry(b *bytes.Buffer, ar hostarch.AddrRange, perms hostarch.AccessType, private string, off uint64, name string) {
	start := b.Len()
	fmt.Fprintf(b, "%08x-%08x %s%s %08x ", uint64(ar.Start), uint64(ar.End), perms, private, off)
	if name != "" {
		// Per linux, we pad until the 74th character.
		if pad := 73 - (b.Len() - start); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString(name)
	}
	b.WriteString("\n")
}
