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
	"fmt"

	"github.com/hhh476-tian/xv6/pkg/hostarch"
	"github.com/hhh476-tian/xv6/pkg/sentry/memmap"
)

// MapFlags are mmap(2) flags.
type MapFlags int

const (
	// MapShared makes stores visible to the file: dirty pages are written
	// back when unmapped.
	MapShared MapFlags = 0x01

	// MapPrivate keeps stores private to the process.
	MapPrivate MapFlags = 0x02
)

// String implements fmt.Stringer.String.
func (f MapFlags) String() string {
	switch f {
	case MapShared:
		return "shared"
	case MapPrivate:
		return "private"
	default:
		return fmt.Sprintf("MapFlags(%#x)", int(f))
	}
}

// VMA describes one memory-mapped file region.
type VMA struct {
	// Start is the page-aligned address of the first mapped page.
	Start hostarch.Addr

	// Length is the length of the region in bytes, a multiple of the page
	// size.
	Length uint64

	// Perms are the permissions pages of the region are mapped with.
	Perms hostarch.AccessType

	// File backs the region. The VMA holds a reference on File.
	File memmap.File

	// Offset is the file offset that Start maps.
	Offset uint64

	// Flags are the mapping flags.
	Flags MapFlags
}

// Range returns the addresses covered by v.
func (v *VMA) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: v.Start, End: v.Start + hostarch.Addr(v.Length)}
}

// Shared returns true if stores to v are written back to the file.
func (v *VMA) Shared() bool {
	return v.Flags&MapShared != 0
}

// fileOffset returns the file offset mapped by the page at va.
//
// Preconditions: v.Range().Contains(va).
func (v *VMA) fileOffset(va hostarch.Addr) int64 {
	return int64(uint64(va-v.Start) + v.Offset)
}

// vmaSlot is one entry of the VMA table.
type vmaSlot struct {
	present bool
	vma     VMA
}

// findVMALocked returns the VMA containing addr and its slot index.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) findVMALocked(addr hostarch.Addr) (*VMA, int, bool) {
	for i := range mm.vmas {
		s := &mm.vmas[i]
		if s.present && s.vma.Range().Contains(addr) {
			return &s.vma, i, true
		}
	}
	return nil, -1, false
}

// FindVMA returns a copy of the VMA containing addr and its slot index.
func (mm *MemoryManager) FindVMA(addr hostarch.Addr) (VMA, int, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	v, i, ok := mm.findVMALocked(addr)
	if !ok {
		return VMA{}, -1, false
	}
	return *v, i, true
}

// VMAs returns a copy of every live VMA in slot order.
func (mm *MemoryManager) VMAs() []VMA {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var vmas []VMA
	for i := range mm.vmas {
		if mm.vmas[i].present {
			vmas = append(vmas, mm.vmas[i].vma)
		}
	}
	return vmas
}
