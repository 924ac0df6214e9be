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

	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/errors/linuxerr"
	"github.com/hhh476-tian/xv6/pkg/hostarch"
	"github.com/hhh476-tian/xv6/pkg/sentry/memmap"
	"github.com/hhh476-tian/xv6/pkg/sentry/pagetables"
)

// mmapLimit is the highest address a mapping may extend to. The pages above
// it hold the trampoline and trapframe.
const mmapLimit = hostarch.MaxUserAddress - hostarch.GuardSize

// MMapOpts specifies a request to create a memory mapping.
type MMapOpts struct {
	// File is the file to map.
	File memmap.File

	// Offset is the file offset of the first mapped byte. It must be
	// page-aligned.
	Offset uint64

	// Length is the length of the mapping in bytes. It is rounded up to a
	// page boundary.
	Length uint64

	// Perms is the set of permissions mapped pages are given.
	Perms hostarch.AccessType

	// Flags must contain exactly one of MapShared and MapPrivate.
	Flags MapFlags
}

// FindRegion returns the lowest page-aligned address at or above the break
// from which length bytes are covered by neither a VMA nor a valid page table
// entry. It returns ENOMEM if no such region exists below the guard pages.
func (mm *MemoryManager) FindRegion(length uint64) (hostarch.Addr, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.findRegionLocked(length)
}

// findRegionLocked implements FindRegion.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) findRegionLocked(length uint64) (hostarch.Addr, error) {
	if length == 0 || length > uint64(mmapLimit) {
		return 0, linuxerr.ENOMEM
	}
	size := hostarch.Addr(hostarch.PageRoundUp(length))
	start := hostarch.Addr(hostarch.PageRoundUp(mm.size))

	for start <= mmapLimit-size {
		next, ok := mm.firstTakenLocked(hostarch.AddrRange{Start: start, End: start + size})
		if !ok {
			return start, nil
		}
		start = next
	}
	return 0, linuxerr.ENOMEM
}

// firstTakenLocked checks ar page by page for a page covered by a VMA or a
// valid page table entry. If one is found, it returns the first address past
// it that may start a free region.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) firstTakenLocked(ar hostarch.AddrRange) (hostarch.Addr, bool) {
	for a := ar.Start; a < ar.End; a += hostarch.PageSize {
		if v, _, ok := mm.findVMALocked(a); ok {
			// Every page of v is taken.
			return v.Range().End, true
		}
		if pte, ok := mm.pt.Lookup(a); ok && pte.Valid() {
			return a + hostarch.PageSize, true
		}
	}
	return 0, false
}

// MMap establishes a memory mapping of opts.File. Pages are not populated;
// they are loaded from the file on first fault.
func (mm *MemoryManager) MMap(ctx context.Context, opts MMapOpts) (hostarch.Addr, error) {
	if opts.File == nil {
		return 0, linuxerr.EBADF
	}
	if !opts.File.Regular() {
		return 0, linuxerr.ENODEV
	}
	if !opts.File.Readable() {
		return 0, linuxerr.EACCES
	}
	shared := opts.Flags&MapShared != 0
	if shared && opts.Perms.Write && !opts.File.Writable() {
		return 0, linuxerr.EACCES
	}
	if opts.Length == 0 || !hostarch.IsPageAligned(opts.Offset) {
		return 0, linuxerr.EINVAL
	}
	if opts.Flags != MapShared && opts.Flags != MapPrivate {
		return 0, linuxerr.EINVAL
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	slot := -1
	for i := range mm.vmas {
		if !mm.vmas[i].present {
			slot = i
			break
		}
	}
	if slot < 0 {
		ctx.Debugf("mmap: VMA table full")
		return 0, linuxerr.ENOMEM
	}
	addr, err := mm.findRegionLocked(opts.Length)
	if err != nil {
		return 0, err
	}

	opts.File.IncRef()
	mm.vmas[slot] = vmaSlot{
		present: true,
		vma: VMA{
			Start:  addr,
			Length: hostarch.PageRoundUp(opts.Length),
			Perms:  opts.Perms,
			File:   opts.File,
			Offset: opts.Offset,
			Flags:  opts.Flags,
		},
	}
	ctx.Debugf("mmap: slot %d %v %v %v offset %#x", slot, mm.vmas[slot].vma.Range(), opts.Perms, opts.Flags, opts.Offset)
	return addr, nil
}

// MUnmap implements the semantics of munmap(2) for a prefix of one VMA.
//
// addr must be the start of a VMA and length a non-zero multiple of the page
// size no larger than the VMA. Unmapping from the middle or end of a VMA, or
// across VMAs, is rejected with EINVAL. Dirty pages of a shared mapping are
// written back first.
func (mm *MemoryManager) MUnmap(ctx context.Context, addr hostarch.Addr, length uint64) error {
	if length == 0 || !hostarch.IsPageAligned(length) {
		return linuxerr.EINVAL
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	v, slot, ok := mm.findVMALocked(addr)
	if !ok {
		ctx.Debugf("munmap: %v is in no VMA", addr)
		return linuxerr.EINVAL
	}
	if addr != v.Start || length > v.Length {
		ctx.Debugf("munmap: [%v, +%#x) is not a prefix of %v", addr, length, v.Range())
		return linuxerr.EINVAL
	}
	ar := hostarch.AddrRange{Start: addr, End: addr + hostarch.Addr(length)}

	if v.Shared() {
		mm.writeBackLocked(ctx, v, ar)
	}
	mm.removeValidLocked(ctx, ar)

	if length == v.Length {
		v.File.DecRef(ctx)
		mm.vmas[slot] = vmaSlot{}
		return nil
	}
	v.Start += hostarch.Addr(length)
	v.Offset += length
	v.Length -= length
	return nil
}

// writeBackLocked writes the dirty pages of v in ar to v's file.
//
// Preconditions: mm.mu must be locked. v.Range().IsSupersetOf(ar).
func (mm *MemoryManager) writeBackLocked(ctx context.Context, v *VMA, ar hostarch.AddrRange) {
	if !v.File.Writable() {
		return
	}
	mm.pt.ForEachInRange(ar, func(va hostarch.Addr, pte pagetables.PTE) bool {
		if !pte.Valid() || !pte.Flags.Has(pagetables.Dirty) {
			return true
		}
		if _, err := v.File.WriteBack(ctx, mm.allocator.Bytes(pte.Frame), v.fileOffset(va)); err != nil {
			ctx.Warningf("munmap: writing back page %v at offset %#x: %v", va, v.fileOffset(va), err)
		}
		return true
	})
}

// removeValidLocked removes every valid page in ar, releasing its frame.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) removeValidLocked(ctx context.Context, ar hostarch.AddrRange) {
	mm.pt.ForEachInRange(ar, func(va hostarch.Addr, pte pagetables.PTE) bool {
		if pte.Valid() {
			mm.pt.Remove(ctx, va, 1, true)
		}
		return true
	})
}

// Teardown removes every loaded page of every VMA. Records and file
// references are kept and nothing is written back.
func (mm *MemoryManager) Teardown(ctx context.Context) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.teardownLocked(ctx)
}

// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) teardownLocked(ctx context.Context) {
	for i := range mm.vmas {
		if mm.vmas[i].present {
			mm.removeValidLocked(ctx, mm.vmas[i].vma.Range())
		}
	}
}

// Release tears down the address space on process exit: VMA pages are
// removed, file references dropped, and every other page freed.
func (mm *MemoryManager) Release(ctx context.Context) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.releaseLocked(ctx)
}

// Preconditions: mm.mu must be locked, or mm is not yet shared.
func (mm *MemoryManager) releaseLocked(ctx context.Context) {
	mm.teardownLocked(ctx)
	for i := range mm.vmas {
		if mm.vmas[i].present {
			mm.vmas[i].vma.File.DecRef(ctx)
			mm.vmas[i] = vmaSlot{}
		}
	}
	mm.removeValidLocked(ctx, hostarch.AddrRange{Start: 0, End: hostarch.MaxUserAddress})
	mm.size = 0
}

// Grow moves the break by n bytes and returns the previous break, as sbrk(2).
//
// Growing allocates zeroed pages mapped readable, writable and executable.
// Shrinking frees the pages above the new break.
func (mm *MemoryManager) Grow(ctx context.Context, n int64) (hostarch.Addr, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	old := mm.size
	switch {
	case n > 0:
		newSize := old + uint64(n)
		if newSize < old || newSize > uint64(mmapLimit) {
			return 0, linuxerr.ENOMEM
		}
		if err := mm.allocHeapLocked(ctx, old, newSize); err != nil {
			return 0, err
		}
		mm.size = newSize
	case n < 0:
		if uint64(-n) > old {
			return 0, linuxerr.EINVAL
		}
		newSize := old - uint64(-n)
		mm.removeValidLocked(ctx, hostarch.AddrRange{
			Start: hostarch.Addr(hostarch.PageRoundUp(newSize)),
			End:   hostarch.Addr(hostarch.PageRoundUp(old)),
		})
		mm.size = newSize
	}
	return hostarch.Addr(old), nil
}

// allocHeapLocked maps zeroed pages covering [oldSize, newSize). On failure
// the pages it mapped are freed.
//
// Preconditions: mm.mu must be locked. oldSize <= newSize.
func (mm *MemoryManager) allocHeapLocked(ctx context.Context, oldSize, newSize uint64) error {
	ar := hostarch.AddrRange{
		Start: hostarch.Addr(hostarch.PageRoundUp(oldSize)),
		End:   hostarch.Addr(hostarch.PageRoundUp(newSize)),
	}
	for i := range mm.vmas {
		if mm.vmas[i].present && mm.vmas[i].vma.Range().Overlaps(ar) {
			return linuxerr.ENOMEM
		}
	}
	flags := pagetables.User | pagetables.FlagsFromAccess(hostarch.AnyAccess)
	for va := ar.Start; va < ar.End; va += hostarch.PageSize {
		f, err := mm.allocator.Allocate(ctx)
		if err != nil {
			mm.removeValidLocked(ctx, hostarch.AddrRange{Start: ar.Start, End: va})
			return err
		}
		clear(mm.allocator.Bytes(f))
		if err := mm.pt.Install(va, hostarch.PageSize, f, flags); err != nil {
			panic(fmt.Sprintf("sbrk: installing heap page %v: %v", va, err))
		}
	}
	return nil
}
