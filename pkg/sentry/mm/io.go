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
	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/errors/linuxerr"
	"github.com/hhh476-tian/xv6/pkg/hostarch"
	"github.com/hhh476-tian/xv6/pkg/sentry/pagetables"
)

// maxPageAccessPages is the largest range PageAccess reports on; the result
// is a bitmask with one bit per page.
const maxPageAccessPages = 64

// CheckIORange is similar to hostarch.Addr.ToRange, but also requires the
// range to end at or below MaxUserAddress.
func (mm *MemoryManager) CheckIORange(addr hostarch.Addr, length uint64) (hostarch.AddrRange, bool) {
	ar, ok := addr.ToRange(length)
	return ar, ok && ar.End <= hostarch.MaxUserAddress
}

// CopyOut copies src to user memory at addr, as if by user stores. Faults are
// handled as they would be for the process: copy-on-write pages are broken
// and VMA pages are loaded. Touched pages are marked accessed and dirty.
func (mm *MemoryManager) CopyOut(ctx context.Context, addr hostarch.Addr, src []byte) (int, error) {
	ar, ok := mm.CheckIORange(addr, uint64(len(src)))
	if !ok {
		return 0, linuxerr.EFAULT
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.withPagesLocked(ctx, ar, hostarch.Write, func(page []byte, done int) int {
		return copy(page, src[done:])
	})
}

// CopyIn copies user memory at addr into dst, as if by user loads. Touched
// pages are marked accessed.
func (mm *MemoryManager) CopyIn(ctx context.Context, addr hostarch.Addr, dst []byte) (int, error) {
	ar, ok := mm.CheckIORange(addr, uint64(len(dst)))
	if !ok {
		return 0, linuxerr.EFAULT
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.withPagesLocked(ctx, ar, hostarch.Read, func(page []byte, done int) int {
		return copy(dst[done:], page)
	})
}

// withPagesLocked calls fn with the physical memory backing each page of ar
// in order, after resolving any fault an access of type at would take. page
// starts at the first byte of ar in that page; done is the number of bytes
// already handled. fn returns the number of bytes it handled.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) withPagesLocked(ctx context.Context, ar hostarch.AddrRange, at hostarch.AccessType, fn func(page []byte, done int) int) (int, error) {
	done := 0
	for addr := ar.Start; addr < ar.End; {
		va := addr.RoundDown()
		pte, ok := mm.pt.Lookup(va)
		if !ok || !pte.Flags.Permits(at) || (at.Write && pte.Flags.Has(pagetables.CopyOnWrite)) {
			if err := mm.handleFaultLocked(ctx, va, at); err != nil {
				return done, err
			}
			if pte, ok = mm.pt.Lookup(va); !ok || !pte.Flags.Permits(at) {
				return done, linuxerr.EFAULT
			}
		}

		pte.Flags |= pagetables.Accessed
		if at.Write {
			pte.Flags |= pagetables.Dirty
		}
		mm.pt.Update(va, pte)

		page := mm.allocator.Bytes(pte.Frame)[addr.PageOffset():]
		if rem := uint64(ar.End - addr); rem < uint64(len(page)) {
			page = page[:rem]
		}
		n := fn(page, done)
		done += n
		addr += hostarch.Addr(n)
	}
	return done, nil
}

// PageAccess reports which of the npages pages starting at addr have been
// accessed since the last call, as a bitmask with bit i set for page i, and
// clears their accessed bits. Unmapped pages report 0.
func (mm *MemoryManager) PageAccess(ctx context.Context, addr hostarch.Addr, npages int) (uint64, error) {
	if npages < 0 || npages > maxPageAccessPages {
		return 0, linuxerr.EINVAL
	}
	ar, ok := mm.CheckIORange(addr.RoundDown(), uint64(npages)*hostarch.PageSize)
	if !ok {
		return 0, linuxerr.EFAULT
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	var mask uint64
	mm.pt.ForEachInRange(ar, func(va hostarch.Addr, pte pagetables.PTE) bool {
		if !pte.Valid() || !pte.Flags.Has(pagetables.Accessed) {
			return true
		}
		mask |= 1 << (uint64(va-ar.Start) / hostarch.PageSize)
		pte.Flags &^= pagetables.Accessed
		mm.pt.Update(va, pte)
		return true
	})
	return mask, nil
}
