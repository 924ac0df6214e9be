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
	"github.com/hhh476-tian/xv6/pkg/metric"
	"github.com/hhh476-tian/xv6/pkg/sentry/pagetables"
)

// FaultCause is the trap cause of a page fault.
type FaultCause uint64

// RISC-V scause values for page faults.
const (
	InstructionPageFault FaultCause = 12
	LoadPageFault        FaultCause = 13
	StorePageFault       FaultCause = 15
)

// String implements fmt.Stringer.String.
func (c FaultCause) String() string {
	switch c {
	case InstructionPageFault:
		return "instruction page fault"
	case LoadPageFault:
		return "load page fault"
	case StorePageFault:
		return "store page fault"
	default:
		return fmt.Sprintf("FaultCause(%d)", uint64(c))
	}
}

// IsPageFault returns true if c is one of the page fault causes.
func (c FaultCause) IsPageFault() bool {
	return c == InstructionPageFault || c == LoadPageFault || c == StorePageFault
}

// AccessType returns the access that raised a fault with cause c.
func (c FaultCause) AccessType() hostarch.AccessType {
	switch c {
	case InstructionPageFault:
		return hostarch.Execute
	case StorePageFault:
		return hostarch.Write
	default:
		return hostarch.Read
	}
}

// Fault kinds reported by the faults metric.
const (
	faultCOW        = "cow"
	faultDemand     = "demand"
	faultSpurious   = "spurious"
	faultUnresolved = "unresolved"
)

var faults = metric.MustCreateNewUint64Metric("/memory/faults", "Number of user page faults, by resolution.",
	metric.NewField("kind", faultCOW, faultDemand, faultSpurious, faultUnresolved))

// HandleFault resolves a user page fault at addr. If it returns nil, the
// faulting access may be retried.
//
// A fault on a copy-on-write page gives the process a private, writable copy
// of the page. A fault on an unmapped page inside a VMA loads the page from
// the VMA's file. A fault on a valid page that already permits the access is
// ignored. Any other fault returns an error and the process should be
// killed.
func (mm *MemoryManager) HandleFault(ctx context.Context, addr hostarch.Addr, cause FaultCause) error {
	if addr >= hostarch.MaxUserAddress {
		faults.Increment(faultUnresolved)
		return linuxerr.EFAULT
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.handleFaultLocked(ctx, addr.RoundDown(), cause.AccessType())
}

// handleFaultLocked implements HandleFault.
//
// Preconditions: mm.mu must be locked. va is page-aligned and below
// MaxUserAddress.
func (mm *MemoryManager) handleFaultLocked(ctx context.Context, va hostarch.Addr, at hostarch.AccessType) error {
	pte, ok := mm.pt.Lookup(va)
	switch {
	case !ok || !pte.Valid():
		if err := mm.loadPageLocked(ctx, va, at); err != nil {
			faults.Increment(faultUnresolved)
			return err
		}
		faults.Increment(faultDemand)
	case pte.Flags.Has(pagetables.CopyOnWrite):
		if err := mm.breakCOWLocked(ctx, va, pte); err != nil {
			faults.Increment(faultUnresolved)
			return err
		}
		faults.Increment(faultCOW)
	case pte.Flags.Permits(at):
		faults.Increment(faultSpurious)
	default:
		faults.Increment(faultUnresolved)
		return linuxerr.EFAULT
	}
	return nil
}

// breakCOWLocked replaces the shared frame mapped at va with a private,
// writable copy. The shared frame loses one reference.
//
// Preconditions: mm.mu must be locked. pte is the valid copy-on-write entry
// for va.
func (mm *MemoryManager) breakCOWLocked(ctx context.Context, va hostarch.Addr, pte pagetables.PTE) error {
	f, err := mm.allocator.Allocate(ctx)
	if err != nil {
		ctx.Debugf("cow: no memory for %v", va)
		return err
	}
	copy(mm.allocator.Bytes(f), mm.allocator.Bytes(pte.Frame))
	flags := pte.Flags&^pagetables.CopyOnWrite | pagetables.Writable
	mm.pt.Remove(ctx, va, 1, true)
	if err := mm.pt.Install(va, hostarch.PageSize, f, flags); err != nil {
		panic(fmt.Sprintf("cow: installing copy of %v: %v", va, err))
	}
	return nil
}

// loadPageLocked maps a new frame at va and fills it from the VMA containing
// va: up to one page is read from the file, and whatever the read does not
// cover is zeroed.
//
// Preconditions: mm.mu must be locked. va is page-aligned and has no valid
// entry.
func (mm *MemoryManager) loadPageLocked(ctx context.Context, va hostarch.Addr, at hostarch.AccessType) error {
	v, _, ok := mm.findVMALocked(va)
	if !ok {
		return linuxerr.EFAULT
	}
	if !v.Perms.SupersetOf(at) {
		ctx.Debugf("fault: %v access to %v in %v VMA", at, va, v.Perms)
		return linuxerr.EFAULT
	}
	f, err := mm.allocator.Allocate(ctx)
	if err != nil {
		return err
	}
	flags := pagetables.User | pagetables.FlagsFromAccess(v.Perms)
	if err := mm.pt.Install(va, hostarch.PageSize, f, flags); err != nil {
		panic(fmt.Sprintf("fault: installing %v: %v", va, err))
	}

	page := mm.allocator.Bytes(f)
	n, err := v.File.ReadAt(ctx, page, v.fileOffset(va))
	if err != nil {
		ctx.Warningf("fault: reading page %v at offset %#x: %v", va, v.fileOffset(va), err)
		mm.pt.Remove(ctx, va, 1, true)
		return linuxerr.EIO
	}
	clear(page[n:])
	return nil
}
