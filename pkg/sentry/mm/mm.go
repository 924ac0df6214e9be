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

// Package mm provides a memory management subsystem.
//
// A MemoryManager owns one process's page table, its table of memory-mapped
// file regions (VMAs) and its break. File-backed pages are loaded on first
// fault, and pages shared after fork are duplicated on first write.
//
// Lock order:
//
//	MemoryManager.mu
//		pagetables.PageTables.mu
//			pgalloc shard locks
package mm

import (
	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/hostarch"
	"github.com/hhh476-tian/xv6/pkg/sentry/pagetables"
	"github.com/hhh476-tian/xv6/pkg/sentry/pgalloc"
	"github.com/hhh476-tian/xv6/pkg/sync"
)

// NumVMAs is the capacity of a process's VMA table.
const NumVMAs = 16

// PageTable is the page table consumed by a MemoryManager.
// *pagetables.PageTables implements PageTable.
type PageTable interface {
	// Lookup returns the entry for the page containing va.
	Lookup(va hostarch.Addr) (pagetables.PTE, bool)

	// Install maps the pages covering [va, va+length) to consecutive
	// frames starting at frame.
	Install(va hostarch.Addr, length uint64, frame pgalloc.Frame, flags pagetables.Flags) error

	// Remove deletes the entries for npages pages starting at va,
	// releasing their frames if free is true.
	Remove(ctx context.Context, va hostarch.Addr, npages int, free bool)

	// Update replaces the entry for the page containing va.
	Update(va hostarch.Addr, pte pagetables.PTE)

	// ForEachInRange calls fn for every entry in ar in ascending order.
	ForEachInRange(ar hostarch.AddrRange, fn func(va hostarch.Addr, pte pagetables.PTE) bool)

	// Len returns the number of entries.
	Len() int
}

var _ PageTable = (*pagetables.PageTables)(nil)

// MemoryManager implements a virtual address space.
type MemoryManager struct {
	// allocator provides physical frames. allocator is immutable.
	allocator *pgalloc.Allocator

	// mu serializes every operation on the address space, including fault
	// handling.
	mu sync.Mutex

	// pt translates user addresses. pt is immutable; its contents are
	// protected by mu.
	pt PageTable

	// vmas are the memory-mapped file regions.
	//
	// +checklocks:mu
	vmas [NumVMAs]vmaSlot

	// size is the process break: [0, size) is the process image and heap,
	// and mappings are placed at or above PageRoundUp(size).
	//
	// +checklocks:mu
	size uint64
}

// NewMemoryManager returns a new, empty MemoryManager whose frames come from
// a.
func NewMemoryManager(a *pgalloc.Allocator) *MemoryManager {
	return NewMemoryManagerWithPageTable(a, pagetables.New(a))
}

// NewMemoryManagerWithPageTable is like NewMemoryManager, using pt as the
// page table.
func NewMemoryManagerWithPageTable(a *pgalloc.Allocator, pt PageTable) *MemoryManager {
	return &MemoryManager{
		allocator: a,
		pt:        pt,
	}
}

// Size returns the process break.
func (mm *MemoryManager) Size() uint64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.size
}

// PageTable returns mm's page table.
func (mm *MemoryManager) PageTable() PageTable {
	return mm.pt
}

// Allocator returns the frame allocator backing mm.
func (mm *MemoryManager) Allocator() *pgalloc.Allocator {
	return mm.allocator
}

// Fork returns a copy-on-write copy of mm.
//
// Every mapped page below the break is shared with the child: writable pages
// lose write permission and are marked copy-on-write in both page tables, and
// each shared frame gains a reference. VMA records are copied and their files
// gain a reference, but VMA pages are not; the child faults them in from the
// file.
func (mm *MemoryManager) Fork(ctx context.Context) (*MemoryManager, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	child := NewMemoryManager(mm.allocator)
	var err error
	heap := hostarch.AddrRange{Start: 0, End: hostarch.Addr(hostarch.PageRoundUp(mm.size))}
	mm.pt.ForEachInRange(heap, func(va hostarch.Addr, pte pagetables.PTE) bool {
		if !pte.Valid() {
			return true
		}
		if pte.Flags.Has(pagetables.Writable) {
			pte.Flags = pte.Flags&^pagetables.Writable | pagetables.CopyOnWrite
			mm.pt.Update(va, pte)
		}
		if err = child.pt.Install(va, hostarch.PageSize, pte.Frame, pte.Flags); err != nil {
			return false
		}
		mm.allocator.IncRef(ctx, pte.Frame)
		return true
	})
	if err != nil {
		child.releaseLocked(ctx)
		return nil, err
	}

	for i := range mm.vmas {
		if !mm.vmas[i].present {
			continue
		}
		mm.vmas[i].vma.File.IncRef()
		child.vmas[i] = mm.vmas[i]
	}
	child.size = mm.size
	return child, nil
}
