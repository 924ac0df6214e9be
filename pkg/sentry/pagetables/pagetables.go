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

// Package pagetables provides software page tables.
//
// A PageTables maps page-aligned user virtual addresses to leaf entries. It
// plays the part of the hardware walk: entries are created, queried and
// removed one page at a time, and removal may hand frames back to the frame
// allocator.
package pagetables

import (
	"fmt"

	"github.com/google/btree"

	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/errors/linuxerr"
	"github.com/hhh476-tian/xv6/pkg/hostarch"
	"github.com/hhh476-tian/xv6/pkg/sentry/pgalloc"
	"github.com/hhh476-tian/xv6/pkg/sync"
)

// degree is the btree degree. Address spaces hold few mappings, so a small
// node size keeps clones cheap.
const degree = 8

type entry struct {
	va  hostarch.Addr
	pte PTE
}

func lessEntry(a, b entry) bool {
	return a.va < b.va
}

// PageTables is a set of page tables.
type PageTables struct {
	// allocator receives frames released by Remove.
	allocator *pgalloc.Allocator

	mu sync.Mutex

	// +checklocks:mu
	entries *btree.BTreeG[entry]
}

// New returns empty PageTables that release frames to a.
func New(a *pgalloc.Allocator) *PageTables {
	return &PageTables{
		allocator: a,
		entries:   btree.NewG(degree, lessEntry),
	}
}

// Lookup returns the entry for the page containing va.
func (p *PageTables) Lookup(va hostarch.Addr) (PTE, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries.Get(entry{va: va.RoundDown()})
	return e.pte, ok
}

// Install maps the pages covering [va, va+length) to consecutive frames
// starting at frame. Valid is added to flags.
//
// Install returns EINVAL if va is not page-aligned, length is zero or the
// range extends past MaxUserAddress, and EEXIST if any page in the range
// already has a valid entry. Nothing is installed on failure.
func (p *PageTables) Install(va hostarch.Addr, length uint64, frame pgalloc.Frame, flags Flags) error {
	if !va.IsPageAligned() || length == 0 {
		return linuxerr.EINVAL
	}
	ar, ok := va.ToRange(hostarch.PageRoundUp(length))
	if !ok || ar.End > hostarch.MaxUserAddress {
		return linuxerr.EINVAL
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for addr := ar.Start; addr < ar.End; addr += hostarch.PageSize {
		if e, ok := p.entries.Get(entry{va: addr}); ok && e.pte.Valid() {
			return linuxerr.EEXIST
		}
	}
	for addr := ar.Start; addr < ar.End; addr += hostarch.PageSize {
		p.entries.ReplaceOrInsert(entry{
			va: addr,
			pte: PTE{
				Frame: frame + pgalloc.Frame(addr-ar.Start),
				Flags: flags | Valid,
			},
		})
	}
	return nil
}

// Remove deletes the entries for npages pages starting at va. If free is
// true, each page's frame is released to the allocator, which only frees the
// frame when no other reference remains.
//
// Preconditions: va is page-aligned. Every page in the range has a valid
// entry.
func (p *PageTables) Remove(ctx context.Context, va hostarch.Addr, npages int, free bool) {
	if !va.IsPageAligned() {
		panic(fmt.Sprintf("Remove: address %v not aligned", va))
	}
	p.mu.Lock()
	frames := make([]pgalloc.Frame, 0, npages)
	for i := 0; i < npages; i++ {
		addr := va + hostarch.Addr(i)*hostarch.PageSize
		e, ok := p.entries.Delete(entry{va: addr})
		if !ok || !e.pte.Valid() {
			p.mu.Unlock()
			panic(fmt.Sprintf("Remove: page %v not mapped", addr))
		}
		frames = append(frames, e.pte.Frame)
	}
	p.mu.Unlock()

	if !free {
		return
	}
	for _, f := range frames {
		p.allocator.Release(ctx, f)
	}
}

// Update replaces the entry for the page containing va.
//
// Preconditions: The page has an entry.
func (p *PageTables) Update(va hostarch.Addr, pte PTE) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := entry{va: va.RoundDown(), pte: pte}
	if !p.entries.Has(e) {
		panic(fmt.Sprintf("Update: page %v not mapped", e.va))
	}
	p.entries.ReplaceOrInsert(e)
}

// ForEach calls fn for every entry in ascending address order until fn
// returns false. fn runs on a snapshot and may modify p.
func (p *PageTables) ForEach(fn func(va hostarch.Addr, pte PTE) bool) {
	p.ForEachInRange(hostarch.AddrRange{Start: 0, End: hostarch.MaxUserAddress}, fn)
}

// ForEachInRange is like ForEach, limited to entries in ar.
func (p *PageTables) ForEachInRange(ar hostarch.AddrRange, fn func(va hostarch.Addr, pte PTE) bool) {
	p.mu.Lock()
	var snap []entry
	p.entries.AscendRange(entry{va: ar.Start}, entry{va: ar.End}, func(e entry) bool {
		snap = append(snap, e)
		return true
	})
	p.mu.Unlock()

	for _, e := range snap {
		if !fn(e.va, e.pte) {
			return
		}
	}
}

// Len returns the number of entries.
func (p *PageTables) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries.Len()
}
