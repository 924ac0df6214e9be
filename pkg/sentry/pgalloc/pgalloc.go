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

// Package pgalloc contains the physical frame allocator.
//
// Physical memory is a single host anonymous mapping (the arena) whose pages
// are addressed by their simulated physical address. Free frames are kept on
// per-CPU free lists; a CPU whose list is empty steals from the others.
// Every frame carries a reference count so that copy-on-write sharing can
// defer the real release until the last reference is dropped.
package pgalloc

import (
	"fmt"

	"github.com/hhh476-tian/xv6/pkg/atomicbitops"
	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/errors/linuxerr"
	"github.com/hhh476-tian/xv6/pkg/hostarch"
	"github.com/hhh476-tian/xv6/pkg/log"
	"github.com/hhh476-tian/xv6/pkg/memutil"
	"github.com/hhh476-tian/xv6/pkg/metric"
)

const (
	// KernBase is the physical address at which RAM starts.
	KernBase = 0x80000000

	// KernelEnd is the first physical address past the kernel image, and
	// the default start of managed memory.
	KernelEnd = KernBase + 2<<20

	// AllocFill is written to every byte of a freshly allocated frame.
	AllocFill = 0x05

	// FreeFill is written to every byte of a frame returned to a free list.
	FreeFill = 0x01
)

var (
	framesAllocated    = metric.MustCreateNewUint64Metric("/memory/frames_allocated", "Number of frames handed out by the frame allocator.")
	framesFreed        = metric.MustCreateNewUint64Metric("/memory/frames_freed", "Number of frames returned to a free list.")
	framesStolen       = metric.MustCreateNewUint64Metric("/memory/frames_stolen", "Number of frames taken from another CPU's free list.")
	allocationFailures = metric.MustCreateNewUint64Metric("/memory/allocation_failures", "Number of allocations that found every free list empty.")
)

// Frame is the physical address of one page of memory.
type Frame uint64

// Index returns the physical page number of f.
func (f Frame) Index() uint64 {
	return uint64(f) >> hostarch.PageShift
}

// String implements fmt.Stringer.String.
func (f Frame) String() string {
	return fmt.Sprintf("%#x", uint64(f))
}

// Options configures an Allocator.
type Options struct {
	// CPUs is the number of per-CPU free lists.
	CPUs int

	// Size is the number of bytes of managed memory. It is rounded down to
	// a page boundary.
	Size uint64

	// Base is the physical address of the first managed frame. If zero,
	// KernelEnd is used.
	Base Frame
}

// Allocator hands out physical frames.
//
// Allocator is safe for concurrent use. The calling CPU is taken from the
// context passed to each operation.
type Allocator struct {
	base  Frame
	end   Frame
	arena []byte

	// shards is indexed by CPU.
	shards []shard

	// refs is indexed by (f - base) / PageSize.
	refs []atomicbitops.Int64
}

// New maps the arena and places every managed frame on a free list. Frames are
// distributed round-robin so that every CPU starts with memory.
func New(opts Options) (*Allocator, error) {
	if opts.CPUs <= 0 {
		return nil, fmt.Errorf("invalid CPU count %d", opts.CPUs)
	}
	if opts.Base == 0 {
		opts.Base = KernelEnd
	}
	if !hostarch.IsPageAligned(uint64(opts.Base)) {
		return nil, fmt.Errorf("base %v is not page-aligned", opts.Base)
	}
	size := hostarch.PageRoundDown(opts.Size)
	if size == 0 {
		return nil, fmt.Errorf("memory size %d is smaller than a page", opts.Size)
	}
	arena, err := memutil.MapAnonymous(uintptr(size))
	if err != nil {
		return nil, fmt.Errorf("mapping %d bytes of physical memory: %w", size, err)
	}

	nframes := size / hostarch.PageSize
	a := &Allocator{
		base:   opts.Base,
		end:    opts.Base + Frame(size),
		arena:  arena,
		shards: make([]shard, opts.CPUs),
		refs:   make([]atomicbitops.Int64, nframes),
	}
	for i := range a.shards {
		a.shards[i].pool = &stackPool{frames: make([]Frame, 0, nframes/uint64(opts.CPUs)+1)}
	}
	a.freeRange()
	log.Infof("pgalloc: %d frames [%v, %v) across %d CPUs", nframes, a.base, a.end, opts.CPUs)
	return a, nil
}

// freeRange places every frame on a free list, CPU i receiving frames i,
// i+CPUs, i+2*CPUs and so on.
func (a *Allocator) freeRange() {
	n := len(a.shards)
	i := 0
	for f := a.base; f < a.end; f += hostarch.PageSize {
		a.fill(f, FreeFill)
		a.shards[i%n].push(f)
		i++
	}
}

// Destroy releases the arena. The Allocator must not be used afterwards.
func (a *Allocator) Destroy() {
	if err := memutil.UnmapSlice(a.arena); err != nil {
		panic(fmt.Sprintf("failed to unmap physical memory: %v", err))
	}
	a.arena = nil
}

// Base returns the first managed frame.
func (a *Allocator) Base() Frame {
	return a.base
}

// End returns one past the last managed frame.
func (a *Allocator) End() Frame {
	return a.end
}

// CPUs returns the number of per-CPU free lists.
func (a *Allocator) CPUs() int {
	return len(a.shards)
}

// cpu returns the index of the calling CPU. A context that carries no CPU
// runs on CPU 0.
func (a *Allocator) cpu(ctx context.Context) int {
	cpu, _ := CPUFromContext(ctx)
	if cpu < 0 || cpu >= len(a.shards) {
		panic(fmt.Sprintf("CPU %d out of range [0, %d)", cpu, len(a.shards)))
	}
	return cpu
}

// checkFrame panics if f is not a managed, page-aligned frame.
func (a *Allocator) checkFrame(op string, f Frame) {
	if !hostarch.IsPageAligned(uint64(f)) || f < a.base || f >= a.end {
		panic(fmt.Sprintf("%s: bad frame %v, managed range [%v, %v)", op, f, a.base, a.end))
	}
}

func (a *Allocator) index(f Frame) uint64 {
	return uint64(f-a.base) / hostarch.PageSize
}

// Bytes returns the page of physical memory backing f.
func (a *Allocator) Bytes(f Frame) []byte {
	a.checkFrame("Bytes", f)
	off := uint64(f - a.base)
	return a.arena[off : off+hostarch.PageSize : off+hostarch.PageSize]
}

func (a *Allocator) fill(f Frame, b byte) {
	off := uint64(f - a.base)
	page := a.arena[off : off+hostarch.PageSize]
	for i := range page {
		page[i] = b
	}
}

// Allocate returns a frame with a reference count of one, filled with
// AllocFill. The calling CPU's free list is tried first; if it is empty, the
// other CPUs' lists are tried in order, holding one list's lock at a time.
//
// Allocate returns ENOMEM if every free list is empty.
func (a *Allocator) Allocate(ctx context.Context) (Frame, error) {
	cpu := a.cpu(ctx)
	f, ok := a.shards[cpu].pop()
	if !ok {
		f, ok = a.steal(cpu)
	}
	if !ok {
		allocationFailures.Increment()
		return 0, linuxerr.ENOMEM
	}
	a.refs[a.index(f)].Store(1)
	a.fill(f, AllocFill)
	framesAllocated.Increment()
	return f, nil
}

// steal takes a frame from the first non-empty free list other than cpu's.
func (a *Allocator) steal(cpu int) (Frame, bool) {
	for i := range a.shards {
		if i == cpu {
			continue
		}
		if f, ok := a.shards[i].pop(); ok {
			framesStolen.Increment()
			return f, true
		}
	}
	return 0, false
}

// Release drops a reference to f. If other references remain, only the count
// changes. Otherwise f is filled with FreeFill and placed on the calling
// CPU's free list.
//
// Release panics if f is not page-aligned or outside the managed range.
func (a *Allocator) Release(ctx context.Context, f Frame) {
	a.checkFrame("Release", f)
	ref := &a.refs[a.index(f)]
	for {
		v := ref.Load()
		if v > 1 {
			if ref.CompareAndSwap(v, v-1) {
				return
			}
			continue
		}
		if ref.CompareAndSwap(v, 0) {
			break
		}
	}
	a.fill(f, FreeFill)
	a.shards[a.cpu(ctx)].push(f)
	framesFreed.Increment()
}

// IncRef adds a reference to f without touching any free list.
func (a *Allocator) IncRef(ctx context.Context, f Frame) {
	a.checkFrame("IncRef", f)
	a.refs[a.index(f)].Add(1)
}

// DecRef drops a reference to f without touching any free list. Callers that
// may drop the last reference must use Release instead.
func (a *Allocator) DecRef(ctx context.Context, f Frame) {
	a.checkFrame("DecRef", f)
	if v := a.refs[a.index(f)].Add(-1); v < 0 {
		panic(fmt.Sprintf("DecRef: frame %v reference count went negative", f))
	}
}

// RefCount returns the number of references to f.
func (a *Allocator) RefCount(f Frame) int64 {
	a.checkFrame("RefCount", f)
	return a.refs[a.index(f)].Load()
}

// FreeBytes returns the free memory on the calling CPU's list. Frames on
// other CPUs' lists are not counted.
func (a *Allocator) FreeBytes(ctx context.Context) uint64 {
	return uint64(a.shards[a.cpu(ctx)].len()) * hostarch.PageSize
}

// TotalFreeBytes returns the free memory on all lists. Lists are sampled one
// at a time, so the result is approximate under concurrent use.
func (a *Allocator) TotalFreeBytes() uint64 {
	var n uint64
	for i := range a.shards {
		n += uint64(a.shards[i].len())
	}
	return n * hostarch.PageSize
}
