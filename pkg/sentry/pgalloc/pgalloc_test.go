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

package pgalloc

import (
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/context/contexttest"
	"github.com/hhh476-tian/xv6/pkg/errors/linuxerr"
	"github.com/hhh476-tian/xv6/pkg/hostarch"
)

const page = hostarch.PageSize

func newTestAllocator(t *testing.T, cpus int, pages uint64) *Allocator {
	t.Helper()
	a, err := New(Options{CPUs: cpus, Size: pages * page})
	if err != nil {
		t.Fatalf("New got err %v want nil", err)
	}
	t.Cleanup(a.Destroy)
	return a
}

func cpuContext(t *testing.T, cpu int) context.Context {
	return WithCPU(contexttest.Context(t), cpu)
}

func allFilled(b []byte, v byte) bool {
	for _, c := range b {
		if c != v {
			return false
		}
	}
	return true
}

func TestNewOptions(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts Options
	}{
		{name: "no CPUs", opts: Options{CPUs: 0, Size: page}},
		{name: "too small", opts: Options{CPUs: 1, Size: page - 1}},
		{name: "unaligned base", opts: Options{CPUs: 1, Size: page, Base: KernelEnd + 1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if a, err := New(tc.opts); err == nil {
				a.Destroy()
				t.Errorf("New(%+v) got err nil want failure", tc.opts)
			}
		})
	}
}

func TestInitialDistribution(t *testing.T) {
	a := newTestAllocator(t, 3, 7)
	want := []uint64{3 * page, 2 * page, 2 * page}
	for cpu, w := range want {
		if got := a.FreeBytes(cpuContext(t, cpu)); got != w {
			t.Errorf("FreeBytes(cpu %d) got %d want %d", cpu, got, w)
		}
	}
	if got := a.TotalFreeBytes(); got != 7*page {
		t.Errorf("TotalFreeBytes got %d want %d", got, 7*page)
	}
	if a.Base() != KernelEnd || a.End() != KernelEnd+7*page {
		t.Errorf("managed range got [%v, %v) want [%v, %v)", a.Base(), a.End(), Frame(KernelEnd), Frame(KernelEnd+7*page))
	}
}

func TestAllocateRefAndFill(t *testing.T) {
	ctx := cpuContext(t, 0)
	a := newTestAllocator(t, 1, 4)
	f, err := a.Allocate(ctx)
	if err != nil {
		t.Fatalf("Allocate got err %v want nil", err)
	}
	if got := a.RefCount(f); got != 1 {
		t.Errorf("RefCount got %d want 1", got)
	}
	if !allFilled(a.Bytes(f), AllocFill) {
		t.Errorf("allocated frame %v not filled with %#x", f, AllocFill)
	}
	if got, want := f.Index(), uint64(f)/page; got != want {
		t.Errorf("Index got %d want %d", got, want)
	}
}

// Allocate, share, then release both references.
func TestRefcountLifecycle(t *testing.T) {
	ctx := cpuContext(t, 0)
	a := newTestAllocator(t, 1, 4)
	before := a.FreeBytes(ctx)

	f, err := a.Allocate(ctx)
	if err != nil {
		t.Fatalf("Allocate got err %v want nil", err)
	}
	a.IncRef(ctx, f)
	if got := a.RefCount(f); got != 2 {
		t.Fatalf("RefCount after IncRef got %d want 2", got)
	}

	a.Bytes(f)[0] = 0xaa
	a.Release(ctx, f)
	if got := a.RefCount(f); got != 1 {
		t.Errorf("RefCount after first Release got %d want 1", got)
	}
	if got := a.FreeBytes(ctx); got != before-page {
		t.Errorf("FreeBytes after first Release got %d want %d", got, before-page)
	}
	if a.Bytes(f)[0] != 0xaa {
		t.Errorf("shared frame contents changed by first Release")
	}

	a.Release(ctx, f)
	if got := a.RefCount(f); got != 0 {
		t.Errorf("RefCount after second Release got %d want 0", got)
	}
	if got := a.FreeBytes(ctx); got != before {
		t.Errorf("FreeBytes after second Release got %d want %d", got, before)
	}
	if !allFilled(a.Bytes(f), FreeFill) {
		t.Errorf("released frame %v not filled with %#x", f, FreeFill)
	}
}

func TestDecRefDoesNotFree(t *testing.T) {
	ctx := cpuContext(t, 0)
	a := newTestAllocator(t, 1, 2)
	f, err := a.Allocate(ctx)
	if err != nil {
		t.Fatalf("Allocate got err %v want nil", err)
	}
	free := a.FreeBytes(ctx)
	a.IncRef(ctx, f)
	a.DecRef(ctx, f)
	if got := a.RefCount(f); got != 1 {
		t.Errorf("RefCount got %d want 1", got)
	}
	if got := a.FreeBytes(ctx); got != free {
		t.Errorf("FreeBytes got %d want %d", got, free)
	}
}

func TestStealAndExhaustion(t *testing.T) {
	a := newTestAllocator(t, 2, 4)
	ctx0 := cpuContext(t, 0)
	ctx1 := cpuContext(t, 1)
	stolen := framesStolen.Value()

	for i := 0; i < 4; i++ {
		if _, err := a.Allocate(ctx0); err != nil {
			t.Fatalf("Allocate #%d got err %v want nil", i, err)
		}
	}
	if got := framesStolen.Value() - stolen; got != 2 {
		t.Errorf("frames stolen got %d want 2", got)
	}
	if got := a.FreeBytes(ctx1); got != 0 {
		t.Errorf("FreeBytes(cpu 1) got %d want 0", got)
	}
	if _, err := a.Allocate(ctx0); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Errorf("Allocate on empty allocator got err %v want %v", err, linuxerr.ENOMEM)
	}
}

func TestReleaseToCallingCPU(t *testing.T) {
	a := newTestAllocator(t, 2, 2)
	ctx0 := cpuContext(t, 0)
	ctx1 := cpuContext(t, 1)

	f, err := a.Allocate(ctx0)
	if err != nil {
		t.Fatalf("Allocate got err %v want nil", err)
	}
	a.Release(ctx1, f)
	if got := a.FreeBytes(ctx0); got != 0 {
		t.Errorf("FreeBytes(cpu 0) got %d want 0", got)
	}
	if got := a.FreeBytes(ctx1); got != 2*page {
		t.Errorf("FreeBytes(cpu 1) got %d want %d", got, 2*page)
	}
	if got := a.TotalFreeBytes(); got != 2*page {
		t.Errorf("TotalFreeBytes got %d want %d", got, 2*page)
	}
}

func TestBadFramePanics(t *testing.T) {
	a := newTestAllocator(t, 1, 2)
	ctx := cpuContext(t, 0)
	for _, tc := range []struct {
		name string
		f    Frame
	}{
		{name: "misaligned", f: a.Base() + 1},
		{name: "below range", f: a.Base() - page},
		{name: "at end", f: a.End()},
		{name: "zero", f: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("Release(%v) did not panic", tc.f)
				}
			}()
			a.Release(ctx, tc.f)
		})
	}
}

func TestCPUOutOfRangePanics(t *testing.T) {
	a := newTestAllocator(t, 2, 2)
	defer func() {
		if recover() == nil {
			t.Errorf("Allocate on CPU 2 did not panic")
		}
	}()
	a.Allocate(cpuContext(t, 2))
}

// Every CPU drains the allocator concurrently. Each frame must be handed
// out exactly once.
func TestNoDoubleAllocation(t *testing.T) {
	const (
		cpus   = 4
		frames = 256
	)
	a := newTestAllocator(t, cpus, frames)
	got := make([][]Frame, cpus)

	var g errgroup.Group
	for cpu := 0; cpu < cpus; cpu++ {
		cpu := cpu
		g.Go(func() error {
			ctx := cpuContext(t, cpu)
			for {
				f, err := a.Allocate(ctx)
				if linuxerr.Equals(linuxerr.ENOMEM, err) {
					return nil
				}
				if err != nil {
					return err
				}
				got[cpu] = append(got[cpu], f)
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Allocate got err %v", err)
	}

	seen := make(map[Frame]bool)
	for _, fs := range got {
		for _, f := range fs {
			if seen[f] {
				t.Fatalf("frame %v allocated twice", f)
			}
			seen[f] = true
		}
	}
	if len(seen) != frames {
		t.Errorf("allocated %d distinct frames want %d", len(seen), frames)
	}

	// Release everything concurrently and check that the lists hold every
	// frame again.
	var g2 errgroup.Group
	for cpu := 0; cpu < cpus; cpu++ {
		cpu := cpu
		g2.Go(func() error {
			ctx := cpuContext(t, cpu)
			for _, f := range got[cpu] {
				a.Release(ctx, f)
			}
			return nil
		})
	}
	g2.Wait()
	if got := a.TotalFreeBytes(); got != frames*page {
		t.Errorf("TotalFreeBytes got %d want %d", got, frames*page)
	}
}

func TestAllocatorFromContext(t *testing.T) {
	a := newTestAllocator(t, 1, 1)
	ctx := context.WithValue(contexttest.Context(t), CtxAllocator, a)
	if got := AllocatorFromContext(ctx); got != a {
		t.Errorf("AllocatorFromContext got %p want %p", got, a)
	}
	if got := AllocatorFromContext(contexttest.Context(t)); got != nil {
		t.Errorf("AllocatorFromContext on bare context got %p want nil", got)
	}
}
