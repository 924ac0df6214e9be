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

package pagetables

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hhh476-tian/xv6/pkg/context/contexttest"
	"github.com/hhh476-tian/xv6/pkg/errors/linuxerr"
	"github.com/hhh476-tian/xv6/pkg/hostarch"
	"github.com/hhh476-tian/xv6/pkg/sentry/pgalloc"
)

const pteSize = hostarch.PageSize

type mapping struct {
	VA    hostarch.Addr
	Frame pgalloc.Frame
	Flags Flags
}

func checkMappings(t *testing.T, pt *PageTables, want []mapping) {
	t.Helper()
	var got []mapping
	pt.ForEach(func(va hostarch.Addr, pte PTE) bool {
		got = append(got, mapping{va, pte.Frame, pte.Flags})
		return true
	})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mappings mismatch (-want +got):\n%s", diff)
	}
}

func newTestPageTables(t *testing.T, frames uint64) (*PageTables, *pgalloc.Allocator) {
	t.Helper()
	a, err := pgalloc.New(pgalloc.Options{CPUs: 1, Size: frames * pteSize})
	if err != nil {
		t.Fatalf("pgalloc.New got err %v want nil", err)
	}
	t.Cleanup(a.Destroy)
	return New(a), a
}

func TestInstallSerialEntries(t *testing.T) {
	pt, _ := newTestPageTables(t, 1)
	if err := pt.Install(0x400000, 2*pteSize, pteSize*42, Readable|User); err != nil {
		t.Fatalf("Install got err %v want nil", err)
	}
	checkMappings(t, pt, []mapping{
		{0x400000, pteSize * 42, Valid | Readable | User},
		{0x401000, pteSize * 43, Valid | Readable | User},
	})
	if got := pt.Len(); got != 2 {
		t.Errorf("Len got %d want 2", got)
	}
}

func TestInstallPartialPageLength(t *testing.T) {
	pt, _ := newTestPageTables(t, 1)
	if err := pt.Install(0x400000, pteSize+1, pteSize*42, Readable); err != nil {
		t.Fatalf("Install got err %v want nil", err)
	}
	if got := pt.Len(); got != 2 {
		t.Errorf("Len got %d want 2", got)
	}
}

func TestInstallErrors(t *testing.T) {
	pt, _ := newTestPageTables(t, 1)
	if err := pt.Install(0x400000, pteSize, pteSize*42, Readable); err != nil {
		t.Fatalf("Install got err %v want nil", err)
	}
	for _, tc := range []struct {
		name   string
		va     hostarch.Addr
		length uint64
		want   error
	}{
		{name: "unaligned", va: 0x400001, length: pteSize, want: linuxerr.EINVAL},
		{name: "zero length", va: 0x500000, length: 0, want: linuxerr.EINVAL},
		{name: "past top", va: hostarch.MaxUserAddress - pteSize, length: 2 * pteSize, want: linuxerr.EINVAL},
		{name: "remap", va: 0x3ff000, length: 2 * pteSize, want: linuxerr.EEXIST},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := pt.Install(tc.va, tc.length, pteSize*7, Readable); err != tc.want {
				t.Errorf("Install got err %v want %v", err, tc.want)
			}
		})
	}
	// The failed remap must not have installed its first page.
	checkMappings(t, pt, []mapping{
		{0x400000, pteSize * 42, Valid | Readable},
	})
}

func TestLookupRoundsDown(t *testing.T) {
	pt, _ := newTestPageTables(t, 1)
	pt.Install(0x400000, pteSize, pteSize*42, Readable|Writable|User)
	pte, ok := pt.Lookup(0x400123)
	if !ok {
		t.Fatalf("Lookup got ok false want true")
	}
	if pte.Frame != pteSize*42 || !pte.Flags.Has(Writable) {
		t.Errorf("Lookup got %+v", pte)
	}
	if _, ok := pt.Lookup(0x401000); ok {
		t.Errorf("Lookup of unmapped page got ok true")
	}
}

func TestRemoveFree(t *testing.T) {
	ctx := contexttest.Context(t)
	pt, a := newTestPageTables(t, 2)
	f, err := a.Allocate(ctx)
	if err != nil {
		t.Fatalf("Allocate got err %v want nil", err)
	}
	before := a.TotalFreeBytes()
	pt.Install(0x400000, pteSize, f, Readable|User)
	pt.Remove(ctx, 0x400000, 1, true)
	checkMappings(t, pt, nil)
	if got := a.TotalFreeBytes(); got != before+pteSize {
		t.Errorf("TotalFreeBytes got %d want %d", got, before+pteSize)
	}
}

func TestRemoveKeep(t *testing.T) {
	ctx := contexttest.Context(t)
	pt, a := newTestPageTables(t, 2)
	f, err := a.Allocate(ctx)
	if err != nil {
		t.Fatalf("Allocate got err %v want nil", err)
	}
	pt.Install(0x400000, pteSize, f, Readable|User)
	pt.Remove(ctx, 0x400000, 1, false)
	if got := a.RefCount(f); got != 1 {
		t.Errorf("RefCount got %d want 1", got)
	}
}

func TestRemoveUnmappedPanics(t *testing.T) {
	ctx := contexttest.Context(t)
	pt, _ := newTestPageTables(t, 1)
	pt.Install(0x400000, pteSize, pteSize*42, Readable)
	defer func() {
		if recover() == nil {
			t.Errorf("Remove of unmapped page did not panic")
		}
	}()
	pt.Remove(ctx, 0x400000, 2, false)
}

func TestUpdate(t *testing.T) {
	pt, _ := newTestPageTables(t, 1)
	pt.Install(0x400000, pteSize, pteSize*42, Readable|Writable|User)
	pte, _ := pt.Lookup(0x400000)
	pte.Flags = pte.Flags&^Writable | CopyOnWrite
	pt.Update(0x400000, pte)
	checkMappings(t, pt, []mapping{
		{0x400000, pteSize * 42, Valid | Readable | User | CopyOnWrite},
	})
}

func TestForEachInRange(t *testing.T) {
	pt, _ := newTestPageTables(t, 1)
	pt.Install(0x400000, 4*pteSize, pteSize*42, Readable)
	var got []hostarch.Addr
	pt.ForEachInRange(hostarch.AddrRange{Start: 0x401000, End: 0x403000}, func(va hostarch.Addr, _ PTE) bool {
		got = append(got, va)
		return true
	})
	if diff := cmp.Diff([]hostarch.Addr{0x401000, 0x402000}, got); diff != "" {
		t.Errorf("ForEachInRange mismatch (-want +got):\n%s", diff)
	}
}

func TestFlags(t *testing.T) {
	f := Valid | Readable | Writable | User | CopyOnWrite
	if got, want := f.String(), "vrw-u--c"; got != want {
		t.Errorf("String got %q want %q", got, want)
	}
	if got := FlagsFromAccess(hostarch.ReadWrite); got != Readable|Writable {
		t.Errorf("FlagsFromAccess(rw) got %v", got)
	}
	if !f.Permits(hostarch.ReadWrite) {
		t.Errorf("Permits(rw) got false want true")
	}
	if f.Permits(hostarch.Execute) {
		t.Errorf("Permits(x) got true want false")
	}
	if (Readable | Writable).Permits(hostarch.Read) {
		t.Errorf("Permits on invalid entry got true want false")
	}
}
