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

package kernel

import (
	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/hostarch"
	"github.com/hhh476-tian/xv6/pkg/sentry/mm"
)

// MMap maps length bytes of the file open at fd, starting at offset, into
// t's address space and returns the start of the mapping. prot is a
// combination of hostarch.Prot* bits; flags is mm.MapShared or
// mm.MapPrivate.
func (t *Task) MMap(ctx context.Context, fd int32, length uint64, prot int, flags int, offset uint64) (hostarch.Addr, error) {
	file, err := t.fdTable.Get(fd)
	if err != nil {
		return 0, err
	}
	addr, err := t.mm.MMap(ctx, mm.MMapOpts{
		File:   file,
		Offset: offset,
		Length: length,
		Perms:  hostarch.AccessTypeFromProt(prot),
		Flags:  mm.MapFlags(flags),
	})
	if err != nil {
		ctx.Debugf("Task %d: mmap(fd=%d, len=%#x, prot=%#x, flags=%#x, off=%#x) failed: %v", t.pid, fd, length, prot, flags, offset, err)
		return 0, err
	}
	return addr, nil
}

// MUnmap unmaps [addr, addr+length) from t's address space.
func (t *Task) MUnmap(ctx context.Context, addr hostarch.Addr, length uint64) error {
	return t.mm.MUnmap(ctx, addr, length)
}

// Sbrk grows or shrinks t's heap by n bytes and returns the old break.
func (t *Task) Sbrk(ctx context.Context, n int64) (hostarch.Addr, error) {
	return t.mm.Grow(ctx, n)
}

// PageAccess reports which of npages pages starting at addr were accessed
// since the last call, as a bitmask.
func (t *Task) PageAccess(ctx context.Context, addr hostarch.Addr, npages int) (uint64, error) {
	return t.mm.PageAccess(ctx, addr, npages)
}

// Sysinfo returns the number of free bytes on the calling CPU's free list and
// the number of live tasks.
func (t *Task) Sysinfo(ctx context.Context) (freemem uint64, nproc int) {
	return t.k.Allocator.FreeBytes(ctx), t.k.NumTasks()
}

// HandleUserFault dispatches a trap taken in user mode at addr. It returns
// true if the fault was resolved and the faulting instruction may be
// re-executed. Otherwise t is killed.
func (t *Task) HandleUserFault(ctx context.Context, addr hostarch.Addr, cause mm.FaultCause) bool {
	if !cause.IsPageFault() {
		t.k.faultLog.Warningf("Task %d: unexpected scause %v at %v", t.pid, cause, addr)
		t.Kill()
		return false
	}
	if err := t.mm.HandleFault(ctx, addr, cause); err != nil {
		t.k.faultLog.Warningf("Task %d: page fault: %v at %v: %v", t.pid, cause, addr, err)
		t.Kill()
		return false
	}
	return true
}
