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
	"github.com/hhh476-tian/xv6/pkg/atomicbitops"
	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/sentry/fsimpl/host"
	"github.com/hhh476-tian/xv6/pkg/sentry/mm"
)

// Task is a single-threaded process.
type Task struct {
	k   *Kernel
	pid ThreadID

	// mm is the task's address space. It is immutable.
	mm *mm.MemoryManager

	// fdTable is the task's descriptor table. It is immutable.
	fdTable *FDTable

	// killed is set when the task takes a fault that cannot be resolved.
	killed atomicbitops.Bool

	// exited is set by Exit.
	exited atomicbitops.Bool
}

// PID returns t's process ID.
func (t *Task) PID() ThreadID {
	return t.pid
}

// MemoryManager returns t's address space.
func (t *Task) MemoryManager() *mm.MemoryManager {
	return t.mm
}

// FDTable returns t's descriptor table.
func (t *Task) FDTable() *FDTable {
	return t.fdTable
}

// Kernel returns the kernel t runs in.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// Killed returns true if t has been killed by an unresolved fault.
func (t *Task) Killed() bool {
	return t.killed.Load()
}

// Kill marks t as killed.
func (t *Task) Kill() {
	t.killed.Store(true)
}

// Open opens the host file at path and installs it in t's descriptor table.
func (t *Task) Open(ctx context.Context, path string, flags int) (int32, error) {
	f, err := host.Open(path, flags)
	if err != nil {
		return -1, err
	}
	fd, err := t.fdTable.NewFD(f)
	if err != nil {
		f.DecRef(ctx)
		return -1, err
	}
	ctx.Debugf("Task %d opened %q as fd %d", t.pid, path, fd)
	return fd, nil
}

// Close closes fd. Mappings of the file stay valid.
func (t *Task) Close(ctx context.Context, fd int32) error {
	return t.fdTable.Remove(ctx, fd)
}

// Fork creates a child task. The child's address space is a copy-on-write
// duplicate of t's, and it shares t's open files.
func (t *Task) Fork(ctx context.Context) (*Task, error) {
	childMM, err := t.mm.Fork(ctx)
	if err != nil {
		return nil, err
	}
	child := &Task{
		k:       t.k,
		mm:      childMM,
		fdTable: t.fdTable.Fork(),
	}
	t.k.addTask(ctx, child)
	ctx.Debugf("Task %d forked child %d", t.pid, child.pid)
	return child, nil
}

// Exit releases t's files and address space. Exit is idempotent.
func (t *Task) Exit(ctx context.Context) {
	if t.exited.Swap(true) {
		return
	}
	t.fdTable.RemoveAll(ctx)
	t.mm.Release(ctx)
	t.k.removeTask(t)
	ctx.Debugf("Task %d exited (killed=%t)", t.pid, t.Killed())
}
