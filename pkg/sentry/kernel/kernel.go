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

// Package kernel provides the process side of the memory core: CPUs that
// carry allocator affinity, tasks that own an address space and a file
// descriptor table, and the user fault dispatcher.
package kernel

import (
	"fmt"
	"time"

	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/log"
	"github.com/hhh476-tian/xv6/pkg/sentry/mm"
	"github.com/hhh476-tian/xv6/pkg/sentry/pgalloc"
	"github.com/hhh476-tian/xv6/pkg/sync"
)

// faultLogBurst is the number of unresolved-fault warnings logged back to
// back before the fault log is throttled to one per second.
const faultLogBurst = 10

// ThreadID is a process identifier.
type ThreadID int32

// Config configures a Kernel.
type Config struct {
	// CPUs is the number of CPUs.
	CPUs int

	// PhysicalMemory is the number of bytes the frame allocator manages.
	PhysicalMemory uint64
}

// Kernel owns the frame allocator, the CPUs and the task table.
type Kernel struct {
	// Allocator is the physical frame allocator. It is immutable.
	Allocator *pgalloc.Allocator

	// CPUs is indexed by CPU ID. It is immutable.
	CPUs []*CPU

	// faultLog reports unresolved user faults.
	faultLog log.Logger

	mu sync.Mutex

	// +checklocks:mu
	tasks map[ThreadID]*Task

	// +checklocks:mu
	nextPID ThreadID
}

// New boots a Kernel.
func New(ctx context.Context, cfg Config) (*Kernel, error) {
	a, err := pgalloc.New(pgalloc.Options{
		CPUs: cfg.CPUs,
		Size: cfg.PhysicalMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("creating frame allocator: %w", err)
	}
	k := &Kernel{
		Allocator: a,
		faultLog:  log.RateLimitedLoggerWithBurst(log.Log(), time.Second, faultLogBurst),
		tasks:     make(map[ThreadID]*Task),
		nextPID:   1,
	}
	k.CPUs = make([]*CPU, cfg.CPUs)
	for i := range k.CPUs {
		k.CPUs[i] = &CPU{k: k, id: i}
	}
	ctx.Infof("Booted kernel: %d CPUs, %d bytes of physical memory (%v-%v)", cfg.CPUs, cfg.PhysicalMemory, a.Base(), a.End())
	return k, nil
}

// Destroy unmaps physical memory. No task may be live.
func (k *Kernel) Destroy() {
	k.mu.Lock()
	n := len(k.tasks)
	k.mu.Unlock()
	if n != 0 {
		panic(fmt.Sprintf("destroying kernel with %d live tasks", n))
	}
	k.Allocator.Destroy()
}

// CPU returns the CPU with the given ID.
func (k *Kernel) CPU(id int) *CPU {
	if id < 0 || id >= len(k.CPUs) {
		panic(fmt.Sprintf("CPU %d out of range [0, %d)", id, len(k.CPUs)))
	}
	return k.CPUs[id]
}

// NewTask creates a task with an empty address space and no open files.
func (k *Kernel) NewTask(ctx context.Context) *Task {
	t := &Task{
		k:       k,
		mm:      mm.NewMemoryManager(k.Allocator),
		fdTable: &FDTable{},
	}
	k.addTask(ctx, t)
	return t
}

func (k *Kernel) addTask(ctx context.Context, t *Task) {
	k.mu.Lock()
	t.pid = k.nextPID
	k.nextPID++
	k.tasks[t.pid] = t
	k.mu.Unlock()
	ctx.Debugf("Created task %d", t.pid)
}

func (k *Kernel) removeTask(t *Task) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.tasks, t.pid)
}

// TaskWithID returns the live task with the given PID, or nil.
func (k *Kernel) TaskWithID(pid ThreadID) *Task {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tasks[pid]
}

// NumTasks returns the number of live tasks.
func (k *Kernel) NumTasks() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.tasks)
}
