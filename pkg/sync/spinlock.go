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

package sync

import (
	"runtime"
	"sync/atomic"
)

// spinsBeforeYield is the number of failed acquisition attempts after which
// a waiter yields its processor instead of continuing to spin.
const spinsBeforeYield = 64

// Spinlock implements a lock where each goroutine trying to acquire it
// busy-waits till the lock becomes available. It is meant for critical
// sections that never block, such as free-list pushes and pops.
//
// The zero value is an unlocked Spinlock. A Spinlock must not be copied after
// first use.
type Spinlock struct {
	_     NoCopy
	state uint32
}

// Lock blocks until the lock can be acquired. Any attempt to re-acquire a
// lock already held by the caller will deadlock.
func (l *Spinlock) Lock() {
	for spins := 0; ; spins++ {
		if atomic.LoadUint32(&l.state) == 0 && atomic.CompareAndSwapUint32(&l.state, 0, 1) {
			return
		}
		if spins >= spinsBeforeYield {
			runtime.Gosched()
			spins = 0
		}
	}
}

// TryLock attempts to acquire the lock and returns true if the lock could be
// acquired or false otherwise.
func (l *Spinlock) TryLock() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Unlock releases a held lock allowing other goroutines to acquire it.
//
// Preconditions: l is locked.
func (l *Spinlock) Unlock() {
	if atomic.SwapUint32(&l.state, 0) == 0 {
		panic("sync: unlock of unlocked Spinlock")
	}
}

// Holding returns true if the lock is currently held by some goroutine.
func (l *Spinlock) Holding() bool {
	return atomic.LoadUint32(&l.state) != 0
}

var _ Locker = (*Spinlock)(nil)
