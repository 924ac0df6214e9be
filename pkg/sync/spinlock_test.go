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
	"testing"
)

func TestSpinlockTryLock(t *testing.T) {
	var l Spinlock
	if !l.TryLock() {
		t.Fatalf("TryLock on unlocked Spinlock failed")
	}
	if l.TryLock() {
		t.Fatalf("TryLock on locked Spinlock succeeded")
	}
	if !l.Holding() {
		t.Errorf("Holding() = false while locked")
	}
	l.Unlock()
	if l.Holding() {
		t.Errorf("Holding() = true after Unlock")
	}
}

func TestSpinlockMutualExclusion(t *testing.T) {
	const (
		goroutines = 8
		iterations = 1000
	)
	var (
		l       Spinlock
		wg      WaitGroup
		counter int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}
	wg.Wait()
	if want := goroutines * iterations; counter != want {
		t.Errorf("counter = %d, want %d", counter, want)
	}
}

func TestSpinlockUnlockUnlocked(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Unlock of unlocked Spinlock did not panic")
		}
	}()
	var l Spinlock
	l.Unlock()
}
