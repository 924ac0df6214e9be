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
	"github.com/hhh476-tian/xv6/pkg/sync"
)

// Pool is a collection of free frames. Implementations need not be safe for
// concurrent use; the Allocator serializes access per shard.
type Pool interface {
	// Push adds f to the pool.
	Push(f Frame)

	// Pop removes and returns a frame. ok is false if the pool is empty.
	Pop() (f Frame, ok bool)

	// Len returns the number of frames in the pool.
	Len() int
}

// stackPool is a LIFO Pool, so recently freed frames are reused first.
type stackPool struct {
	frames []Frame
}

// Push implements Pool.Push.
func (p *stackPool) Push(f Frame) {
	p.frames = append(p.frames, f)
}

// Pop implements Pool.Pop.
func (p *stackPool) Pop() (Frame, bool) {
	n := len(p.frames)
	if n == 0 {
		return 0, false
	}
	f := p.frames[n-1]
	p.frames = p.frames[:n-1]
	return f, true
}

// Len implements Pool.Len.
func (p *stackPool) Len() int {
	return len(p.frames)
}

// shard is one CPU's free list.
type shard struct {
	mu sync.Spinlock

	// +checklocks:mu
	pool Pool
}

func (s *shard) push(f Frame) {
	s.mu.Lock()
	s.pool.Push(f)
	s.mu.Unlock()
}

func (s *shard) pop() (Frame, bool) {
	s.mu.Lock()
	f, ok := s.pool.Pop()
	s.mu.Unlock()
	return f, ok
}

func (s *shard) len() int {
	s.mu.Lock()
	n := s.pool.Len()
	s.mu.Unlock()
	return n
}
