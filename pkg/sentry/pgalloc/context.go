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
	"github.com/hhh476-tian/xv6/pkg/context"
)

// contextID is this package's type for context.Context.Value keys.
type contextID int

const (
	// CtxCPU is a Context.Value key for the index of the CPU the caller is
	// running on. The value is represented as an int.
	CtxCPU contextID = iota

	// CtxAllocator is a Context.Value key for an *Allocator.
	CtxAllocator
)

// CPUFromContext returns the CPU the caller of ctx runs on.
func CPUFromContext(ctx context.Context) (int, bool) {
	if v := ctx.Value(CtxCPU); v != nil {
		return v.(int), true
	}
	return 0, false
}

// WithCPU returns a copy of ctx that runs on cpu.
func WithCPU(ctx context.Context, cpu int) context.Context {
	return context.WithValue(ctx, CtxCPU, cpu)
}

// AllocatorFromContext returns the Allocator used by ctx, or nil if no such
// Allocator exists.
func AllocatorFromContext(ctx context.Context) *Allocator {
	if v := ctx.Value(CtxAllocator); v != nil {
		return v.(*Allocator)
	}
	return nil
}
