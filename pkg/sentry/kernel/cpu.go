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
	"fmt"

	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/log"
	"github.com/hhh476-tian/xv6/pkg/sentry/pgalloc"
	"github.com/hhh476-tian/xv6/pkg/sync"
)

// CPU is a hart. It implements context.Context: work run on a CPU allocates
// from and frees to that CPU's free list.
type CPU struct {
	context.NoTask

	k  *Kernel
	id int

	// running serializes work pinned to this CPU.
	running sync.Mutex
}

// ID returns the CPU's index.
func (c *CPU) ID() int {
	return c.id
}

// Run runs fn on c. At most one fn runs on a CPU at a time.
func (c *CPU) Run(fn func(ctx context.Context) error) error {
	c.running.Lock()
	defer c.running.Unlock()
	return fn(c)
}

// Value implements context.Context.Value.
func (c *CPU) Value(key any) any {
	switch key {
	case pgalloc.CtxCPU:
		return c.id
	case pgalloc.CtxAllocator:
		return c.k.Allocator
	default:
		return nil
	}
}

func (c *CPU) logPrefix() string {
	return fmt.Sprintf("[cpu%d] ", c.id)
}

// Debugf implements log.Logger.Debugf.
func (c *CPU) Debugf(format string, v ...any) {
	log.Log().DebugfAtDepth(1, c.logPrefix()+format, v...)
}

// Infof implements log.Logger.Infof.
func (c *CPU) Infof(format string, v ...any) {
	log.Log().InfofAtDepth(1, c.logPrefix()+format, v...)
}

// Warningf implements log.Logger.Warningf.
func (c *CPU) Warningf(format string, v ...any) {
	log.Log().WarningfAtDepth(1, c.logPrefix()+format, v...)
}

// IsLogging implements log.Logger.IsLogging.
func (c *CPU) IsLogging(level log.Level) bool {
	return log.IsLogging(level)
}
