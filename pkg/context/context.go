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

// Package context defines an internal context type.
//
// The given Context conforms to the standard Go context, but mandates
// additional methods that are specific to the kernel. Package context
// also provides a minimal Background implementation.
package context

import (
	"context"
	"time"

	"github.com/hhh476-tian/xv6/pkg/log"
)

// A Context represents a thread of execution (hereafter "goroutine" to reflect
// Go idiosyncrasy). It carries state associated with the goroutine across API
// boundaries.
//
// It is *not safe* to use the same Context in multiple concurrent goroutines
// unless the implementation says otherwise; in particular the CPU identity a
// Context carries must match the goroutine that uses it.
type Context interface {
	context.Context
	log.Logger
}

// logContext implements basic logging.
type logContext struct {
	NoTask
	log.Logger
}

// Background returns an empty context using the current global logger.
//
// Using a Background context for tests is fine, as long as no values are
// needed from the context in the tested code paths.
func Background() Context {
	return &logContext{Logger: log.Log()}
}

// NoTask is an implementation of the standard context methods for embedding in
// Contexts that have no deadline, never finish and carry no values.
type NoTask struct{}

// Deadline implements context.Context.Deadline.
func (NoTask) Deadline() (time.Time, bool) {
	return time.Time{}, false
}

// Done implements context.Context.Done.
func (NoTask) Done() <-chan struct{} {
	return nil
}

// Err implements context.Context.Err.
func (NoTask) Err() error {
	return nil
}

// Value implements context.Context.Value.
func (NoTask) Value(any) any {
	return nil
}

// WithValue returns a copy of parent in which the value associated with key
// is val.
func WithValue(parent Context, key, val any) Context {
	return &withValue{
		Context: parent,
		key:     key,
		val:     val,
	}
}

type withValue struct {
	Context
	key any
	val any
}

// Value implements Context.Value.
func (ctx *withValue) Value(key any) any {
	if key == ctx.key {
		return ctx.val
	}
	return ctx.Context.Value(key)
}
