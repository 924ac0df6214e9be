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

// Package cmd holds implementations of the mmsim commands.
package cmd

import (
	"github.com/hhh476-tian/xv6/mmsim/config"
	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/sentry/kernel"
)

// bootKernel boots a kernel sized by conf.
func bootKernel(ctx context.Context, conf *config.Config) (*kernel.Kernel, error) {
	return kernel.New(ctx, kernel.Config{
		CPUs:           conf.CPUs,
		PhysicalMemory: conf.PhysicalMemory,
	})
}
