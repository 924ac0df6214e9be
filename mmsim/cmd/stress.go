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

package cmd

import (
	gocontext "context"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/hhh476-tian/xv6/mmsim/cmd/util"
	"github.com/hhh476-tian/xv6/mmsim/config"
	"github.com/hhh476-tian/xv6/mmsim/flag"
	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/errors/linuxerr"
	"github.com/hhh476-tian/xv6/pkg/sentry/kernel"
	"github.com/hhh476-tian/xv6/pkg/sentry/pgalloc"
	"github.com/hhh476-tian/xv6/pkg/sync"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	iterations int
	batch      int
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "allocate and free frames concurrently on every CPU"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [-iterations=N] [-batch=N] - every CPU repeatedly allocates a batch of frames, stamps them, checks no other CPU holds them, and frees them.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.iterations, "iterations", 1000, "number of rounds each CPU runs.")
	f.IntVar(&s.batch, "batch", 16, "number of frames each CPU holds per round.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(_ gocontext.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || s.iterations <= 0 || s.batch <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	ctx := context.Background()
	k, err := bootKernel(ctx, conf)
	if err != nil {
		util.Fatalf("booting kernel: %v", err)
	}
	defer k.Destroy()

	res, err := runStress(k, s.iterations, s.batch)
	if err != nil {
		util.Errorf("stress: %v", err)
		return subcommands.ExitFailure
	}
	fmt.Fprintf(os.Stdout, "allocations: %d\nout of memory: %d\nfree bytes: %d\n", res.allocations, res.exhausted, k.Allocator.TotalFreeBytes())
	return subcommands.ExitSuccess
}

type stressResult struct {
	allocations uint64
	exhausted   uint64
}

// frameOwners records which CPU holds each allocated frame.
type frameOwners struct {
	mu sync.Mutex

	// +checklocks:mu
	owner map[pgalloc.Frame]int
}

func (o *frameOwners) take(f pgalloc.Frame, cpu int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if prev, ok := o.owner[f]; ok {
		return fmt.Errorf("frame %v handed to cpu%d while held by cpu%d", f, cpu, prev)
	}
	o.owner[f] = cpu
	return nil
}

func (o *frameOwners) give(f pgalloc.Frame) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.owner, f)
}

// runStress runs iterations rounds on every CPU of k concurrently. In each
// round a CPU allocates up to batch frames, stamps each with its ID, checks
// the stamps and frees the frames. Running out of memory ends a round early.
func runStress(k *kernel.Kernel, iterations, batch int) (stressResult, error) {
	a := k.Allocator
	before := a.TotalFreeBytes()
	owners := frameOwners{owner: make(map[pgalloc.Frame]int)}
	results := make([]stressResult, len(k.CPUs))

	var g errgroup.Group
	for _, cpu := range k.CPUs {
		cpu := cpu
		g.Go(func() error {
			return cpu.Run(func(ctx context.Context) error {
				res := &results[cpu.ID()]
				held := make([]pgalloc.Frame, 0, batch)
				stamp := byte(cpu.ID() + 1)
				for i := 0; i < iterations; i++ {
					for len(held) < batch {
						f, err := a.Allocate(ctx)
						if linuxerr.Equals(linuxerr.ENOMEM, err) {
							res.exhausted++
							break
						}
						if err != nil {
							return err
						}
						if err := owners.take(f, cpu.ID()); err != nil {
							return err
						}
						res.allocations++
						a.Bytes(f)[0] = stamp
						held = append(held, f)
					}
					for _, f := range held {
						if got := a.Bytes(f)[0]; got != stamp {
							return fmt.Errorf("cpu%d: frame %v stamp overwritten with %#x", cpu.ID(), f, got)
						}
						owners.give(f)
						a.Release(ctx, f)
					}
					held = held[:0]
				}
				ctx.Debugf("Stress done: %d allocations, %d exhausted rounds", res.allocations, res.exhausted)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return stressResult{}, err
	}

	var total stressResult
	for _, r := range results {
		total.allocations += r.allocations
		total.exhausted += r.exhausted
	}
	if after := a.TotalFreeBytes(); after != before {
		return total, fmt.Errorf("free bytes %d after stress, want %d", after, before)
	}
	return total, nil
}
