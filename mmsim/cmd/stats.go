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
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/hhh476-tian/xv6/mmsim/cmd/util"
	"github.com/hhh476-tian/xv6/mmsim/config"
	"github.com/hhh476-tian/xv6/mmsim/flag"
	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/hostarch"
	"github.com/hhh476-tian/xv6/pkg/metric"
	"github.com/hhh476-tian/xv6/pkg/sentry/kernel"
	"github.com/hhh476-tian/xv6/pkg/sentry/mm"
)

// Stats implements subcommands.Command for the "stats" command.
type Stats struct {
	workload bool
}

// Name implements subcommands.Command.Name.
func (*Stats) Name() string {
	return "stats"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stats) Synopsis() string {
	return "print allocator state and memory metrics in Prometheus format"
}

// Usage implements subcommands.Command.Usage.
func (*Stats) Usage() string {
	return `stats [-workload=false] - boots a kernel, optionally runs a fork and fault workload, and prints per-CPU free memory and metrics.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stats) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.workload, "workload", true, "run a small fork and copy-on-write workload before printing.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stats) Execute(_ gocontext.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	k, err := bootKernel(context.Background(), conf)
	if err != nil {
		util.Fatalf("booting kernel: %v", err)
	}
	defer k.Destroy()

	if s.workload {
		if err := runWorkload(k); err != nil {
			util.Errorf("workload: %v", err)
			return subcommands.ExitFailure
		}
	}
	if err := writeStats(os.Stdout, k); err != nil {
		util.Errorf("writing stats: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// runWorkload grows a heap on the last CPU, forks it, and has the child
// store to every page so each one takes a copy-on-write fault.
func runWorkload(k *kernel.Kernel) error {
	const pages = 4
	return k.CPU(len(k.CPUs) - 1).Run(func(ctx context.Context) error {
		parent := k.NewTask(ctx)
		defer parent.Exit(ctx)
		if _, err := parent.Sbrk(ctx, pages*hostarch.PageSize); err != nil {
			return err
		}
		child, err := parent.Fork(ctx)
		if err != nil {
			return err
		}
		defer child.Exit(ctx)
		for i := 0; i < pages; i++ {
			if !child.HandleUserFault(ctx, hostarch.Addr(i*hostarch.PageSize), mm.StorePageFault) {
				return fmt.Errorf("child fault on page %d not resolved", i)
			}
		}
		return nil
	})
}

func writeStats(w io.Writer, k *kernel.Kernel) error {
	a := k.Allocator
	fmt.Fprintf(w, "# physical memory %v-%v\n", a.Base(), a.End())
	for _, cpu := range k.CPUs {
		fmt.Fprintf(w, "# cpu%d free bytes: %d\n", cpu.ID(), a.FreeBytes(cpu))
	}
	fmt.Fprintf(w, "# total free bytes: %d\n", a.TotalFreeBytes())
	return metric.WriteText(w)
}
