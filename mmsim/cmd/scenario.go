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
	"bytes"
	gocontext "context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"

	"github.com/hhh476-tian/xv6/mmsim/cmd/util"
	"github.com/hhh476-tian/xv6/mmsim/config"
	"github.com/hhh476-tian/xv6/mmsim/flag"
	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/hostarch"
	"github.com/hhh476-tian/xv6/pkg/sentry/kernel"
	"github.com/hhh476-tian/xv6/pkg/sentry/mm"
	"github.com/hhh476-tian/xv6/pkg/sentry/pgalloc"
)

// scenario is an end-to-end check run against a freshly booted kernel. dir
// is an empty scratch directory for backing files.
type scenario struct {
	name        string
	description string
	run         func(k *kernel.Kernel, dir string, w io.Writer) error
}

var scenarios = []scenario{
	{"refcount", "a shared frame is freed only when its last reference is released", runRefcount},
	{"demand", "a private read-only mapping is loaded from its file on first touch", runDemand},
	{"writeback", "unmapping a dirty shared page writes it back to the file", runWriteback},
	{"cow", "a forked child gets a private copy of a page on its first store", runCOW},
}

// Scenario implements subcommands.Command for the "scenario" command.
type Scenario struct {
	only string
}

// Name implements subcommands.Command.Name.
func (*Scenario) Name() string {
	return "scenario"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Scenario) Synopsis() string {
	return "run end-to-end memory scenarios against a simulated kernel"
}

// Usage implements subcommands.Command.Usage.
func (*Scenario) Usage() string {
	var b strings.Builder
	b.WriteString("scenario [-only=<name>[,<name>...]] - runs each scenario on a fresh kernel and reports PASS or FAIL.\n\nScenarios:\n")
	for _, s := range scenarios {
		fmt.Fprintf(&b, "  %-10s %s\n", s.name, s.description)
	}
	return b.String()
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Scenario) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.only, "only", "", "comma-separated list of scenarios to run. Empty runs all.")
}

// Execute implements subcommands.Command.Execute.
func (s *Scenario) Execute(_ gocontext.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	selected, err := selectScenarios(s.only)
	if err != nil {
		util.Errorf("%v", err)
		return subcommands.ExitUsageError
	}
	failed := 0
	for _, sc := range selected {
		if err := runScenario(context.Background(), conf, sc, os.Stdout); err != nil {
			fmt.Fprintf(os.Stdout, "FAIL %s: %v\n", sc.name, err)
			failed++
			continue
		}
		fmt.Fprintf(os.Stdout, "PASS %s\n", sc.name)
	}
	if failed > 0 {
		util.Errorf("%d of %d scenarios failed", failed, len(selected))
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func selectScenarios(only string) ([]scenario, error) {
	if only == "" {
		return scenarios, nil
	}
	var selected []scenario
	for _, name := range strings.Split(only, ",") {
		found := false
		for _, sc := range scenarios {
			if sc.name == name {
				selected = append(selected, sc)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
	}
	return selected, nil
}

// runScenario boots a kernel for sc, runs it and tears the kernel down.
func runScenario(ctx context.Context, conf *config.Config, sc scenario, w io.Writer) error {
	k, err := bootKernel(ctx, conf)
	if err != nil {
		return err
	}
	defer k.Destroy()
	dir, err := os.MkdirTemp("", "mmsim-"+sc.name)
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	ctx.Infof("Running scenario %q", sc.name)
	return sc.run(k, dir, w)
}

func runRefcount(k *kernel.Kernel, _ string, w io.Writer) error {
	cpu := k.CPU(0)
	return cpu.Run(func(ctx context.Context) error {
		a := k.Allocator
		free := a.FreeBytes(ctx)
		f, err := a.Allocate(ctx)
		if err != nil {
			return err
		}
		if got := a.RefCount(f); got != 1 {
			return fmt.Errorf("refcount after Allocate is %d, want 1", got)
		}
		a.IncRef(ctx, f)
		a.Release(ctx, f)
		if got := a.RefCount(f); got != 1 {
			return fmt.Errorf("refcount after first Release is %d, want 1", got)
		}
		if got := a.FreeBytes(ctx); got != free-hostarch.PageSize {
			return fmt.Errorf("frame %v freed while still referenced", f)
		}
		a.Release(ctx, f)
		if got := a.RefCount(f); got != 0 {
			return fmt.Errorf("refcount after last Release is %d, want 0", got)
		}
		if got := a.FreeBytes(ctx); got != free {
			return fmt.Errorf("free bytes after last Release is %d, want %d", got, free)
		}
		if b := a.Bytes(f)[0]; b != pgalloc.FreeFill {
			return fmt.Errorf("freed frame holds %#x, want %#x", b, pgalloc.FreeFill)
		}
		fmt.Fprintf(w, "frame %v: allocated, shared, released twice, back on cpu%d's free list\n", f, cpu.ID())
		return nil
	})
}

func runDemand(k *kernel.Kernel, dir string, w io.Writer) error {
	contents := []byte("hello from a demand-paged file\n")
	path := filepath.Join(dir, "demand")
	if err := os.WriteFile(path, contents, 0644); err != nil {
		return err
	}
	return k.CPU(0).Run(func(ctx context.Context) error {
		t := k.NewTask(ctx)
		defer t.Exit(ctx)
		fd, err := t.Open(ctx, path, unix.O_RDONLY)
		if err != nil {
			return err
		}
		addr, err := t.MMap(ctx, fd, hostarch.PageSize, hostarch.ProtRead, int(mm.MapPrivate), 0)
		if err != nil {
			return fmt.Errorf("mmap: %w", err)
		}
		if _, ok := t.MemoryManager().PageTable().Lookup(addr); ok {
			return fmt.Errorf("page at %v mapped before first touch", addr)
		}
		if !t.HandleUserFault(ctx, addr, mm.LoadPageFault) {
			return fmt.Errorf("load fault at %v not resolved", addr)
		}
		got := make([]byte, hostarch.PageSize)
		if _, err := t.MemoryManager().CopyIn(ctx, addr, got); err != nil {
			return err
		}
		if !bytes.Equal(got[:len(contents)], contents) {
			return fmt.Errorf("mapped bytes %q, want %q", got[:len(contents)], contents)
		}
		if bytes.IndexFunc(got[len(contents):], func(r rune) bool { return r != 0 }) >= 0 {
			return fmt.Errorf("page tail past end of file is not zero")
		}
		w.Write(t.MemoryManager().MapsData())
		return nil
	})
}

func runWriteback(k *kernel.Kernel, dir string, w io.Writer) error {
	path := filepath.Join(dir, "shared")
	if err := os.WriteFile(path, bytes.Repeat([]byte{'a'}, 2*hostarch.PageSize), 0644); err != nil {
		return err
	}
	return k.CPU(0).Run(func(ctx context.Context) error {
		t := k.NewTask(ctx)
		defer t.Exit(ctx)
		fd, err := t.Open(ctx, path, unix.O_RDWR)
		if err != nil {
			return err
		}
		addr, err := t.MMap(ctx, fd, 2*hostarch.PageSize, hostarch.ProtRead|hostarch.ProtWrite, int(mm.MapShared), 0)
		if err != nil {
			return fmt.Errorf("mmap: %w", err)
		}
		if !t.HandleUserFault(ctx, addr, mm.StorePageFault) {
			return fmt.Errorf("store fault at %v not resolved", addr)
		}
		if _, err := t.MemoryManager().CopyOut(ctx, addr, []byte("HELLO")); err != nil {
			return err
		}
		w.Write(t.MemoryManager().MapsData())
		if err := t.MUnmap(ctx, addr, hostarch.PageSize); err != nil {
			return fmt.Errorf("munmap: %w", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(data, []byte("HELLOaaa")) {
			return fmt.Errorf("file starts with %q after unmap, want %q", data[:8], "HELLOaaa")
		}
		vmas := t.MemoryManager().VMAs()
		if len(vmas) != 1 || vmas[0].Start != addr+hostarch.PageSize || vmas[0].Offset != hostarch.PageSize {
			return fmt.Errorf("mappings after prefix unmap: %+v", vmas)
		}
		w.Write(t.MemoryManager().MapsData())
		return nil
	})
}

func runCOW(k *kernel.Kernel, _ string, w io.Writer) error {
	return k.CPU(0).Run(func(ctx context.Context) error {
		parent := k.NewTask(ctx)
		defer parent.Exit(ctx)
		if _, err := parent.Sbrk(ctx, hostarch.PageSize); err != nil {
			return fmt.Errorf("sbrk: %w", err)
		}
		if _, err := parent.MemoryManager().CopyOut(ctx, 0, []byte("parent")); err != nil {
			return err
		}
		child, err := parent.Fork(ctx)
		if err != nil {
			return fmt.Errorf("fork: %w", err)
		}
		defer child.Exit(ctx)

		ppte, _ := parent.MemoryManager().PageTable().Lookup(0)
		cpte, _ := child.MemoryManager().PageTable().Lookup(0)
		if ppte.Frame != cpte.Frame {
			return fmt.Errorf("fork copied the page: parent %v, child %v", ppte.Frame, cpte.Frame)
		}
		fmt.Fprintf(w, "after fork: parent %v %v, child %v %v, refcount %d\n", ppte.Frame, ppte.Flags, cpte.Frame, cpte.Flags, k.Allocator.RefCount(ppte.Frame))

		if !child.HandleUserFault(ctx, 0, mm.StorePageFault) {
			return fmt.Errorf("child store fault not resolved")
		}
		if _, err := child.MemoryManager().CopyOut(ctx, 0, []byte("child!")); err != nil {
			return err
		}
		got := make([]byte, len("parent"))
		if _, err := parent.MemoryManager().CopyIn(ctx, 0, got); err != nil {
			return err
		}
		if string(got) != "parent" {
			return fmt.Errorf("parent sees %q after child store, want %q", got, "parent")
		}
		cpte, _ = child.MemoryManager().PageTable().Lookup(0)
		fmt.Fprintf(w, "after child store: child %v %v, parent refcount %d\n", cpte.Frame, cpte.Flags, k.Allocator.RefCount(ppte.Frame))
		return nil
	})
}
