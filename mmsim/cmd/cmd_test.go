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
	"strings"
	"testing"

	"github.com/hhh476-tian/xv6/mmsim/config"
	"github.com/hhh476-tian/xv6/pkg/context/contexttest"
	"github.com/hhh476-tian/xv6/pkg/hostarch"
	"github.com/hhh476-tian/xv6/pkg/metric"
	"github.com/hhh476-tian/xv6/pkg/sentry/kernel"
)

func testConfig(cpus int, pages uint64) *config.Config {
	return &config.Config{
		CPUs:           cpus,
		PhysicalMemory: pages * hostarch.PageSize,
		LogLevel:       "debug",
		LogFormat:      "text",
	}
}

func testKernel(t *testing.T, cpus int, pages uint64) *kernel.Kernel {
	t.Helper()
	k, err := bootKernel(contexttest.Context(t), testConfig(cpus, pages))
	if err != nil {
		t.Fatalf("bootKernel got err %v want nil", err)
	}
	t.Cleanup(k.Destroy)
	return k
}

func TestScenarios(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := runScenario(contexttest.Context(t), testConfig(2, 32), sc, &out); err != nil {
				t.Fatalf("scenario %s got err %v want nil", sc.name, err)
			}
			t.Logf("output:\n%s", out.String())
		})
	}
}

func TestSelectScenarios(t *testing.T) {
	all, err := selectScenarios("")
	if err != nil || len(all) != len(scenarios) {
		t.Errorf("selectScenarios(\"\") got (%d scenarios, %v) want (%d, nil)", len(all), err, len(scenarios))
	}
	two, err := selectScenarios("cow,demand")
	if err != nil {
		t.Fatalf("selectScenarios got err %v want nil", err)
	}
	if len(two) != 2 || two[0].name != "cow" || two[1].name != "demand" {
		t.Errorf("selectScenarios(\"cow,demand\") got %v", two)
	}
	if _, err := selectScenarios("cow,swap"); err == nil {
		t.Errorf("selectScenarios with unknown name got nil err")
	}
}

func TestStress(t *testing.T) {
	k := testKernel(t, 4, 64)
	res, err := runStress(k, 200, 8)
	if err != nil {
		t.Fatalf("runStress got err %v want nil", err)
	}
	if want := uint64(4 * 200 * 8); res.allocations != want || res.exhausted != 0 {
		t.Errorf("runStress got %+v want %d allocations and no exhaustion", res, want)
	}
}

func TestStressExhausted(t *testing.T) {
	// Eight frames shared by four CPUs that each want eight.
	k := testKernel(t, 4, 8)
	res, err := runStress(k, 50, 8)
	if err != nil {
		t.Fatalf("runStress got err %v want nil", err)
	}
	if res.allocations == 0 {
		t.Errorf("runStress made no allocations")
	}
}

func TestStats(t *testing.T) {
	k := testKernel(t, 2, 32)
	before := metric.Snapshot()["/memory/faults"]["cow"]
	if err := runWorkload(k); err != nil {
		t.Fatalf("runWorkload got err %v want nil", err)
	}
	if got := metric.Snapshot()["/memory/faults"]["cow"] - before; got != 4 {
		t.Errorf("cow faults got %d want 4", got)
	}
	var out bytes.Buffer
	if err := writeStats(&out, k); err != nil {
		t.Fatalf("writeStats got err %v want nil", err)
	}
	for _, want := range []string{
		"# cpu0 free bytes: ",
		"# total free bytes: 131072",
		`xv6_memory_faults{kind="cow"}`,
		"xv6_memory_frames_allocated",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("stats output missing %q:\n%s", want, out.String())
		}
	}
}
