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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hhh476-tian/xv6/mmsim/flag"
	"github.com/hhh476-tian/xv6/pkg/log"
	"github.com/hhh476-tian/xv6/pkg/refs"
)

func newTestFlags(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse(args); err != nil {
		t.Fatalf("Parse(%v) got err %v want nil", args, err)
	}
	return testFlags
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mmsim.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile got err %v want nil", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		CPUs:           4,
		PhysicalMemory: 16 << 20,
		LogLevel:       "info",
		LogFormat:      "text",
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}
	if got := c.Level(); got != log.Info {
		t.Errorf("Level got %v want %v", got, log.Info)
	}
}

func TestFromFlags(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t, "--cpus=2", "--physical-memory=65536", "--log-level=debug", "--log-format=json", "--alsologtostderr", "--ref-leak-mode=panic"))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		CPUs:            2,
		PhysicalMemory:  65536,
		LogLevel:        "debug",
		LogFormat:       "json",
		AlsoLogToStderr: true,
		ReferenceLeak:   refs.LeaksPanic,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFile(t *testing.T) {
	path := writeConfigFile(t, `
cpus = 8
physical_memory = 1048576
log_level = "warning"
debug_log = "/tmp/mmsim.log"
ref_leak_mode = "log-names"
`)
	c, err := NewFromFlags(newTestFlags(t, "--config="+path))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		CPUs:           8,
		PhysicalMemory: 1 << 20,
		LogLevel:       "warning",
		LogFormat:      "text",
		DebugLog:       "/tmp/mmsim.log",
		ReferenceLeak:  refs.LeaksLogWarning,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfigFile(t, "cpus = 8\nlog_level = \"warning\"\n")
	c, err := NewFromFlags(newTestFlags(t, "--config="+path, "--cpus=3"))
	if err != nil {
		t.Fatal(err)
	}
	if c.CPUs != 3 {
		t.Errorf("CPUs got %d want 3", c.CPUs)
	}
	if c.LogLevel != "warning" {
		t.Errorf("LogLevel got %q want %q", c.LogLevel, "warning")
	}
}

func TestFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		want     string
	}{
		{name: "unknown key", contents: "cpus = 2\nswap = true\n", want: "unknown keys swap"},
		{name: "bad syntax", contents: "cpus = \n", want: "reading config file"},
		{name: "wrong type", contents: "cpus = \"two\"\n", want: "reading config file"},
		{name: "bad leak mode", contents: "ref_leak_mode = \"always\"\n", want: "invalid ref leak mode"},
		{name: "invalid value", contents: "log_format = \"xml\"\n", want: "invalid log format"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.contents)
			_, err := NewFromFlags(newTestFlags(t, "--config="+path))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("NewFromFlags got err %v want error containing %q", err, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := Config{CPUs: 1, PhysicalMemory: 4096, LogLevel: "info", LogFormat: "text"}
	for _, tc := range []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero CPUs", mutate: func(c *Config) { c.CPUs = 0 }, wantErr: true},
		{name: "too many CPUs", mutate: func(c *Config) { c.CPUs = MaxCPUs + 1 }, wantErr: true},
		{name: "max CPUs", mutate: func(c *Config) { c.CPUs = MaxCPUs }},
		{name: "less than a page", mutate: func(c *Config) { c.PhysicalMemory = 4095 }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.LogLevel = "trace" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.LogFormat = "json-k8s" }, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := valid
			tc.mutate(&c)
			if err := c.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate got err %v, wantErr %t", err, tc.wantErr)
			}
		})
	}
}
