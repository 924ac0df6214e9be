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

// Package config provides basic infrastructure to set configuration settings
// for mmsim. Each setting is registered as a flag and may also be read from a
// TOML file named by --config. Flags given on the command line take
// precedence over the file.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/hhh476-tian/xv6/mmsim/flag"
	"github.com/hhh476-tian/xv6/pkg/hostarch"
	"github.com/hhh476-tian/xv6/pkg/log"
	"github.com/hhh476-tian/xv6/pkg/refs"
)

// MaxCPUs bounds Config.CPUs.
const MaxCPUs = 64

// Config holds configuration that is not part of a scenario's own flags.
//
// Fields tagged with "flag" are populated from the flag of that name. Fields
// tagged with "toml" may be set from the configuration file.
type Config struct {
	// CPUs is the number of simulated CPUs, each with its own free list.
	CPUs int `flag:"cpus" toml:"cpus"`

	// PhysicalMemory is the number of bytes managed by the frame allocator.
	PhysicalMemory uint64 `flag:"physical-memory" toml:"physical_memory"`

	// LogLevel is the minimum level logged: warning, info or debug.
	LogLevel string `flag:"log-level" toml:"log_level"`

	// LogFormat is the format of log lines: text or json.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// DebugLog is the path of a file that log lines are appended to. If
	// empty, logs go to stderr.
	DebugLog string `flag:"debug-log" toml:"debug_log"`

	// AlsoLogToStderr sends log lines to stderr in addition to DebugLog.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// ReferenceLeak sets reference leak check mode.
	ReferenceLeak refs.LeakMode `flag:"ref-leak-mode" toml:"ref_leak_mode"`
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "path to a TOML file with configuration settings. Flags override values in the file.")

	// Machine flags.
	flagSet.Int("cpus", 4, "number of simulated CPUs.")
	flagSet.Uint64("physical-memory", 16<<20, "bytes of physical memory managed by the frame allocator.")

	// Debugging flags.
	flagSet.String("log-level", "info", "minimum log level: warning, info (default) or debug.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.String("debug-log", "", "file path where log lines are appended. Default is stderr.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr in addition to --debug-log.")
	flagSet.Var(leakModePtr(refs.NoLeakChecking), "ref-leak-mode", "sets reference leak check mode: disabled (default), log-names, panic.")
}

func leakModePtr(v refs.LeakMode) *refs.LeakMode {
	return &v
}

// NewFromFlags creates a new Config with values coming from command line
// flags and, if --config is set, from the named file.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	conf.setFromFlags(flagSet, func(string) bool { return true })

	if fl := flagSet.Lookup("config"); fl != nil {
		if path := flag.Get(fl.Value).(string); path != "" {
			md, err := toml.DecodeFile(path, conf)
			if err != nil {
				return nil, fmt.Errorf("reading config file %q: %w", path, err)
			}
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, 0, len(undecoded))
				for _, k := range undecoded {
					keys = append(keys, k.String())
				}
				return nil, fmt.Errorf("config file %q: unknown keys %s", path, strings.Join(keys, ", "))
			}

			// Flags given explicitly win over the file.
			set := make(map[string]bool)
			flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })
			conf.setFromFlags(flagSet, func(name string) bool { return set[name] })
		}
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// setFromFlags copies the value of every flag selected by include into the
// matching field of c.
func (c *Config) setFromFlags(flagSet *flag.FlagSet, include func(name string) bool) {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok || !include(name) {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		obj.Field(i).Set(reflect.ValueOf(flag.Get(fl.Value)))
	}
}

// Validate checks that c describes a machine that can be booted.
func (c *Config) Validate() error {
	if c.CPUs < 1 || c.CPUs > MaxCPUs {
		return fmt.Errorf("cpus must be in [1, %d], got %d", MaxCPUs, c.CPUs)
	}
	if c.PhysicalMemory < hostarch.PageSize {
		return fmt.Errorf("physical-memory must be at least one page (%d bytes), got %d", hostarch.PageSize, c.PhysicalMemory)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	return nil
}

// Level returns the parsed log level. c must have been validated.
func (c *Config) Level() log.Level {
	l, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("unvalidated log level %q", c.LogLevel))
	}
	return l
}

// Log logs every configuration field at info level.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		log.Infof("\t%s: %v", st.Field(i).Name, obj.Field(i).Interface())
	}
}
