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

// Package flag wraps Go's flag package.
package flag

import (
	"flag"
)

// Aliases for types and functions used by mmsim.
type (
	Flag    = flag.Flag
	FlagSet = flag.FlagSet
	Value   = flag.Value
)

var (
	Bool        = flag.Bool
	CommandLine = flag.CommandLine
	Int         = flag.Int
	Lookup      = flag.Lookup
	NewFlagSet  = flag.NewFlagSet
	Parse       = flag.Parse
	String      = flag.String
)

// Error handling modes.
const (
	ContinueOnError = flag.ContinueOnError
	ExitOnError     = flag.ExitOnError
)

// Get returns the value held by v. v must implement flag.Getter, which all
// flags created by FlagSet do.
func Get(v Value) any {
	return v.(flag.Getter).Get()
}
