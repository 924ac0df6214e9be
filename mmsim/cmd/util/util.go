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

// Package util groups helpers shared by mmsim commands.
package util

import (
	"fmt"
	"io"
	"os"

	"github.com/hhh476-tian/xv6/pkg/log"
)

// ErrorLogger is where error messages are also written, if set.
var ErrorLogger io.Writer

// Fatalf logs the message to the debug log, to ErrorLogger and to stderr,
// then exits with status 128.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	writeError(msg)
	os.Exit(128)
}

// Errorf logs the message to the debug log, to ErrorLogger and to stderr.
func Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("%s", msg)
	writeError(msg)
}

// Infof logs the message to the debug log and writes it to stdout.
func Infof(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Infof("%s", msg)
	fmt.Fprintln(os.Stdout, msg)
}

func writeError(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	if ErrorLogger != nil {
		fmt.Fprintln(ErrorLogger, msg)
	}
}
