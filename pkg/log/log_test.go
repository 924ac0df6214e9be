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

package log

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write got err %v want nil", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write got err nil want failure")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write got err nil want failure")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write got err %v want nil", err)
	}

	want := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestWriterAppendsNewline(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	w.Write([]byte("no newline"))
	want := []string{"no newline", "\n"}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestGoogleEmitter(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.May, 3, 4, 5, 6, 7000, time.UTC)
	e.Emit(0, Warning, ts, "frame %d", 7)
	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines want 1: %v", len(tw.lines), tw.lines)
	}
	got := tw.lines[0]
	if !strings.HasPrefix(got, "W0503 04:05:06.000007 ") {
		t.Errorf("got header %q", got)
	}
	if !strings.HasSuffix(got, "] frame 7\n") {
		t.Errorf("got message %q", got)
	}
}

func TestLevelFiltering(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}
	l.Debugf("hidden")
	l.Infof("shown")
	l.SetLevel(Debug)
	l.Debugf("now shown")
	want := []string{"shown", "\n", "now shown", "\n"}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestRateLimitedLogger(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Warning, Emitter: &Writer{Next: tw}}
	rl := RateLimitedLogger(l, time.Hour)
	for i := 0; i < 10; i++ {
		rl.Warningf("kill %d\n", i)
	}
	if diff := cmp.Diff([]string{"kill 0\n"}, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestRateLimitedLoggerReportsSuppressed(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Warning, Emitter: &Writer{Next: tw}}
	rl := RateLimitedLogger(l, time.Hour).(*rateLimitedLogger)
	rl.Warningf("first")
	rl.Warningf("dropped")
	rl.Warningf("dropped")
	rl.limit.SetLimit(rate.Inf)
	rl.Warningf("again")
	want := []string{"first", "\n", "again (2 similar messages suppressed)", "\n"}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "warning", want: Warning},
		{in: "info", want: Info},
		{in: "debug", want: Debug},
		{in: "verbose", wantErr: true},
	} {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) got err %v, wantErr %t", tc.in, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("ParseLevel(%q) got %v want %v", tc.in, got, tc.want)
		}
	}
}
