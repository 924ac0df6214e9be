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

package refs

import (
	"fmt"
	"strings"
	"testing"
)

type leakyObject struct {
	AtomicRefCount
	name string
}

func (o *leakyObject) RefType() string { return "leakyObject" }

func (o *leakyObject) LeakMessage() string {
	return fmt.Sprintf("%s: %d references remaining", o.name, o.ReadRefs())
}

func withLeakMode(t *testing.T, mode LeakMode) {
	t.Helper()
	old := GetLeakMode()
	SetLeakMode(mode)
	t.Cleanup(func() { SetLeakMode(old) })
}

func TestLeakModeFlag(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want LeakMode
	}{
		{in: "disabled", want: NoLeakChecking},
		{in: "log-names", want: LeaksLogWarning},
		{in: "panic", want: LeaksPanic},
	} {
		var m LeakMode
		if err := m.Set(tc.in); err != nil {
			t.Fatalf("Set(%q) got err %v want nil", tc.in, err)
		}
		if m != tc.want {
			t.Errorf("Set(%q) got %v want %v", tc.in, m, tc.want)
		}
		if got := m.String(); got != tc.in {
			t.Errorf("String() got %q want %q", got, tc.in)
		}
	}
	var m LeakMode
	if err := m.UnmarshalText([]byte("log-traces")); err == nil {
		t.Errorf("UnmarshalText(log-traces) got nil err want error")
	}
}

func TestLeakCheckDisabledIgnoresObjects(t *testing.T) {
	withLeakMode(t, NoLeakChecking)
	Register(&leakyObject{name: "ignored"})
	if n := DoRepeatedLeakCheck(); n != 0 {
		t.Errorf("DoRepeatedLeakCheck got %d leaks want 0", n)
	}
}

func TestLeakCheckReportsLiveObjects(t *testing.T) {
	withLeakMode(t, LeaksLogWarning)
	a := &leakyObject{name: "a"}
	b := &leakyObject{name: "b"}
	Register(a)
	Register(b)
	Unregister(a)
	if n := DoRepeatedLeakCheck(); n != 1 {
		t.Errorf("DoRepeatedLeakCheck got %d leaks want 1", n)
	}
	Unregister(b)
	if n := DoRepeatedLeakCheck(); n != 0 {
		t.Errorf("DoRepeatedLeakCheck after Unregister got %d leaks want 0", n)
	}
}

func TestLeakCheckPanics(t *testing.T) {
	withLeakMode(t, LeaksPanic)
	o := &leakyObject{name: "frame"}
	Register(o)
	defer Unregister(o)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("DoRepeatedLeakCheck did not panic")
		}
		if msg := fmt.Sprint(r); !strings.Contains(msg, "frame: 1 references remaining") {
			t.Errorf("panic message %q does not name the leaked object", msg)
		}
	}()
	DoRepeatedLeakCheck()
}

func TestRegisterTwicePanics(t *testing.T) {
	withLeakMode(t, LeaksLogWarning)
	o := &leakyObject{name: "dup"}
	Register(o)
	defer Unregister(o)
	defer func() {
		if recover() == nil {
			t.Errorf("second Register did not panic")
		}
	}()
	Register(o)
}
