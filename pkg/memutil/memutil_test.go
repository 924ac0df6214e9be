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

package memutil

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestMapAnonymous(t *testing.T) {
	size := uintptr(4 * unix.Getpagesize())
	m, err := MapAnonymous(size)
	if err != nil {
		t.Fatalf("MapAnonymous got err %v want nil", err)
	}
	if uintptr(len(m)) != size {
		t.Fatalf("got len %d want %d", len(m), size)
	}
	for i, b := range m {
		if b != 0 {
			t.Fatalf("byte %d got %#x want 0", i, b)
		}
	}
	m[0] = 0xaa
	m[len(m)-1] = 0xbb
	if m[0] != 0xaa || m[len(m)-1] != 0xbb {
		t.Errorf("writes did not stick")
	}
	if err := UnmapSlice(m); err != nil {
		t.Errorf("UnmapSlice got err %v want nil", err)
	}
}

func TestMapAnonymousBadSize(t *testing.T) {
	for _, size := range []uintptr{0, 1, uintptr(unix.Getpagesize()) + 1} {
		if _, err := MapAnonymous(size); err == nil {
			t.Errorf("MapAnonymous(%d) got err nil want failure", size)
		}
	}
}
