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

package context

import "testing"

type ctxKey int

const (
	keyA ctxKey = iota
	keyB
)

func TestWithValue(t *testing.T) {
	ctx := WithValue(Background(), keyA, 1)
	ctx = WithValue(ctx, keyB, "two")
	if got := ctx.Value(keyA); got != 1 {
		t.Errorf("Value(keyA) got %v want 1", got)
	}
	if got := ctx.Value(keyB); got != "two" {
		t.Errorf("Value(keyB) got %v want two", got)
	}
	if got := Background().Value(keyA); got != nil {
		t.Errorf("Background().Value(keyA) got %v want nil", got)
	}
}

func TestBackgroundNeverDone(t *testing.T) {
	ctx := Background()
	if ctx.Done() != nil {
		t.Errorf("Done() got non-nil channel")
	}
	if err := ctx.Err(); err != nil {
		t.Errorf("Err() got %v want nil", err)
	}
}
