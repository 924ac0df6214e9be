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

	"github.com/hhh476-tian/xv6/pkg/log"
	"github.com/hhh476-tian/xv6/pkg/sync"
)

var (
	// liveObjects holds every registered object that has not been destroyed.
	// Objects are only inserted while leak checking is enabled.
	liveObjectsMu sync.Mutex
	liveObjects   = make(map[CheckedObject]struct{})
)

// CheckedObject is a reference-counted object that the leak checker can
// describe.
type CheckedObject interface {
	// RefType is the type of the reference-counted object.
	RefType() string

	// LeakMessage supplies a warning to be printed upon leak detection.
	LeakMessage() string
}

// LeakCheckEnabled returns whether leak checking is enabled.
func LeakCheckEnabled() bool {
	return GetLeakMode() != NoLeakChecking
}

// Register adds obj to the live object map.
func Register(obj CheckedObject) {
	if !LeakCheckEnabled() {
		return
	}
	liveObjectsMu.Lock()
	defer liveObjectsMu.Unlock()
	if _, ok := liveObjects[obj]; ok {
		panic(fmt.Sprintf("Unexpected entry in leak checking map: reference %p already added", obj))
	}
	liveObjects[obj] = struct{}{}
}

// Unregister removes obj from the live object map. Objects created before
// leak checking was enabled are ignored.
func Unregister(obj CheckedObject) {
	if !LeakCheckEnabled() {
		return
	}
	liveObjectsMu.Lock()
	defer liveObjectsMu.Unlock()
	delete(liveObjects, obj)
}

// checkOnce makes sure that leak checking is only done once.
var checkOnce sync.Once

// DoLeakCheck reports every object still in the live object map. It should
// be called when no reference-counted objects are reachable anymore, at
// which point anything left in the map is a leak. Only the first call
// checks.
func DoLeakCheck() {
	if LeakCheckEnabled() {
		checkOnce.Do(func() { DoRepeatedLeakCheck() })
	}
}

// DoRepeatedLeakCheck is like DoLeakCheck but checks on every call. It
// returns the number of leaked objects.
func DoRepeatedLeakCheck() int {
	if !LeakCheckEnabled() {
		return 0
	}
	liveObjectsMu.Lock()
	leaked := make([]string, 0, len(liveObjects))
	for obj := range liveObjects {
		leaked = append(leaked, obj.LeakMessage())
	}
	liveObjectsMu.Unlock()
	if len(leaked) == 0 {
		return 0
	}

	msg := fmt.Sprintf("Leak checking detected %d leaked objects:\n%s", len(leaked), strings.Join(leaked, "\n"))
	if GetLeakMode() == LeaksPanic {
		panic(msg)
	}
	log.Warningf("%s", msg)
	return len(leaked)
}
