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

package pagetables

import (
	"strings"

	"github.com/hhh476-tian/xv6/pkg/hostarch"
	"github.com/hhh476-tian/xv6/pkg/sentry/pgalloc"
)

// Flags are the permission and status bits of a page table entry. The layout
// follows the RISC-V Sv39 leaf PTE.
type Flags uint64

// PTE bits.
const (
	// Valid marks an entry that translates.
	Valid Flags = 1 << 0
	// Readable marks a page readable.
	Readable Flags = 1 << 1
	// Writable marks a page writable.
	Writable Flags = 1 << 2
	// Executable marks a page executable.
	Executable Flags = 1 << 3
	// User marks a page accessible from user mode.
	User Flags = 1 << 4
	// Accessed is set on any access.
	Accessed Flags = 1 << 6
	// Dirty is set on a write.
	Dirty Flags = 1 << 7
	// CopyOnWrite marks a page whose frame is shared and must be duplicated
	// before it is written. It uses a bit reserved for software.
	CopyOnWrite Flags = 1 << 8
)

// FlagsFromAccess returns the R, W and X bits that grant at.
func FlagsFromAccess(at hostarch.AccessType) Flags {
	return Flags(at.Prot()) << 1
}

// Has returns true if every bit of want is set in f.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

// Permits returns true if a page with flags f may be accessed with at from
// user mode.
func (f Flags) Permits(at hostarch.AccessType) bool {
	if !f.Has(Valid | User) {
		return false
	}
	return f.Has(FlagsFromAccess(at))
}

// String implements fmt.Stringer.String. Unset bits print as '-'.
func (f Flags) String() string {
	var b strings.Builder
	for _, bit := range []struct {
		flag Flags
		c    byte
	}{
		{Valid, 'v'},
		{Readable, 'r'},
		{Writable, 'w'},
		{Executable, 'x'},
		{User, 'u'},
		{Accessed, 'a'},
		{Dirty, 'd'},
		{CopyOnWrite, 'c'},
	} {
		if f.Has(bit.flag) {
			b.WriteByte(bit.c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// PTE is a leaf page table entry.
type PTE struct {
	// Frame is the physical frame the page translates to.
	Frame pgalloc.Frame

	// Flags are the entry's permission and status bits.
	Flags Flags
}

// Valid returns true if the entry translates.
func (p PTE) Valid() bool {
	return p.Flags.Has(Valid)
}
