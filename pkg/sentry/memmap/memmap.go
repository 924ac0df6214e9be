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

// Package memmap defines semantics for memory mappings.
package memmap

import (
	"github.com/hhh476-tian/xv6/pkg/context"
)

// File is an open file that may back a memory mapping.
//
// A mapping holds a reference on its File for as long as the mapping exists.
type File interface {
	// IncRef adds a reference.
	IncRef()

	// DecRef drops a reference. The file is closed when the last reference
	// is dropped.
	DecRef(ctx context.Context)

	// Readable returns true if the file was opened for reading.
	Readable() bool

	// Writable returns true if the file was opened for writing.
	Writable() bool

	// Regular returns true if the file is a regular file. Only regular files
	// may be mapped.
	Regular() bool

	// ReadAt reads up to len(dst) bytes starting at file offset off. It
	// returns the number of bytes read; a short count with a nil error means
	// the end of the file was reached.
	ReadAt(ctx context.Context, dst []byte, off int64) (int, error)

	// WriteBack writes src to the file at offset off.
	WriteBack(ctx context.Context, src []byte, off int64) (int, error)
}
