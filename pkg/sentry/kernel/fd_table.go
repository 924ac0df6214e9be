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

package kernel

import (
	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/errors/linuxerr"
	"github.com/hhh476-tian/xv6/pkg/sentry/memmap"
	"github.com/hhh476-tian/xv6/pkg/sync"
)

// NOFILE is the number of descriptors a task may hold open.
const NOFILE = 16

// FDTable maps file descriptors to files. Each occupied slot holds one
// reference on its file.
type FDTable struct {
	mu sync.Mutex

	// +checklocks:mu
	files [NOFILE]memmap.File
}

// NewFD installs file in the lowest free slot, taking ownership of the
// caller's reference.
func (f *FDTable) NewFD(file memmap.File) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for fd := range f.files {
		if f.files[fd] == nil {
			f.files[fd] = file
			return int32(fd), nil
		}
	}
	return -1, linuxerr.EMFILE
}

// Get returns the file at fd. No reference is taken.
func (f *FDTable) Get(fd int32) (memmap.File, error) {
	if fd < 0 || fd >= NOFILE {
		return nil, linuxerr.EBADF
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files[fd] == nil {
		return nil, linuxerr.EBADF
	}
	return f.files[fd], nil
}

// Remove closes fd.
func (f *FDTable) Remove(ctx context.Context, fd int32) error {
	if fd < 0 || fd >= NOFILE {
		return linuxerr.EBADF
	}
	f.mu.Lock()
	file := f.files[fd]
	f.files[fd] = nil
	f.mu.Unlock()
	if file == nil {
		return linuxerr.EBADF
	}
	file.DecRef(ctx)
	return nil
}

// RemoveAll closes every descriptor.
func (f *FDTable) RemoveAll(ctx context.Context) {
	f.mu.Lock()
	files := f.files
	f.files = [NOFILE]memmap.File{}
	f.mu.Unlock()
	for _, file := range files {
		if file != nil {
			file.DecRef(ctx)
		}
	}
}

// Fork returns a copy of f sharing its files.
func (f *FDTable) Fork() *FDTable {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := &FDTable{}
	for fd, file := range f.files {
		if file != nil {
			file.IncRef()
			clone.files[fd] = file
		}
	}
	return clone
}

// Len returns the number of open descriptors.
func (f *FDTable) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, file := range f.files {
		if file != nil {
			n++
		}
	}
	return n
}
