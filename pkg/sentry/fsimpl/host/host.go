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

// Package host provides memory-mappable files backed by host file
// descriptors.
package host

import (
	"fmt"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/hhh476-tian/xv6/pkg/context"
	"github.com/hhh476-tian/xv6/pkg/errors/linuxerr"
	"github.com/hhh476-tian/xv6/pkg/log"
	"github.com/hhh476-tian/xv6/pkg/refs"
	"github.com/hhh476-tian/xv6/pkg/sentry/memmap"
)

// File is an open host file.
type File struct {
	refs.AtomicRefCount

	// fd is the host file descriptor. It is immutable until the last
	// reference is dropped.
	fd int

	// path is the host path the file was opened with.
	path string

	readable bool
	writable bool
	regular  bool

	// lock serializes write-back among all users of path, including other
	// processes.
	lock *flock.Flock
}

var (
	_ memmap.File        = (*File)(nil)
	_ refs.CheckedObject = (*File)(nil)
)

// Open opens the host file at path. flags are open(2) flags; only the access
// mode bits affect Readable and Writable.
func Open(path string, flags int) (*File, error) {
	fd, err := unix.Open(path, flags|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	f, err := NewFromFD(fd, path, flags)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return f, nil
}

// NewFromFD returns a File that takes ownership of fd. flags are the open(2)
// flags fd was opened with.
func NewFromFD(fd int, path string, flags int) (*File, error) {
	var s unix.Stat_t
	if err := unix.Fstat(fd, &s); err != nil {
		return nil, fmt.Errorf("fstat(%d): %w", fd, err)
	}
	mode := flags & unix.O_ACCMODE
	f := &File{
		fd:       fd,
		path:     path,
		readable: mode == unix.O_RDONLY || mode == unix.O_RDWR,
		writable: mode == unix.O_WRONLY || mode == unix.O_RDWR,
		regular:  s.Mode&unix.S_IFMT == unix.S_IFREG,
		lock:     flock.New(path),
	}
	refs.Register(f)
	return f, nil
}

// FD returns the host file descriptor.
func (f *File) FD() int {
	return f.fd
}

// Path returns the host path.
func (f *File) Path() string {
	return f.path
}

// DecRef implements memmap.File.DecRef.
func (f *File) DecRef(ctx context.Context) {
	f.DecRefWithDestructor(ctx, f.destroy)
}

func (f *File) destroy(ctx context.Context) {
	if err := unix.Close(f.fd); err != nil {
		ctx.Warningf("host: closing fd %d for %q: %v", f.fd, f.path, err)
	}
	f.fd = -1
	refs.Unregister(f)
}

// RefType implements refs.CheckedObject.RefType.
func (f *File) RefType() string {
	return "host.File"
}

// LeakMessage implements refs.CheckedObject.LeakMessage.
func (f *File) LeakMessage() string {
	return fmt.Sprintf("[host.File %p] %q (fd %d): %d references remaining", f, f.path, f.fd, f.ReadRefs())
}

// Readable implements memmap.File.Readable.
func (f *File) Readable() bool {
	return f.readable
}

// Writable implements memmap.File.Writable.
func (f *File) Writable() bool {
	return f.writable
}

// Regular implements memmap.File.Regular.
func (f *File) Regular() bool {
	return f.regular
}

// ReadAt implements memmap.File.ReadAt.
func (f *File) ReadAt(ctx context.Context, dst []byte, off int64) (int, error) {
	if !f.readable {
		return 0, linuxerr.EBADF
	}
	done := 0
	for done < len(dst) {
		n, err := unix.Pread(f.fd, dst[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, linuxerr.ErrorFromUnix(err.(unix.Errno))
		}
		if n == 0 {
			break
		}
		done += n
	}
	return done, nil
}

// WriteBack implements memmap.File.WriteBack.
func (f *File) WriteBack(ctx context.Context, src []byte, off int64) (int, error) {
	if !f.writable {
		return 0, linuxerr.EBADF
	}
	if err := f.lock.Lock(); err != nil {
		return 0, fmt.Errorf("locking %q: %w", f.path, err)
	}
	defer func() {
		if err := f.lock.Unlock(); err != nil {
			log.Warningf("host: unlocking %q: %v", f.path, err)
		}
	}()

	done := 0
	for done < len(src) {
		n, err := unix.Pwrite(f.fd, src[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, linuxerr.ErrorFromUnix(err.(unix.Errno))
		}
		done += n
	}
	ctx.Debugf("host: wrote back %d bytes to %q at %#x", done, f.path, off)
	return done, nil
}
