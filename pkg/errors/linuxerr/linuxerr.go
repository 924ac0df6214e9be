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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comperable
// to unix.Errno constants.
package linuxerr

import (
	"golang.org/x/sys/unix"

	"github.com/hhh476-tian/xv6/pkg/errors"
)

// The following errors are semantically identical to Errno of type
// unix.Errno. However, since the type are distinct (these are *errors.Error),
// they are not directly comperable. The Errno method returns an Errno number
// such that the error can be compared to unix.Errno (e.g.
// EPERM.Errno() == unix.EPERM is true).
var (
	noError *errors.Error = nil
	EPERM                 = errors.New(unix.EPERM, "operation not permitted")
	ENOENT                = errors.New(unix.ENOENT, "no such file or directory")
	EIO                   = errors.New(unix.EIO, "I/O error")
	EBADF                 = errors.New(unix.EBADF, "bad file number")
	EAGAIN                = errors.New(unix.EAGAIN, "try again")
	ENOMEM                = errors.New(unix.ENOMEM, "out of memory")
	EACCES                = errors.New(unix.EACCES, "permission denied")
	EFAULT                = errors.New(unix.EFAULT, "bad address")
	EEXIST                = errors.New(unix.EEXIST, "file exists")
	ENODEV                = errors.New(unix.ENODEV, "no such device")
	EINVAL                = errors.New(unix.EINVAL, "invalid argument")
	ENFILE                = errors.New(unix.ENFILE, "file table overflow")
	EMFILE                = errors.New(unix.EMFILE, "too many open files")
	ESRCH                 = errors.New(unix.ESRCH, "no such process")
)

// errorMap translates host errnos returned by the file collaborator.
var errorMap = map[unix.Errno]*errors.Error{
	unix.EPERM:  EPERM,
	unix.ENOENT: ENOENT,
	unix.EIO:    EIO,
	unix.EBADF:  EBADF,
	unix.EAGAIN: EAGAIN,
	unix.ENOMEM: ENOMEM,
	unix.EACCES: EACCES,
	unix.EFAULT: EFAULT,
	unix.EEXIST: EEXIST,
	unix.ENODEV: ENODEV,
	unix.EINVAL: EINVAL,
	unix.ENFILE: ENFILE,
	unix.EMFILE: EMFILE,
	unix.ESRCH:  ESRCH,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno. Errnos without a
// registered *errors.Error are returned unchanged.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if e, ok := errorMap[err]; ok {
		return e
	}
	return err
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	return unixErr
}

// Equals compars a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	if err == nil {
		err = noError
	}
	return e == err || unixErr == err
}

// ReturnValue converts err to the value a system call returns to user space:
// 0 on success, or the negated errno.
func ReturnValue(err error) int64 {
	if err == nil {
		return 0
	}
	switch e := err.(type) {
	case *errors.Error:
		return -int64(e.Errno())
	case unix.Errno:
		return -int64(e)
	default:
		return -int64(unix.EINVAL)
	}
}
