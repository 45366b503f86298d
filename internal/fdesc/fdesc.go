// Package fdesc provides an owning handle around a raw OS file descriptor.
//
// An FD owns at most one descriptor at a time. Ownership moves with the
// handle: passing an FD around is done by pointer, and Release transfers the
// raw value out without closing it. Close is idempotent and closes an owned
// descriptor exactly once.
package fdesc

import (
	"golang.org/x/sys/unix"
)

// FD owns at most one raw file descriptor. The zero value owns nothing.
// A defined FD must not be copied; pass *FD and move ownership with
// Release or Reset.
type FD struct {
	fd      int
	defined bool
}

// New returns an FD owning the given raw descriptor.
func New(fd int) FD {
	return FD{fd: fd, defined: true}
}

// Defined reports whether the handle currently owns a descriptor.
func (f *FD) Defined() bool {
	return f.defined
}

// Raw returns the owned descriptor value without transferring ownership.
// Returns -1 if the handle owns nothing.
func (f *FD) Raw() int {
	if !f.defined {
		return -1
	}
	return f.fd
}

// Release disowns the descriptor and returns its raw value without closing
// it. The caller becomes responsible for the descriptor. Returns -1 if the
// handle owns nothing.
func (f *FD) Release() int {
	if !f.defined {
		return -1
	}
	fd := f.fd
	f.fd = -1
	f.defined = false
	return fd
}

// Reset closes any currently owned descriptor and takes ownership of fd.
func (f *FD) Reset(fd int) {
	f.Close()
	f.fd = fd
	f.defined = true
}

// Close closes the owned descriptor, if any. Safe to call multiple times;
// close errors are discarded.
func (f *FD) Close() {
	if !f.defined {
		return
	}
	_ = unix.Close(f.fd)
	f.fd = -1
	f.defined = false
}
