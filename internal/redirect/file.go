package redirect

import (
	"github.com/bpicori/stdpipe/internal/fdesc"
	"golang.org/x/sys/unix"
)

// Open flag shortcuts for the stdout/stderr file.
const (
	FlagsOverwrite    = unix.O_CREAT | unix.O_WRONLY | unix.O_TRUNC
	FlagsAppend       = unix.O_CREAT | unix.O_WRONLY | unix.O_APPEND
	FlagsMustNotExist = unix.O_CREAT | unix.O_WRONLY | unix.O_EXCL
)

// Permission mode shortcuts for the stdout/stderr file.
const (
	ModeAll       uint32 = 0o777
	ModeUserGroup uint32 = 0o660
	ModeUser      uint32 = 0o600
)

// NewFile builds a Triple backed by plain files: stdin read-only from inPath
// (skipped when empty, leaving the slot to be inherited), stdout from
// outPath opened with the given flags and mode. With combine set the child's
// stderr is folded into the stdout file during Redirect.
func NewFile(inPath, outPath string, outFlags int, outMode uint32, combine bool) (*Triple, error) {
	t := &Triple{CombineOutErr: combine}

	if inPath != "" {
		if err := openInput(t, inPath); err != nil {
			return nil, err
		}
	}
	if err := openOutput(t, outPath, outFlags, outMode); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// NewFileErr is NewFile with a separate stderr file.
func NewFileErr(inPath, outPath, errPath string, outFlags int, outMode uint32) (*Triple, error) {
	t, err := NewFile(inPath, outPath, outFlags, outMode, false)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(errPath, outFlags, outMode)
	if err != nil {
		t.Close()
		return nil, &SetupError{Op: "error opening output file", Path: errPath, Err: err}
	}
	t.Err.Reset(fd)
	return t, nil
}

// NewTemp builds a Triple whose stdout slot is adopted from an already-open
// temporary file descriptor instead of a path. Ownership of stdout moves
// into the Triple.
func NewTemp(inPath string, stdout *fdesc.FD, combine bool) (*Triple, error) {
	t := &Triple{CombineOutErr: combine}
	if err := openInput(t, inPath); err != nil {
		return nil, err
	}
	t.Out.Reset(stdout.Release())
	return t, nil
}

// NewTempErr is NewTemp with separate stdout and stderr temp descriptors.
func NewTempErr(inPath string, stdout, stderr *fdesc.FD) (*Triple, error) {
	t := &Triple{}
	if err := openInput(t, inPath); err != nil {
		return nil, err
	}
	t.Out.Reset(stdout.Release())
	t.Err.Reset(stderr.Release())
	return t, nil
}

func openInput(t *Triple, path string) error {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return &SetupError{Op: "error opening input file", Path: path, Err: err}
	}
	t.In.Reset(fd)
	return nil
}

func openOutput(t *Triple, path string, flags int, mode uint32) error {
	fd, err := unix.Open(path, flags, mode)
	if err != nil {
		return &SetupError{Op: "error opening output file", Path: path, Err: err}
	}
	t.Out.Reset(fd)
	return nil
}
