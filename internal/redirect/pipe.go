package redirect

import (
	"syscall"

	"github.com/bpicori/stdpipe/internal/fdesc"
	"golang.org/x/sys/unix"
)

// Pipe is the parent-side half of a pipe-backed redirection: the local ends
// of the 1-3 pipes whose remote ends were handed to the child's Triple. It
// drives one Transact call and owns its descriptors until then.
type Pipe struct {
	in  fdesc.FD // write end of the child's stdin pipe
	out fdesc.FD // read end of the child's stdout pipe
	err fdesc.FD // read end of the child's stderr pipe

	combineOutErr bool
	ops           streamOps
}

// NewPipe allocates the pipe pairs for a child whose stdio goes through
// remote. The local ends are retained in the returned Pipe, marked
// close-on-exec and non-blocking; the remote ends are moved into remote.
//
// A stderr pipe is created only when combineOutErr is false; otherwise
// remote's combine flag is set and Redirect duplicates stdout onto slot 2.
// With enableIn false the child's stdin is wired to /dev/null so it observes
// immediate end-of-input.
//
// On failure everything opened so far, on both sides, is closed and the
// partially built Pipe must not be used.
func NewPipe(remote *Triple, combineOutErr, enableIn bool) (*Pipe, error) {
	p := &Pipe{ops: sysOps{}}

	fail := func(err error) (*Pipe, error) {
		p.Close()
		remote.Close()
		return nil, err
	}

	// stdout
	local, remoteFD, err := makePipe(localReadEnd)
	if err != nil {
		return fail(err)
	}
	p.out.Reset(local)
	remote.Out.Reset(remoteFD)

	// stderr
	p.combineOutErr = combineOutErr
	remote.CombineOutErr = combineOutErr
	if !combineOutErr {
		local, remoteFD, err = makePipe(localReadEnd)
		if err != nil {
			return fail(err)
		}
		p.err.Reset(local)
		remote.Err.Reset(remoteFD)
	}

	// stdin
	if enableIn {
		local, remoteFD, err = makePipe(localWriteEnd)
		if err != nil {
			return fail(err)
		}
		p.in.Reset(local)
		remote.In.Reset(remoteFD)
	} else {
		fd, err := unix.Open("/dev/null", unix.O_RDONLY, 0)
		if err != nil {
			return fail(&SetupError{Op: "error opening /dev/null", Err: err})
		}
		remote.In.Reset(fd)
	}

	return p, nil
}

// Close releases any local ends not yet consumed by Transact. Idempotent.
func (p *Pipe) Close() {
	p.in.Close()
	p.out.Close()
	p.err.Close()
}

const (
	localReadEnd  = 0
	localWriteEnd = 1
)

// makePipe creates one pipe pair and returns (local, remote) where the local
// end is the indicated side, already marked close-on-exec and non-blocking.
// The remote end keeps default flags so the child inherits it across exec.
// ForkLock guards the window between pipe creation and the cloexec mark.
func makePipe(localEnd int) (int, int, error) {
	var fds [2]int

	syscall.ForkLock.RLock()
	defer syscall.ForkLock.RUnlock()

	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, &SetupError{Op: "error creating pipe", Err: err}
	}
	local, remote := fds[localEnd], fds[1-localEnd]

	if _, err := unix.FcntlInt(uintptr(local), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(local)
		unix.Close(remote)
		return -1, -1, &SetupError{Op: "error setting FD_CLOEXEC on pipe", Err: err}
	}
	if err := unix.SetNonblock(local, true); err != nil {
		unix.Close(local)
		unix.Close(remote)
		return -1, -1, &SetupError{Op: "error setting O_NONBLOCK on pipe", Err: err}
	}

	return local, remote, nil
}
