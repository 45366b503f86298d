package redirect

import (
	"github.com/bpicori/stdpipe/internal/fdesc"
	"golang.org/x/sys/unix"
)

// chunkSize bounds every individual read and write issued by the engine.
const chunkSize = 2048

// InOut is one transaction: In is sent to the child's stdin, Out and Err
// collect everything the child writes to stdout and stderr. Out and Err are
// final only after Transact returns.
type InOut struct {
	In  []byte
	Out []byte
	Err []byte
}

// Transact drains inout.In into the child's stdin while concurrently
// accumulating the child's stdout and stderr, until every stream reaches a
// terminal state. It runs a private single-goroutine poll loop; the call is
// synchronous and, per stream, preserves byte order. There is no ordering
// guarantee between streams.
//
// Runtime stream errors are treated as end-of-stream: a child that dies
// mid-write yields truncated output indistinguishable from a clean short
// exit. There is no timeout; if the child never closes its pipe ends this
// call never returns.
//
// Transact consumes the local descriptors. A Pipe supports one transaction.
func (p *Pipe) Transact(inout *InOut) {
	send := newSendTask(&p.in, inout.In, p.ops)
	recvOut := newRecvTask(&p.out, p.ops)
	recvErr := newRecvTask(&p.err, p.ops)

	tasks := []streamTask{send, recvOut, recvErr}
	pfds := make([]unix.PollFd, 0, len(tasks))
	active := make([]streamTask, 0, len(tasks))

	for {
		pfds = pfds[:0]
		active = active[:0]
		for _, t := range tasks {
			if fd, events, ok := t.wants(); ok {
				pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: events})
				active = append(active, t)
			}
		}
		if len(pfds) == 0 {
			break
		}

		_, err := unix.Poll(pfds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			for _, t := range active {
				t.abort()
			}
			break
		}

		// POLLHUP/POLLERR are delivered via Revents even when not
		// requested; the task's own read/write surfaces the condition.
		for i := range pfds {
			if pfds[i].Revents != 0 {
				active[i].step()
			}
		}
	}

	inout.Out = recvOut.bytes()
	inout.Err = recvErr.bytes()
}

// streamOps is the syscall surface a stream task drives. Tests substitute a
// simulated channel to exercise partial reads and writes.
type streamOps interface {
	Read(fd int, p []byte) (int, error)
	Write(fd int, p []byte) (int, error)
	Close(fd int) error
}

type sysOps struct{}

func (sysOps) Read(fd int, p []byte) (int, error)  { return unix.Read(fd, p) }
func (sysOps) Write(fd int, p []byte) (int, error) { return unix.Write(fd, p) }
func (sysOps) Close(fd int) error                  { return unix.Close(fd) }

type taskState int

const (
	taskIdle taskState = iota
	taskInProgress
	taskDone
)

// streamTask is one per-descriptor state machine driven by the poll loop.
type streamTask interface {
	// wants reports the descriptor and poll events the task is waiting
	// on; ok is false once the task is Done or was never scheduled.
	wants() (fd int, events int16, ok bool)
	// step performs one non-blocking I/O attempt.
	step()
	// abort closes the descriptor and forces the terminal state.
	abort()
}

// sendTask writes the input to the child's stdin in chunks, resuming from
// the exact unsent offset after a partial write. Exhausting the input, or
// any write error (including the child closing its read end), closes the
// descriptor, which signals end-of-input to the child.
type sendTask struct {
	fd    int
	buf   []byte
	off   int
	state taskState
	ops   streamOps
}

func newSendTask(f *fdesc.FD, input []byte, ops streamOps) *sendTask {
	t := &sendTask{fd: -1, state: taskIdle, ops: ops}
	if !f.Defined() {
		t.state = taskDone
		return t
	}
	// The task is the sole owner of the descriptor from here on.
	t.fd = f.Release()
	t.buf = input
	t.state = taskInProgress
	return t
}

func (t *sendTask) wants() (int, int16, bool) {
	if t.state != taskInProgress {
		return -1, 0, false
	}
	return t.fd, unix.POLLOUT, true
}

func (t *sendTask) step() {
	if t.state != taskInProgress {
		return
	}
	if t.off >= len(t.buf) {
		t.abort()
		return
	}

	n := len(t.buf) - t.off
	if n > chunkSize {
		n = chunkSize
	}
	sent, err := t.ops.Write(t.fd, t.buf[t.off:t.off+n])
	if err == unix.EAGAIN || err == unix.EINTR {
		return
	}
	if err != nil {
		t.abort()
		return
	}
	t.off += sent
	if t.off >= len(t.buf) {
		t.abort()
	}
}

func (t *sendTask) abort() {
	if t.state != taskInProgress {
		return
	}
	_ = t.ops.Close(t.fd)
	t.fd = -1
	t.state = taskDone
}

// recvTask reads the child's output in chunks into an accumulator. A
// zero-length read or any read error means end-of-stream.
type recvTask struct {
	fd      int
	acc     []byte
	scratch [chunkSize]byte
	state   taskState
	ops     streamOps
}

func newRecvTask(f *fdesc.FD, ops streamOps) *recvTask {
	t := &recvTask{fd: -1, state: taskIdle, ops: ops}
	if !f.Defined() {
		t.state = taskDone
		return t
	}
	t.fd = f.Release()
	t.state = taskInProgress
	return t
}

func (t *recvTask) wants() (int, int16, bool) {
	if t.state != taskInProgress {
		return -1, 0, false
	}
	return t.fd, unix.POLLIN, true
}

func (t *recvTask) step() {
	if t.state != taskInProgress {
		return
	}

	n, err := t.ops.Read(t.fd, t.scratch[:])
	if err == unix.EAGAIN || err == unix.EINTR {
		return
	}
	if err != nil || n == 0 {
		t.abort()
		return
	}
	t.acc = append(t.acc, t.scratch[:n]...)
}

func (t *recvTask) abort() {
	if t.state != taskInProgress {
		return
	}
	_ = t.ops.Close(t.fd)
	t.fd = -1
	t.state = taskDone
}

func (t *recvTask) bytes() []byte {
	return t.acc
}
