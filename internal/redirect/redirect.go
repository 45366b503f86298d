// Package redirect remaps a child process's standard streams and, for
// pipe-backed redirection, runs the transaction engine that feeds the child's
// stdin while collecting its stdout and stderr.
package redirect

import (
	"github.com/bpicori/stdpipe/internal/fdesc"
)

// Redirector is the remap-and-release capability shared by the redirection
// variants. Redirect must be called in the process image that is about to
// replace itself via exec; Close may be called any number of times.
type Redirector interface {
	Redirect()
	Close()
}

// Triple holds the three optional stdio descriptors destined for a child
// process, plus the combine flag that folds stderr into stdout when no
// separate stderr descriptor is present.
type Triple struct {
	In  fdesc.FD
	Out fdesc.FD
	Err fdesc.FD

	CombineOutErr bool
}

// Redirect remaps the owned descriptors onto slots 0/1/2 in the calling
// process and releases everything. It runs between fork and exec, where no
// error reporting path is safe, so remap failures are deliberately ignored.
func (t *Triple) Redirect() {
	if t.In.Defined() {
		dupSlot(t.In.Raw(), 0)
		// A source already sitting in a standard slot must be disowned,
		// not closed: closing it would close the slot it now is.
		if t.In.Raw() <= 2 {
			t.In.Release()
		}
	}

	if t.Out.Defined() {
		dupSlot(t.Out.Raw(), 1)
		if !t.Err.Defined() && t.CombineOutErr {
			dupSlot(t.Out.Raw(), 2)
		}
		if t.Out.Raw() <= 2 {
			t.Out.Release()
		}
	}

	if t.Err.Defined() {
		dupSlot(t.Err.Raw(), 2)
		if t.Err.Raw() <= 2 {
			t.Err.Release()
		}
	}

	t.Close()
}

// Close releases all three slots. Idempotent, never fails.
func (t *Triple) Close() {
	t.In.Close()
	t.Out.Close()
	t.Err.Close()
}
