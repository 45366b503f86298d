package stdpipe

import (
	"github.com/bpicori/stdpipe/internal/redirect"
)

// Open flag and permission mode shortcuts for file-backed output.
const (
	FlagsOverwrite    = redirect.FlagsOverwrite
	FlagsAppend       = redirect.FlagsAppend
	FlagsMustNotExist = redirect.FlagsMustNotExist

	ModeAll       = redirect.ModeAll
	ModeUserGroup = redirect.ModeUserGroup
	ModeUser      = redirect.ModeUser
)

// RunRequest describes one child execution with redirected stdio.
//
// By default the child's stdout and stderr are captured through pipes and
// Input is sent to its stdin. Setting OutFile switches to file-backed
// redirection: the child writes directly to files and nothing is captured.
type RunRequest struct {
	Command []string
	WorkDir string

	// Pipe capture mode.
	Input         []byte
	EnableStdin   bool
	CombineStderr bool

	// File mode, active when OutFile is non-empty.
	InFile   string
	OutFile  string
	ErrFile  string // separate stderr file; overrides CombineStderr
	OutFlags int    // zero means FlagsOverwrite
	OutMode  uint32 // zero means ModeAll
}

// RunIO controls runtime environment behavior for the execution.
type RunIO struct {
	// Env overrides the environment passed to the child process.
	// When empty, the current process environment is used.
	Env []string

	// HelperBinaryPath is the binary re-executed as the redirection
	// trampoline. If empty, the current executable is used.
	HelperBinaryPath string
}

// RunResult contains the captured output (pipe mode only) and exit code.
type RunResult struct {
	Output    []byte
	ErrOutput []byte
	ExitCode  int
}
