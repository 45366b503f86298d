package spawn

import (
	"github.com/bpicori/stdpipe/internal/redirect"
)

// Request describes one pipe-backed child execution: spawn the command,
// send Input on its stdin, collect stdout and stderr until the child is
// done with them.
type Request struct {
	Argv  []string
	Input []byte

	// CombineStderr folds the child's stderr into the stdout capture;
	// the stderr output then stays empty.
	CombineStderr bool

	// EnableStdin wires a pipe to the child's stdin carrying Input.
	// When false the child reads from the null device and Input is
	// ignored.
	EnableStdin bool

	Dir              string
	Env              []string
	HelperBinaryPath string
}

// Result carries the captured output and the child's exit code.
type Result struct {
	Output    []byte
	ErrOutput []byte
	ExitCode  int
}

// Run spawns the command with pipe-backed redirection, runs the transaction
// against it, and reaps it. Truncated output from a child that failed
// mid-write is indistinguishable from a clean short exit; only setup and
// reap failures surface as errors.
func Run(req Request) (Result, error) {
	remote := &redirect.Triple{}
	engine, err := redirect.NewPipe(remote, req.CombineStderr, req.EnableStdin)
	if err != nil {
		return Result{}, err
	}

	cmd, err := Start(req.Argv, remote, Options{
		Dir:              req.Dir,
		Env:              req.Env,
		HelperBinaryPath: req.HelperBinaryPath,
	})
	if err != nil {
		engine.Close()
		remote.Close()
		return Result{}, err
	}

	inout := redirect.InOut{In: req.Input}
	engine.Transact(&inout)
	engine.Close()

	code, err := Wait(cmd)
	if err != nil {
		return Result{}, err
	}

	logger.Debug().
		Int("pid", cmd.Process.Pid).
		Int("sent", len(req.Input)).
		Int("stdout", len(inout.Out)).
		Int("stderr", len(inout.Err)).
		Int("exit_code", code).
		Msg("transaction complete")

	return Result{Output: inout.Out, ErrOutput: inout.Err, ExitCode: code}, nil
}
