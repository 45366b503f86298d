// Package stdpipe runs a child process with its standard streams redirected:
// either captured through a pipe transaction or written to files.
package stdpipe

import (
	"github.com/bpicori/stdpipe/internal/redirect"
	"github.com/bpicori/stdpipe/internal/spawn"
	"github.com/rs/zerolog"
)

// SetLogger installs a diagnostic logger. The default discards everything.
func SetLogger(l zerolog.Logger) {
	spawn.SetLogger(l)
}

// Run executes a redirected child per the request and reaps it.
func Run(req RunRequest, ioCfg RunIO) (RunResult, error) {
	if req.OutFile != "" {
		return runFileBacked(req, ioCfg)
	}

	res, err := spawn.Run(spawn.Request{
		Argv:             append([]string{}, req.Command...),
		Input:            req.Input,
		CombineStderr:    req.CombineStderr,
		EnableStdin:      req.EnableStdin,
		Dir:              req.WorkDir,
		Env:              append([]string{}, ioCfg.Env...),
		HelperBinaryPath: ioCfg.HelperBinaryPath,
	})
	if err != nil {
		return RunResult{}, err
	}
	return RunResult{
		Output:    res.Output,
		ErrOutput: res.ErrOutput,
		ExitCode:  res.ExitCode,
	}, nil
}

func runFileBacked(req RunRequest, ioCfg RunIO) (RunResult, error) {
	flags := req.OutFlags
	if flags == 0 {
		flags = FlagsOverwrite
	}
	mode := req.OutMode
	if mode == 0 {
		mode = ModeAll
	}

	var (
		remote *redirect.Triple
		err    error
	)
	if req.ErrFile != "" {
		remote, err = redirect.NewFileErr(req.InFile, req.OutFile, req.ErrFile, flags, mode)
	} else {
		remote, err = redirect.NewFile(req.InFile, req.OutFile, flags, mode, req.CombineStderr)
	}
	if err != nil {
		return RunResult{}, err
	}

	cmd, err := spawn.Start(req.Command, remote, spawn.Options{
		Dir:              req.WorkDir,
		Env:              append([]string{}, ioCfg.Env...),
		HelperBinaryPath: ioCfg.HelperBinaryPath,
	})
	if err != nil {
		remote.Close()
		return RunResult{}, err
	}

	code, err := spawn.Wait(cmd)
	if err != nil {
		return RunResult{}, err
	}
	return RunResult{ExitCode: code}, nil
}
