// Package spawn starts a child process behind a redirect.Triple. The parent
// re-executes its own binary with an internal subcommand; the trampoline
// child rebuilds the triple from inherited descriptors, remaps its standard
// slots, then replaces itself with the target command. This keeps the
// remap in the address space that is about to exec, where it belongs.
package spawn

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/bpicori/stdpipe/internal/redirect"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// InternalCommand is the trampoline subcommand recognized by the binary's
// entrypoint (and by the test binary's TestMain).
const InternalCommand = "__stdpipe_internal_exec"

const payloadEnv = "STDPIPE_INTERNAL_PAYLOAD"

// logger is a no-op unless the embedding binary enables diagnostics.
var logger = zerolog.Nop()

// SetLogger installs the diagnostic logger used by this package.
func SetLogger(l zerolog.Logger) {
	logger = l
}

// Options controls how the child is started.
type Options struct {
	// Dir is the working directory for the target command.
	Dir string

	// Env overrides the environment passed to the child. When empty,
	// the current process environment is used.
	Env []string

	// HelperBinaryPath is the binary re-executed as the trampoline.
	// If empty, the current executable is used.
	HelperBinaryPath string
}

// Start launches the trampoline child wired to the remote triple. The
// triple's descriptors are consumed: they are passed to the child as
// inherited files and the parent's copies are closed once the child holds
// them, so pipe readers observe EOF when the child exits.
//
// Slots the triple leaves undefined are inherited from the parent.
func Start(argv []string, remote *redirect.Triple, opts Options) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, errors.New("command must not be empty")
	}

	pl := execPayload{
		Argv:    argv,
		Dir:     opts.Dir,
		HasIn:   remote.In.Defined(),
		HasOut:  remote.Out.Defined(),
		HasErr:  remote.Err.Defined(),
		Combine: remote.CombineOutErr,
	}
	encoded, err := encodePayload(pl)
	if err != nil {
		return nil, fmt.Errorf("encode internal payload: %w", err)
	}

	exePath := opts.HelperBinaryPath
	if exePath == "" {
		exePath, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable path: %w", err)
		}
	}

	cmd := exec.Command(exePath, InternalCommand)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	// The remote ends ride to the trampoline as inherited files, placed
	// at descriptors 3+ in triple order. The payload records which
	// slots are present so the child can rebuild the triple.
	var files []*os.File
	if pl.HasIn {
		files = append(files, os.NewFile(uintptr(remote.In.Release()), "child-stdin"))
	}
	if pl.HasOut {
		files = append(files, os.NewFile(uintptr(remote.Out.Release()), "child-stdout"))
	}
	if pl.HasErr {
		files = append(files, os.NewFile(uintptr(remote.Err.Release()), "child-stderr"))
	}
	cmd.ExtraFiles = files

	baseEnv := os.Environ()
	if len(opts.Env) > 0 {
		baseEnv = append([]string{}, opts.Env...)
	}
	cmd.Env = append(baseEnv, payloadEnv+"="+encoded)

	if err := cmd.Start(); err != nil {
		for _, f := range files {
			f.Close()
		}
		return nil, fmt.Errorf("start child: %w", err)
	}

	logger.Debug().Int("pid", cmd.Process.Pid).Strs("argv", argv).Msg("started child")

	// Close the parent's copies of the remote ends. Keeping them open
	// would hold the pipes' write ends and the readers would never see
	// end-of-stream.
	for _, f := range files {
		f.Close()
	}

	return cmd, nil
}

// Wait reaps the child and returns its exit code.
func Wait(cmd *exec.Cmd) (int, error) {
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				return status.ExitStatus(), nil
			}
		}
		return -1, err
	}
	return 0, nil
}

// RunInternalExec is the child side of the trampoline. It rebuilds the
// triple from the inherited descriptors, remaps the standard slots, and
// execs the target command. Reachable only through the internal subcommand.
func RunInternalExec() (int, error) {
	pl, err := decodePayload(os.Getenv(payloadEnv))
	if err != nil {
		return 1, err
	}
	if len(pl.Argv) == 0 {
		return 1, errors.New("internal payload has empty command")
	}

	cmdPath, err := resolveCommandPath(pl.Argv[0])
	if err != nil {
		return 1, fmt.Errorf("resolve command %q: %w", pl.Argv[0], err)
	}

	if pl.Dir != "" {
		if err := os.Chdir(pl.Dir); err != nil {
			return 1, fmt.Errorf("chdir %q: %w", pl.Dir, err)
		}
	}

	tripleFromInherited(pl).Redirect()

	if err := unix.Exec(cmdPath, pl.Argv, os.Environ()); err != nil {
		return 1, fmt.Errorf("exec %q: %w", cmdPath, err)
	}
	return 0, nil
}

// tripleFromInherited maps the inherited descriptors, assigned sequentially
// from 3 by the parent, back into a Triple.
func tripleFromInherited(pl execPayload) *redirect.Triple {
	t := &redirect.Triple{CombineOutErr: pl.Combine}
	next := 3
	if pl.HasIn {
		t.In.Reset(next)
		next++
	}
	if pl.HasOut {
		t.Out.Reset(next)
		next++
	}
	if pl.HasErr {
		t.Err.Reset(next)
	}
	return t
}

func resolveCommandPath(command string) (string, error) {
	if strings.Contains(command, "/") {
		return command, nil
	}
	return exec.LookPath(command)
}

type execPayload struct {
	Argv    []string `json:"argv"`
	Dir     string   `json:"dir,omitempty"`
	HasIn   bool     `json:"has_in"`
	HasOut  bool     `json:"has_out"`
	HasErr  bool     `json:"has_err"`
	Combine bool     `json:"combine"`
}

func encodePayload(pl execPayload) (string, error) {
	raw, err := json.Marshal(pl)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodePayload(encoded string) (execPayload, error) {
	var pl execPayload

	if encoded == "" {
		return pl, errors.New("missing " + payloadEnv)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return pl, fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(raw, &pl); err != nil {
		return pl, fmt.Errorf("unmarshal payload: %w", err)
	}

	return pl, nil
}
