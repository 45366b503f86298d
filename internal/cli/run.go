package cli

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bpicori/stdpipe/pkg/stdpipe"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// multiFlag is a flag.Value that accumulates multiple string values.
type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ", ")
}

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

// boolFlag is a flag.Value that tracks whether it was explicitly set.
type boolFlag struct {
	value bool
	set   bool
}

func (b *boolFlag) String() string {
	if b == nil {
		return "false"
	}
	return fmt.Sprintf("%t", b.value)
}

func (b *boolFlag) Set(value string) error {
	parsed, err := parseBool(value)
	if err != nil {
		return err
	}
	b.value = parsed
	b.set = true
	return nil
}

func (*boolFlag) IsBoolFlag() bool {
	return true
}

// stringFlag is a flag.Value that tracks whether it was explicitly set.
type stringFlag struct {
	value string
	set   bool
}

func (s *stringFlag) String() string {
	if s == nil {
		return ""
	}
	return s.value
}

func (s *stringFlag) Set(value string) error {
	s.value = value
	s.set = true
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "1", "t", "true", "y", "yes":
		return true, nil
	case "0", "f", "false", "n", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", value)
	}
}

// runFlags holds the raw values parsed from the "run" subcommand flags.
type runFlags struct {
	input         stringFlag
	inputFile     stringFlag
	combineStderr boolFlag
	inFile        stringFlag
	outFile       stringFlag
	errFile       stringFlag
	appendOut     boolFlag
	mustNotExist  boolFlag
	outMode       stringFlag
	workDir       stringFlag
	env           multiFlag
	verbose       boolFlag
	configPath    string
	command       []string
	usage         func()
}

// parseRunFlags parses CLI arguments for the "run" subcommand.
func parseRunFlags(args []string) (*runFlags, int) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)

	f := &runFlags{}

	fs.Var(&f.input, "input", "Bytes to send on the command's stdin")
	fs.Var(&f.inputFile, "input-file", "File whose contents are sent on the command's stdin")
	fs.Var(&f.combineStderr, "combine-stderr", "Fold the command's stderr into its stdout")
	fs.Var(&f.inFile, "in-file", "Redirect the command's stdin from this file (file mode)")
	fs.Var(&f.outFile, "out-file", "Redirect the command's stdout to this file instead of capturing it")
	fs.Var(&f.errFile, "err-file", "Redirect the command's stderr to a separate file (requires --out-file)")
	fs.Var(&f.appendOut, "append", "Append to --out-file instead of truncating")
	fs.Var(&f.mustNotExist, "must-not-exist", "Fail if --out-file already exists")
	fs.Var(&f.outMode, "mode", "Permission mode for --out-file, octal (default 0777)")
	fs.Var(&f.workDir, "dir", "Working directory for the command")
	fs.Var(&f.env, "env", "Environment entry KEY=VALUE for the command (can be specified multiple times)")
	fs.Var(&f.verbose, "verbose", "Log diagnostic output to stderr")
	fs.StringVar(&f.configPath, "config", "", "Load run options from YAML file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stdpipe run [options] -- <command> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Run a command with redirected stdio and capture its output.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  stdpipe run --input 'hello' -- cat\n")
		fmt.Fprintf(os.Stderr, "  stdpipe run --input-file ./query.sql --combine-stderr -- psql -f -\n")
		fmt.Fprintf(os.Stderr, "  stdpipe run --out-file /tmp/build.log --append -- make all\n")
		fmt.Fprintf(os.Stderr, "  stdpipe run --config ./run.yaml -- echo hello\n")
	}
	f.usage = fs.Usage

	if err := fs.Parse(args); err != nil {
		return nil, 2
	}

	// Everything after "--" (or remaining args) is the command.
	f.command = fs.Args()
	return f, 0
}

// runConfig defines run options that can be loaded from file and then
// overridden by CLI flags.
type runConfig struct {
	Command []string `yaml:"command"`
	Env     []string `yaml:"env"`

	Input         *string `yaml:"input"`
	InputFile     *string `yaml:"input_file"`
	CombineStderr *bool   `yaml:"combine_stderr"`
	InFile        *string `yaml:"in_file"`
	OutFile       *string `yaml:"out_file"`
	ErrFile       *string `yaml:"err_file"`
	Append        *bool   `yaml:"append"`
	MustNotExist  *bool   `yaml:"must_not_exist"`
	OutMode       *string `yaml:"mode"`
	WorkDir       *string `yaml:"work_dir"`
}

func resolveRunConfig(f *runFlags) (*runConfig, error) {
	effective := &runConfig{}

	if f.configPath != "" {
		fromFile, err := loadRunConfigFile(f.configPath)
		if err != nil {
			return nil, err
		}
		mergeRunConfig(effective, fromFile)
	}

	mergeRunConfig(effective, cliRunConfigOverrides(f))
	return effective, nil
}

func loadRunConfigFile(path string) (*runConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	var fileCfg runConfig
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}
	return &fileCfg, nil
}

func cliRunConfigOverrides(f *runFlags) *runConfig {
	cfg := &runConfig{
		Command: append([]string{}, f.command...),
		Env:     append([]string{}, f.env...),
	}

	if f.input.set {
		cfg.Input = stringPtr(f.input.value)
	}
	if f.inputFile.set {
		cfg.InputFile = stringPtr(f.inputFile.value)
	}
	if f.combineStderr.set {
		cfg.CombineStderr = boolPtr(f.combineStderr.value)
	}
	if f.inFile.set {
		cfg.InFile = stringPtr(f.inFile.value)
	}
	if f.outFile.set {
		cfg.OutFile = stringPtr(f.outFile.value)
	}
	if f.errFile.set {
		cfg.ErrFile = stringPtr(f.errFile.value)
	}
	if f.appendOut.set {
		cfg.Append = boolPtr(f.appendOut.value)
	}
	if f.mustNotExist.set {
		cfg.MustNotExist = boolPtr(f.mustNotExist.value)
	}
	if f.outMode.set {
		cfg.OutMode = stringPtr(f.outMode.value)
	}
	if f.workDir.set {
		cfg.WorkDir = stringPtr(f.workDir.value)
	}

	return cfg
}

func mergeRunConfig(dst *runConfig, src *runConfig) {
	if dst == nil || src == nil {
		return
	}

	dst.Env = append(dst.Env, src.Env...)

	if len(src.Command) > 0 {
		dst.Command = append([]string{}, src.Command...)
	}
	if src.Input != nil {
		dst.Input = stringPtr(*src.Input)
	}
	if src.InputFile != nil {
		dst.InputFile = stringPtr(*src.InputFile)
	}
	if src.CombineStderr != nil {
		dst.CombineStderr = boolPtr(*src.CombineStderr)
	}
	if src.InFile != nil {
		dst.InFile = stringPtr(*src.InFile)
	}
	if src.OutFile != nil {
		dst.OutFile = stringPtr(*src.OutFile)
	}
	if src.ErrFile != nil {
		dst.ErrFile = stringPtr(*src.ErrFile)
	}
	if src.Append != nil {
		dst.Append = boolPtr(*src.Append)
	}
	if src.MustNotExist != nil {
		dst.MustNotExist = boolPtr(*src.MustNotExist)
	}
	if src.OutMode != nil {
		dst.OutMode = stringPtr(*src.OutMode)
	}
	if src.WorkDir != nil {
		dst.WorkDir = stringPtr(*src.WorkDir)
	}
}

func boolPtr(v bool) *bool {
	return &v
}

func stringPtr(v string) *string {
	return &v
}

// buildRequest constructs a stdpipe run request from resolved run options.
func buildRequest(c *runConfig) (stdpipe.RunRequest, error) {
	req := stdpipe.RunRequest{
		Command: append([]string{}, c.Command...),
	}

	if c.CombineStderr != nil {
		req.CombineStderr = *c.CombineStderr
	}
	if c.WorkDir != nil {
		req.WorkDir = *c.WorkDir
	}

	if c.Input != nil && c.InputFile != nil {
		return req, fmt.Errorf("input and input_file cannot be combined")
	}
	if c.Input != nil {
		req.Input = []byte(*c.Input)
		req.EnableStdin = true
	}
	if c.InputFile != nil {
		raw, err := os.ReadFile(*c.InputFile)
		if err != nil {
			return req, fmt.Errorf("read input file %q: %w", *c.InputFile, err)
		}
		req.Input = raw
		req.EnableStdin = true
	}

	if c.OutFile != nil {
		req.OutFile = *c.OutFile
	}
	if c.InFile != nil {
		req.InFile = *c.InFile
	}
	if c.ErrFile != nil {
		req.ErrFile = *c.ErrFile
	}

	flags, err := resolveOutFlags(c)
	if err != nil {
		return req, err
	}
	req.OutFlags = flags

	if c.OutMode != nil {
		mode, err := strconv.ParseUint(strings.TrimPrefix(*c.OutMode, "0o"), 8, 32)
		if err != nil {
			return req, fmt.Errorf("invalid mode %q: %w", *c.OutMode, err)
		}
		req.OutMode = uint32(mode)
	}

	if req.OutFile == "" {
		if req.InFile != "" || req.ErrFile != "" {
			return req, fmt.Errorf("in_file and err_file require out_file")
		}
	} else if req.EnableStdin {
		return req, fmt.Errorf("input cannot be combined with out_file (file mode does not capture)")
	}

	return req, nil
}

func resolveOutFlags(c *runConfig) (int, error) {
	appendOut := c.Append != nil && *c.Append
	mustNotExist := c.MustNotExist != nil && *c.MustNotExist

	switch {
	case appendOut && mustNotExist:
		return 0, fmt.Errorf("append and must_not_exist cannot be combined")
	case appendOut:
		return stdpipe.FlagsAppend, nil
	case mustNotExist:
		return stdpipe.FlagsMustNotExist, nil
	default:
		return stdpipe.FlagsOverwrite, nil
	}
}

// RunCmd executes the "run" subcommand.
func RunCmd(args []string) int {
	f, exitCode := parseRunFlags(args)
	if f == nil {
		return exitCode
	}

	effective, err := resolveRunConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if len(effective.Command) == 0 {
		fmt.Fprintf(os.Stderr, "Error: no command specified (pass it after -- or in config file)\n\n")
		if f.usage != nil {
			f.usage()
		}
		return 2
	}

	req, err := buildRequest(effective)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if f.verbose.set && f.verbose.value {
		stdpipe.SetLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger())
	}

	helperBinaryPath, _ := os.Executable()
	result, err := stdpipe.Run(req, stdpipe.RunIO{
		Env:              effective.Env,
		HelperBinaryPath: helperBinaryPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	os.Stdout.Write(result.Output)
	os.Stderr.Write(result.ErrOutput)
	return result.ExitCode
}
