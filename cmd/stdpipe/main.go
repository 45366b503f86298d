package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bpicori/stdpipe/internal/cli"
	"github.com/bpicori/stdpipe/internal/spawn"
)

func main() {
	var showHelp bool
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = printUsage
	flag.Parse()

	if showHelp {
		printUsage()
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "run":
		os.Exit(cli.RunCmd(args[1:]))
	case spawn.InternalCommand:
		exitCode, err := spawn.RunInternalExec()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(exitCode)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `stdpipe - Run a command with redirected stdio and capture its output

Usage:
  stdpipe <command> [options]

Commands:
  run       Run a command with redirected stdio
  help      Show this help message

Run "stdpipe run --help" for details on the run command.
`)
}
