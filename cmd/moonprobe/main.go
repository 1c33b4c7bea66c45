// moonprobe bridges a moonblokz RP2040 node to the telemetry server. It
// collects the node's serial log, uploads it on a schedule, runs the
// commands the server answers with and keeps both the node firmware and
// itself up to date.
//
// Subcommands:
//
//	run      start the bridge (default)
//	console  interactive serial console for the node
//	ports    list serial ports
//	version  print the build version
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errUsage marks errors caused by bad arguments.
var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	name := "run"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		name, args = args[0], args[1:]
	}

	switch name {
	case "run":
		return runBridge(args, stderr)
	case "console":
		return runConsole(args, stderr)
	case "ports":
		return runPorts(args, stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "moonprobe %s\n", version)
		return nil
	case "help":
		printUsage(stderr)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

// parseFlags parses args into fs. A help request prints the usage and is
// reported with ok false and a nil error.
func parseFlags(fs *pflag.FlagSet, args []string, stderr io.Writer) (ok bool, err error) {
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", errUsage, err)
	}
	if rest := fs.Args(); len(rest) > 0 {
		return false, fmt.Errorf("%w: unexpected argument %q", errUsage, rest[0])
	}
	return true, nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `moonprobe bridges a moonblokz node to its telemetry server.

Usage:
  moonprobe [run] [flags]     start the bridge
  moonprobe console [flags]   interactive serial console
  moonprobe ports             list serial ports
  moonprobe version           print the version

Run "moonprobe <command> --help" for the flags of a command.
`)
}
