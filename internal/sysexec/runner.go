// Package sysexec runs the host tools the bridge depends on (mount,
// umount, lsblk, reboot).
package sysexec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, out)
}

// DefaultRunner runs commands on the host. With Sudo set, commands run
// through non-interactive sudo.
type DefaultRunner struct {
	Sudo bool
	// Env replaces the process environment when non-nil.
	Env []string
	Dir string
}

// Run executes name with args and returns the combined output.
func (r DefaultRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	if r.Sudo {
		args = append([]string{"-n", name}, args...)
		name = "sudo"
	}
	cmd := exec.CommandContext(ctx, name, args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	if r.Dir != "" {
		cmd.Dir = r.Dir
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		command := strings.TrimSpace(name + " " + strings.Join(args, " "))
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(output), &ExitError{
				Command:  command,
				ExitCode: exitErr.ExitCode(),
				Output:   string(output),
			}
		}
		return string(output), fmt.Errorf("%s: %w", command, err)
	}
	return string(output), nil
}
