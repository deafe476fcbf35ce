package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"sitekeeper/internal/logging"
)

// Command describes one external program invocation
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string // extra KEY=VALUE pairs appended to the current environment
	Timeout time.Duration

	// Stream copies output to the runner's writers while it is captured
	Stream bool
}

// String renders the command line for logs and error messages
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result holds the observable outcome of a command
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// CommandRunner runs external programs. Orchestration code depends on this
// interface only, so in-process implementations can replace shell-outs.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// CommandError is returned when a command cannot start, exits non-zero or times out
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

// Error implements the error interface
func (e *CommandError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("command %q timed out", e.Command)
	case e.ExitCode > 0:
		msg := fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
		if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
			msg += ": " + lastLine(stderr)
		}
		return msg
	default:
		return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
	}
}

// Unwrap returns the underlying error
func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner implements CommandRunner with os/exec
type ExecRunner struct {
	logger *logging.Logger
	stdout io.Writer
	stderr io.Writer
}

// NewExecRunner creates a runner that streams to the given writers when a
// command asks for it. Nil writers default to os.Stdout and os.Stderr.
func NewExecRunner(logger *logging.Logger, stdout, stderr io.Writer) *ExecRunner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &ExecRunner{
		logger: logger,
		stdout: stdout,
		stderr: stderr,
	}
}

// Run executes the command and waits for it to finish
func (r *ExecRunner) Run(ctx context.Context, command Command) (*Result, error) {
	if command.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, command.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, command.Name, command.Args...)
	cmd.Dir = command.Dir
	cmd.WaitDelay = 5 * time.Second
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}

	var stdout, stderr bytes.Buffer
	if command.Stream {
		cmd.Stdout = io.MultiWriter(&stdout, r.stdout)
		cmd.Stderr = io.MultiWriter(&stderr, r.stderr)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	start := time.Now()
	runErr := cmd.Run()
	result := &Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		cmdErr := &CommandError{
			Command:  command.String(),
			ExitCode: -1,
			Stderr:   result.Stderr,
			Err:      runErr,
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cmdErr.TimedOut = true
			cmdErr.Err = context.DeadlineExceeded
		} else if errors.Is(ctx.Err(), context.Canceled) {
			cmdErr.Err = context.Canceled
		}

		result.ExitCode = cmdErr.ExitCode
		r.logger.LogSubprocess(command.Name, command.Args, result.ExitCode, result.Duration, cmdErr)
		return result, cmdErr
	}

	r.logger.LogSubprocess(command.Name, command.Args, result.ExitCode, result.Duration, nil)
	return result, nil
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
