package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// How long Wait keeps the output pipes open after the child is killed.
// Grandchildren holding the pipes would otherwise block Wait forever.
const waitDelay = 2 * time.Second

type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomeTimeout
	OutcomeNotFound
	OutcomeFault
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "fault"
	}
}

// Invocation is one call of the external tool.
type Invocation struct {
	// Arguments appended after the runner's base arguments.
	Args []string
	// Written to the child's stdin, then stdin is closed. Empty means no input.
	Script  string
	Timeout time.Duration
}

type Result struct {
	Outcome Outcome
	Stdout  string
	Stderr  string
	Code    int
	Err     error

	Duration time.Duration

	// command path, used in the not-found message
	Path string
}

func (r *Result) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded
}

// Output renders the text returned to callers for this result.
// Partial output of a timed out call is never included.
func (r *Result) Output() string {
	switch r.Outcome {
	case OutcomeSucceeded:
		return r.Stdout + "\n" + r.Stderr
	case OutcomeFailed:
		return fmt.Sprintf("Command failed with exit code %d:\nSTDOUT: %s\nSTDERR: %s", r.Code, r.Stdout, r.Stderr)
	case OutcomeTimeout:
		return "Command timed out."
	case OutcomeNotFound:
		return fmt.Sprintf("Error: '%s' command not found. Ensure CloudGoat is installed and in the system PATH.", r.Path)
	default:
		return fmt.Sprintf("An unexpected error occurred: %s", r.Err)
	}
}

type Runner interface {
	// run the tool once and wait for it to exit or time out
	Run(ctx context.Context, inv Invocation) *Result
}

// ExecRunner runs a local executable as a child process.
type ExecRunner struct {
	Path     string
	BaseArgs []string
}

func NewExecRunner(path string, baseArgs ...string) *ExecRunner {
	return &ExecRunner{Path: path, BaseArgs: baseArgs}
}

func (e *ExecRunner) Run(ctx context.Context, inv Invocation) *Result {
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	args := make([]string, 0, len(e.BaseArgs)+len(inv.Args))
	args = append(args, e.BaseArgs...)
	args = append(args, inv.Args...)

	var stdoutBuf bytes.Buffer
	var stderrBuf bytes.Buffer

	cmd := exec.CommandContext(ctx, e.Path, args...)
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	cmd.WaitDelay = waitDelay
	if inv.Script != "" {
		cmd.Stdin = strings.NewReader(inv.Script)
	}

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Code:     exitCode(cmd.ProcessState),
		Err:      err,
		Duration: time.Since(start),
		Path:     e.Path,
	}
	result.Outcome = classify(ctx, err, cmd.ProcessState)
	return result
}

// exitCode reports -N for a child terminated by signal N.
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

func classify(ctx context.Context, err error, state *os.ProcessState) Outcome {
	if err == nil {
		return OutcomeSucceeded
	}

	// the deadline is checked first, a killed child also reports an ExitError
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return OutcomeTimeout
	}

	// the tool exited 0 but a background child kept its output pipes open
	if errors.Is(err, exec.ErrWaitDelay) && state != nil && state.Success() {
		return OutcomeSucceeded
	}

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return OutcomeNotFound
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return OutcomeFailed
	}

	return OutcomeFault
}
