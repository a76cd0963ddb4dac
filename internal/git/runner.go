package git

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes git subprocess calls.
// This interface allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes git with the given args in workDir and returns the
	// trimmed stdout. On failure the returned error is a *CommandError
	// carrying stderr and the exit code for classification.
	Run(workDir string, args ...string) (stdout string, err error)
}

// ExecRunner is the default CommandRunner using exec.Command.
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes the git binary. Subprocess calls are not preemptible; the
// caller waits for natural completion or failure.
func (r *ExecRunner) Run(workDir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return strings.TrimSpace(stdout.String()), &CommandError{
			Args:     args,
			WorkDir:  workDir,
			Stdout:   strings.TrimSpace(stdout.String()),
			Stderr:   strings.TrimSpace(stderr.String()),
			ExitCode: exitCode,
			Err:      err,
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// CommandError represents a failed git invocation. Stderr and ExitCode
// are what failure classification keys off; stdout is kept only because
// some callers need partial output (merge-tree reports conflicts there).
type CommandError struct {
	Args     []string
	WorkDir  string
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	msg := e.Stderr
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = "command failed"
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
