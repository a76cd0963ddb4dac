package git

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind is the classified category of a failed git operation.
type FailureKind string

const (
	FailureDirtyWorkspace FailureKind = "dirty_workspace"
	FailureMergeConflict  FailureKind = "merge_conflict"
	FailureNetwork        FailureKind = "network"
	FailureAuth           FailureKind = "auth"
	FailureNotARepository FailureKind = "not_a_repository"
	FailureUnknown        FailureKind = "unknown"
)

// GitError is a classified git failure. Files is populated for merge
// conflicts with the unmerged paths.
type GitError struct {
	Kind  FailureKind
	Op    string
	Files []string
	Cause error
}

func (e *GitError) Error() string {
	if len(e.Files) > 0 {
		return fmt.Sprintf("%s: %s (%d conflicted files)", e.Op, e.Kind, len(e.Files))
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *GitError) Unwrap() error {
	return e.Cause
}

// KindOf returns the classified kind of err, or FailureUnknown when err
// is not a GitError.
func KindOf(err error) FailureKind {
	var ge *GitError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return FailureUnknown
}

// dirtyPatterns match git refusing to act on an unclean working tree.
var dirtyPatterns = []string{
	"your local changes to the following files would be overwritten",
	"please commit your changes or stash them",
	"you have unstaged changes",
	"cannot pull with rebase: your index contains uncommitted changes",
	"needs merge",
}

// networkPatterns match transport-level failures.
var networkPatterns = []string{
	"could not resolve host",
	"unable to access",
	"connection timed out",
	"connection refused",
	"network is unreachable",
	"operation timed out",
	"the remote end hung up unexpectedly",
	"early eof",
	"could not read from remote repository",
}

// authPatterns match credential failures. Checked before network
// patterns where they overlap (403 arrives via "unable to access" too).
var authPatterns = []string{
	"authentication failed",
	"permission denied (publickey)",
	"invalid username or password",
	"support for password authentication was removed",
	"403 forbidden",
	"401 unauthorized",
	"access denied",
}

var conflictPatterns = []string{
	"automatic merge failed; fix conflicts",
	"merge conflict in",
	"error: could not apply",
	"resolve all conflicts manually",
}

// classify maps a CommandError to a FailureKind by pattern-matching
// stderr and exit codes. The stdout payload is never inspected.
func classify(cmdErr *CommandError) FailureKind {
	if cmdErr.ExitCode == 128 && strings.Contains(strings.ToLower(cmdErr.Stderr), "not a git repository") {
		return FailureNotARepository
	}

	stderr := strings.ToLower(cmdErr.Stderr)
	for _, p := range authPatterns {
		if strings.Contains(stderr, p) {
			return FailureAuth
		}
	}
	for _, p := range networkPatterns {
		if strings.Contains(stderr, p) {
			return FailureNetwork
		}
	}
	for _, p := range dirtyPatterns {
		if strings.Contains(stderr, p) {
			return FailureDirtyWorkspace
		}
	}
	for _, p := range conflictPatterns {
		if strings.Contains(stderr, p) {
			return FailureMergeConflict
		}
	}
	return FailureUnknown
}

// wrapErr converts a raw runner error into a classified GitError.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return &GitError{Kind: FailureUnknown, Op: op, Cause: err}
	}
	return &GitError{Kind: classify(cmdErr), Op: op, Cause: cmdErr}
}
