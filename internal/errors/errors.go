// Package errors provides structured error types for sesh.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes surfaced to callers. These are stable: the CLI and any
// protocol layer key off them, so changing one is a breaking change.
const (
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeTaskNotFound    Code = "TASK_NOT_FOUND"
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeDirtyWorkspace  Code = "DIRTY_WORKSPACE"
	CodeMergeConflict   Code = "MERGE_CONFLICT"
	CodeAlreadyMerged   Code = "ALREADY_MERGED"
	CodePushFailed      Code = "PUSH_FAILED"
	CodeStateError      Code = "STATE_ERROR"
	CodeStorageError    Code = "STORAGE_ERROR"
	CodeTransient       Code = "TRANSIENT_ERROR"
	CodeSessionBusy     Code = "SESSION_BUSY"
)

// SeshError is the structured error type for sesh.
type SeshError struct {
	Code  Code     `json:"code"`
	What  string   `json:"what"`
	Why   string   `json:"why,omitempty"`
	Fix   string   `json:"fix,omitempty"`
	Paths []string `json:"paths,omitempty"` // offending paths for MERGE_CONFLICT
	Cause error    `json:"-"`
}

// Error implements the error interface.
func (e *SeshError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *SeshError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *SeshError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if len(e.Paths) > 0 {
		b.WriteString("\n\nPaths:\n  ")
		b.WriteString(strings.Join(e.Paths, "\n  "))
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Is reports whether target is a SeshError with the same code.
func (e *SeshError) Is(target error) bool {
	t, ok := target.(*SeshError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *SeshError) WithCause(err error) *SeshError {
	out := *e
	out.Cause = err
	return &out
}

// WithContext prepends operation context (session name, step) to What.
// The code and cause chain are preserved so callers can still match on them.
func (e *SeshError) WithContext(session, step string) *SeshError {
	out := *e
	out.What = fmt.Sprintf("session %s: %s: %s", session, step, e.What)
	return &out
}

// --- Error constructors ---

// ErrSessionNotFound returns an error when a session doesn't exist.
func ErrSessionNotFound(name string) *SeshError {
	return &SeshError{
		Code: CodeSessionNotFound,
		What: fmt.Sprintf("session %s not found", name),
		Why:  "No session with this name exists in the store",
		Fix:  "Run 'sesh list' to see known sessions, or create one with 'sesh start'",
	}
}

// ErrTaskNotFound returns an error when a task doesn't exist.
func ErrTaskNotFound(id string) *SeshError {
	return &SeshError{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("task %s not found", id),
		Why:  "No task with this ID exists in the resolved backend",
		Fix:  "Run 'sesh task list' to see known tasks",
	}
}

// ErrValidation returns an error for bad caller input.
func ErrValidation(what, why string) *SeshError {
	return &SeshError{
		Code: CodeValidation,
		What: what,
		Why:  why,
	}
}

// ErrDirtyWorkspace returns an error when a workspace has uncommitted changes.
func ErrDirtyWorkspace(path string) *SeshError {
	return &SeshError{
		Code: CodeDirtyWorkspace,
		What: "workspace has uncommitted changes",
		Why:  fmt.Sprintf("The working tree at %s is not clean", path),
		Fix:  "Commit or stash your changes, then retry",
	}
}

// ErrMergeConflict returns an error carrying the conflicting paths.
func ErrMergeConflict(paths []string) *SeshError {
	return &SeshError{
		Code:  CodeMergeConflict,
		What:  fmt.Sprintf("merge would conflict in %d file(s)", len(paths)),
		Why:   "Both the session branch and the base branch changed the same content",
		Fix:   "Resolve the conflicts manually, or re-run update with --auto-resolve-deletes for delete/modify conflicts",
		Paths: paths,
	}
}

// ErrAlreadyMerged reports that a branch is fully contained in the base.
func ErrAlreadyMerged(branch, base string) *SeshError {
	return &SeshError{
		Code: CodeAlreadyMerged,
		What: fmt.Sprintf("branch %s is already merged into %s", branch, base),
		Why:  "Every commit on the session branch is reachable from the base branch",
	}
}

// ErrPushFailed returns an error when pushing a branch fails.
func ErrPushFailed(branch string, cause error) *SeshError {
	return &SeshError{
		Code:  CodePushFailed,
		What:  fmt.Sprintf("push of branch %s failed", branch),
		Why:   "The remote rejected the push or was unreachable",
		Fix:   "Check remote connectivity and credentials, then retry",
		Cause: cause,
	}
}

// ErrState returns an error for an invalid state transition.
func ErrState(name, current, wanted string) *SeshError {
	return &SeshError{
		Code: CodeStateError,
		What: fmt.Sprintf("session %s is in state '%s', expected '%s'", name, current, wanted),
		Why:  "The requested operation is not valid in the current lifecycle state",
		Fix:  fmt.Sprintf("Check 'sesh show %s' for the current state", name),
	}
}

// ErrStorage returns an error for backend I/O or migration failure.
func ErrStorage(what string, cause error) *SeshError {
	return &SeshError{
		Code:  CodeStorageError,
		What:  what,
		Cause: cause,
	}
}

// ErrTransient returns a retryable network-origin error.
func ErrTransient(what string, cause error) *SeshError {
	return &SeshError{
		Code:  CodeTransient,
		What:  what,
		Why:   "A transient connectivity problem occurred",
		Fix:   "The operation is retried automatically; if it keeps failing, check the connection",
		Cause: cause,
	}
}

// ErrSessionBusy returns an error when another operation holds the session lock.
func ErrSessionBusy(name, owner string) *SeshError {
	return &SeshError{
		Code: CodeSessionBusy,
		What: fmt.Sprintf("session %s is busy", name),
		Why:  fmt.Sprintf("Another operation holds the session lock (owner: %s)", owner),
		Fix:  "Wait for the in-flight operation to finish, then retry",
	}
}

// AsSeshError attempts to convert an error to a SeshError.
// Returns nil if the error is not a SeshError.
func AsSeshError(err error) *SeshError {
	var se *SeshError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// CodeOf returns the code of err, or empty if err is not a SeshError.
func CodeOf(err error) Code {
	if se := AsSeshError(err); se != nil {
		return se.Code
	}
	return ""
}

// IsCode reports whether err is a SeshError with the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsTransient reports whether err should be retried under a retry policy.
// Only TRANSIENT_ERROR qualifies; validation and conflict errors never do.
func IsTransient(err error) bool {
	return IsCode(err, CodeTransient)
}

// Wrap wraps a generic error into a SeshError with storage semantics when
// no more specific constructor applies.
func Wrap(err error, what string) *SeshError {
	return &SeshError{
		Code:  CodeStorageError,
		What:  what,
		Cause: err,
	}
}
