// Package session defines the session record model shared by the store
// and the workflow engine.
package session

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PRBranchPrefix is the fixed naming convention for prepared PR branches.
const PRBranchPrefix = "pr/"

// PRState represents the pull-request lifecycle position of a session.
type PRState string

const (
	PRStateNone     PRState = "none"
	PRStatePrepared PRState = "prepared"
	PRStateApproved PRState = "approved"
	PRStateMerged   PRState = "merged"
)

// ValidPRStates returns all valid PR state values.
func ValidPRStates() []PRState {
	return []PRState{PRStateNone, PRStatePrepared, PRStateApproved, PRStateMerged}
}

// IsValidPRState returns true if s is a valid PR state value.
func IsValidPRState(s PRState) bool {
	switch s {
	case PRStateNone, PRStatePrepared, PRStateApproved, PRStateMerged:
		return true
	default:
		return false
	}
}

// Record is a persisted session: one branch, one workspace, optionally
// one tracked task. Name is globally unique within a store.
type Record struct {
	Name          string    `json:"name" yaml:"name"`
	RepositoryURI string    `json:"repository_uri" yaml:"repository_uri"`
	WorkspacePath string    `json:"workspace_path" yaml:"workspace_path"`
	BranchName    string    `json:"branch_name" yaml:"branch_name"`
	TaskID        string    `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	BackendName   string    `json:"backend_name" yaml:"backend_name"`
	PRBranchName  string    `json:"pr_branch_name,omitempty" yaml:"pr_branch_name,omitempty"`
	PRState       PRState   `json:"pr_state" yaml:"pr_state"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
}

// PRBranch returns the PR branch name for this session's branch,
// following the fixed pr/<sessionBranch> convention.
func (r *Record) PRBranch() string {
	return PRBranchPrefix + r.BranchName
}

// Touch updates the modification timestamp.
func (r *Record) Touch() {
	r.UpdatedAt = time.Now().UTC()
}

// namePattern restricts session names to something safe for branch names
// and directory names.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateName checks that a session name is usable as a branch and
// workspace directory component.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("session name exceeds 100 characters")
	}
	if strings.HasPrefix(name, PRBranchPrefix) {
		return fmt.Errorf("session name must not start with %q", PRBranchPrefix)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("session name %q contains invalid characters", name)
	}
	return nil
}

// Validate checks the record against the canonical schema. Records that
// fail validation are rejected on create and quarantined on migration.
func (r *Record) Validate() error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if r.BranchName == "" {
		return fmt.Errorf("session %s: branch name is empty", r.Name)
	}
	if r.WorkspacePath == "" {
		return fmt.Errorf("session %s: workspace path is empty", r.Name)
	}
	if !IsValidPRState(r.PRState) {
		return fmt.Errorf("session %s: invalid pr_state %q", r.Name, r.PRState)
	}
	// Exactly one non-none PR state per session, and it must be anchored
	// to a PR branch following the fixed convention.
	if r.PRState != PRStateNone && r.PRBranchName == "" {
		return fmt.Errorf("session %s: pr_state %q without a pr branch", r.Name, r.PRState)
	}
	if r.PRState == PRStateNone && r.PRBranchName != "" {
		return fmt.Errorf("session %s: pr branch %q with pr_state none", r.Name, r.PRBranchName)
	}
	if r.PRBranchName != "" && r.PRBranchName != r.PRBranch() {
		return fmt.Errorf("session %s: pr branch %q does not follow %s<branch> convention",
			r.Name, r.PRBranchName, PRBranchPrefix)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := *r
	return &out
}

// Patch holds optional field updates applied by Store.Update. Nil fields
// are left unchanged.
type Patch struct {
	TaskID       *string
	PRBranchName *string
	PRState      *PRState
}

// Apply applies the patch to a record and touches UpdatedAt.
func (p Patch) Apply(r *Record) {
	if p.TaskID != nil {
		r.TaskID = *p.TaskID
	}
	if p.PRBranchName != nil {
		r.PRBranchName = *p.PRBranchName
	}
	if p.PRState != nil {
		r.PRState = *p.PRState
	}
	r.Touch()
}

// StrPtr is a convenience for building Patches.
func StrPtr(s string) *string { return &s }

// StatePtr is a convenience for building Patches.
func StatePtr(s PRState) *PRState { return &s }
