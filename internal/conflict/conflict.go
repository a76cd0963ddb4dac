// Package conflict predicts merge outcomes between a session branch and
// its base branch without mutating the workspace.
package conflict

import (
	"fmt"
	"sort"

	"github.com/randalmurphal/sesh/internal/git"
)

// Kind classifies a single conflicting path.
type Kind string

const (
	// KindContent means both sides changed the same lines of the file.
	KindContent Kind = "content"
	// KindDeleteModify means one side deleted the file while the other
	// modified it.
	KindDeleteModify Kind = "delete-modify"
)

// Resolution is a suggested way to resolve a conflict entry that the
// caller may opt into applying.
type Resolution string

const (
	ResolutionNone         Resolution = ""
	ResolutionPreferDelete Resolution = "prefer-delete"
)

// Verdict is the overall outcome of an analysis.
type Verdict string

const (
	// VerdictClean means the merge would apply without conflicts.
	VerdictClean Verdict = "clean"
	// VerdictAlreadyMerged means the session branch is fully contained
	// in the base branch's history; there is nothing to merge.
	VerdictAlreadyMerged Verdict = "already-merged"
	// VerdictConflicts means at least one path would conflict.
	VerdictConflicts Verdict = "conflicts"
)

// Entry is one conflicting path with its classification.
type Entry struct {
	Path       string     `json:"path"`
	Kind       Kind       `json:"kind"`
	Resolution Resolution `json:"resolution,omitempty"`
	// DeletedBy records which side deleted the file for delete-modify
	// entries: "session" or "base".
	DeletedBy string `json:"deleted_by,omitempty"`
}

// Report is the ordered outcome of a predictive merge analysis. It is
// derived state: recomputed per operation, never persisted.
type Report struct {
	SessionBranch string  `json:"session_branch"`
	BaseBranch    string  `json:"base_branch"`
	Verdict       Verdict `json:"verdict"`
	Ahead         int     `json:"ahead"`
	Behind        int     `json:"behind"`
	Entries       []Entry `json:"entries,omitempty"`
}

// Paths returns every conflicting path in order.
func (r *Report) Paths() []string {
	paths := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		paths = append(paths, e.Path)
	}
	return paths
}

// ContentEntries returns only the content conflicts.
func (r *Report) ContentEntries() []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Kind == KindContent {
			out = append(out, e)
		}
	}
	return out
}

// DeleteModifyEntries returns only the delete/modify conflicts.
func (r *Report) DeleteModifyEntries() []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Kind == KindDeleteModify {
			out = append(out, e)
		}
	}
	return out
}

// Service analyzes merges. It only reads; the workspace is never touched.
type Service struct {
	git *git.Git
}

// NewService creates a Service over the given workspace.
func NewService(g *git.Git) *Service {
	return &Service{git: g}
}

// Analyze predicts the outcome of merging baseBranch into sessionBranch.
//
// The already-merged short-circuit fires when the session branch is fully
// contained in the base branch's history. Otherwise a dry-run three-way
// merge classifies each conflicting path as content or delete-modify;
// delete-modify entries carry a prefer-delete suggestion the caller may
// apply.
func (s *Service) Analyze(sessionBranch, baseBranch string) (*Report, error) {
	report := &Report{
		SessionBranch: sessionBranch,
		BaseBranch:    baseBranch,
	}

	ahead, behind, err := s.git.MergeBaseAheadCount(sessionBranch, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("count ahead/behind: %w", err)
	}
	report.Ahead, report.Behind = ahead, behind

	contained, err := s.git.IsAncestor(sessionBranch, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("check containment: %w", err)
	}
	if contained {
		report.Verdict = VerdictAlreadyMerged
		return report, nil
	}

	dryRun, err := s.git.MergeTreeDryRun(sessionBranch, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("dry-run merge: %w", err)
	}
	if dryRun.Clean {
		report.Verdict = VerdictClean
		return report, nil
	}

	entries, err := s.classify(sessionBranch, baseBranch, dryRun.ConflictedPaths)
	if err != nil {
		return nil, err
	}
	report.Verdict = VerdictConflicts
	report.Entries = entries
	return report, nil
}

// classify determines the kind of each conflicted path by comparing what
// each side did to it since the merge base.
func (s *Service) classify(sessionBranch, baseBranch string, paths []string) ([]Entry, error) {
	mergeBase, err := s.git.MergeBase(sessionBranch, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("find merge base: %w", err)
	}

	sessionChanges, err := s.git.ChangedPaths(mergeBase, sessionBranch)
	if err != nil {
		return nil, fmt.Errorf("session changes: %w", err)
	}
	baseChanges, err := s.git.ChangedPaths(mergeBase, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("base changes: %w", err)
	}

	sort.Strings(paths)
	entries := make([]Entry, 0, len(paths))
	for _, path := range paths {
		entry := Entry{Path: path, Kind: KindContent}
		switch {
		case sessionChanges[path] == "D" && baseChanges[path] != "D":
			entry.Kind = KindDeleteModify
			entry.DeletedBy = "session"
			entry.Resolution = ResolutionPreferDelete
		case baseChanges[path] == "D" && sessionChanges[path] != "D":
			entry.Kind = KindDeleteModify
			entry.DeletedBy = "base"
			entry.Resolution = ResolutionPreferDelete
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
