package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/session"
)

// IssueKind classifies an integrity finding.
type IssueKind string

const (
	IssueOrphanWorkspace IssueKind = "orphan-workspace" // directory with no record
	IssueDanglingRecord  IssueKind = "dangling-record"  // record whose workspace is gone
	IssueDuplicateName   IssueKind = "duplicate-name"
	IssueInvalidRecord   IssueKind = "invalid-record" // fails schema validation
)

// Issue is one integrity finding, with the fix applied when running in
// fix mode.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Session string    `json:"session,omitempty"`
	Path    string    `json:"path,omitempty"`
	Detail  string    `json:"detail"`
	Fixed   bool      `json:"fixed"`
	FixNote string    `json:"fix_note,omitempty"`
}

// IntegrityReport is the outcome of a check run.
type IntegrityReport struct {
	Checked int     `json:"checked"`
	Issues  []Issue `json:"issues"`
}

// OK reports whether the store and workspaces are consistent.
func (r *IntegrityReport) OK() bool { return len(r.Issues) == 0 }

// IntegrityChecker cross-checks store records against the workspace
// tree and the record schema.
type IntegrityChecker struct {
	store         Store
	workspacesDir string
	fix           bool
}

// NewIntegrityChecker creates a checker. When fix is true, findings that
// have a safe automatic remedy are repaired in place.
func NewIntegrityChecker(st Store, workspacesDir string, fix bool) *IntegrityChecker {
	return &IntegrityChecker{store: st, workspacesDir: workspacesDir, fix: fix}
}

// Check runs all integrity checks and returns the combined report.
// Workspace existence is checked concurrently; everything else is pure
// record inspection.
func (c *IntegrityChecker) Check(ctx context.Context) (*IntegrityReport, error) {
	recs, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	report := &IntegrityReport{Checked: len(recs)}

	c.checkDuplicates(recs, report)
	if err := c.checkSchemas(ctx, recs, report); err != nil {
		return nil, err
	}
	if err := c.checkWorkspaces(ctx, recs, report); err != nil {
		return nil, err
	}
	c.checkOrphans(recs, report)

	sort.Slice(report.Issues, func(i, j int) bool {
		if report.Issues[i].Kind != report.Issues[j].Kind {
			return report.Issues[i].Kind < report.Issues[j].Kind
		}
		return report.Issues[i].Session < report.Issues[j].Session
	})
	return report, nil
}

// checkDuplicates finds records sharing a name. The database backends
// make this impossible through the primary key; a damaged flat file can
// still carry duplicates. There is no safe automatic fix.
func (c *IntegrityChecker) checkDuplicates(recs []*session.Record, report *IntegrityReport) {
	seen := map[string]int{}
	for _, rec := range recs {
		seen[rec.Name]++
	}
	for name, count := range seen {
		if count > 1 {
			report.Issues = append(report.Issues, Issue{
				Kind:    IssueDuplicateName,
				Session: name,
				Detail:  fmt.Sprintf("%d records share the name %s", count, name),
			})
		}
	}
}

// checkSchemas validates each record against the canonical schema,
// which covers the PR-state/PR-branch consistency rules. In fix mode
// the PR fields are normalized where a safe repair exists.
func (c *IntegrityChecker) checkSchemas(ctx context.Context, recs []*session.Record, report *IntegrityReport) error {
	for _, rec := range recs {
		verr := rec.Validate()
		if verr == nil {
			continue
		}
		issue := Issue{
			Kind:    IssueInvalidRecord,
			Session: rec.Name,
			Detail:  verr.Error(),
		}
		if c.fix {
			if patch, ok := normalizePRFields(rec); ok {
				if _, uerr := c.store.Update(ctx, rec.Name, patch); uerr != nil {
					return sesherr.ErrStorage(
						fmt.Sprintf("normalize record %s", rec.Name), uerr)
				}
				issue.Fixed = true
				issue.FixNote = "pr fields normalized"
			} else {
				issue.FixNote = "no safe automatic repair"
			}
		}
		report.Issues = append(report.Issues, issue)
	}
	return nil
}

// normalizePRFields builds the patch that brings an inconsistent
// PR-state/PR-branch pair back to a valid combination. Deeper damage
// (missing name, branch, workspace) has no safe automatic repair.
func normalizePRFields(rec *session.Record) (session.Patch, bool) {
	switch {
	case !session.IsValidPRState(rec.PRState):
		// Unknown state: the PR fields cannot be trusted at all.
		return session.Patch{
			PRState:      session.StatePtr(session.PRStateNone),
			PRBranchName: session.StrPtr(""),
		}, true
	case rec.PRState == session.PRStateNone && rec.PRBranchName != "":
		return session.Patch{PRBranchName: session.StrPtr("")}, true
	case rec.PRState != session.PRStateNone && rec.PRBranchName == "":
		return session.Patch{PRState: session.StatePtr(session.PRStateNone)}, true
	}
	return session.Patch{}, false
}

// checkWorkspaces stats every record's workspace concurrently and flags
// records whose directory is gone. In fix mode the dangling record is
// deleted from the store.
func (c *IntegrityChecker) checkWorkspaces(ctx context.Context, recs []*session.Record, report *IntegrityReport) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, rec := range recs {
		g.Go(func() error {
			if rec.WorkspacePath == "" {
				return nil // caught by schema validation
			}
			info, err := os.Stat(rec.WorkspacePath)
			if err == nil && info.IsDir() {
				return nil
			}

			issue := Issue{
				Kind:    IssueDanglingRecord,
				Session: rec.Name,
				Path:    rec.WorkspacePath,
				Detail:  fmt.Sprintf("workspace directory %s does not exist", rec.WorkspacePath),
			}
			if c.fix {
				if derr := c.store.Delete(gctx, rec.Name); derr != nil {
					return sesherr.ErrStorage(
						fmt.Sprintf("remove dangling record %s", rec.Name), derr)
				}
				issue.Fixed = true
				issue.FixNote = "record removed from store"
			}
			mu.Lock()
			report.Issues = append(report.Issues, issue)
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// checkOrphans flags workspace directories that no record references.
// In fix mode the directory is removed; without it the orphan is only
// reported.
func (c *IntegrityChecker) checkOrphans(recs []*session.Record, report *IntegrityReport) {
	if c.workspacesDir == "" {
		return
	}
	entries, err := os.ReadDir(c.workspacesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		report.Issues = append(report.Issues, Issue{
			Kind:   IssueOrphanWorkspace,
			Path:   c.workspacesDir,
			Detail: "cannot read workspaces directory: " + err.Error(),
		})
		return
	}

	referenced := map[string]bool{}
	for _, rec := range recs {
		referenced[filepath.Clean(rec.WorkspacePath)] = true
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.workspacesDir, entry.Name())
		if referenced[filepath.Clean(path)] {
			continue
		}
		issue := Issue{
			Kind:   IssueOrphanWorkspace,
			Path:   path,
			Detail: fmt.Sprintf("workspace %s has no session record", entry.Name()),
		}
		if c.fix {
			if rerr := os.RemoveAll(path); rerr != nil {
				issue.FixNote = "remove failed: " + rerr.Error()
			} else {
				issue.Fixed = true
				issue.FixNote = "workspace directory removed"
			}
		}
		report.Issues = append(report.Issues, issue)
	}
}
