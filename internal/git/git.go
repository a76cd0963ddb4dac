// Package git wraps the system git binary for session workspaces.
//
// Every operation either returns a typed payload or a *GitError whose
// kind is classified from subprocess stderr and exit codes. Operations
// mutate only the working tree and local refs they name; nothing here
// force-pushes unless the caller asks for it explicitly.
package git

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Git performs git operations inside one working directory.
type Git struct {
	workDir string
	runner  CommandRunner
}

// New creates a Git bound to the repository at workDir.
func New(workDir string) *Git {
	return &Git{workDir: workDir, runner: NewExecRunner()}
}

// NewWithRunner creates a Git with a custom runner, for tests.
func NewWithRunner(workDir string, runner CommandRunner) *Git {
	return &Git{workDir: workDir, runner: runner}
}

// WorkDir returns the bound working directory.
func (g *Git) WorkDir() string {
	return g.workDir
}

// run executes git in the bound working directory.
func (g *Git) run(args ...string) (string, error) {
	return g.runner.Run(g.workDir, args...)
}

// Clone clones repoURI into dest. dest must not exist or be empty.
func Clone(runner CommandRunner, repoURI, dest string) error {
	if runner == nil {
		runner = NewExecRunner()
	}
	_, err := runner.Run("", "clone", repoURI, dest)
	return wrapErr("clone "+repoURI, err)
}

// IsRepository reports whether workDir is inside a git work tree.
func (g *Git) IsRepository() bool {
	out, err := g.run("rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch() (string, error) {
	out, err := g.run("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", wrapErr("current branch", err)
	}
	return out, nil
}

// IsClean reports whether the working tree has no staged, unstaged, or
// untracked changes.
func (g *Git) IsClean() (bool, error) {
	out, err := g.run("status", "--porcelain")
	if err != nil {
		return false, wrapErr("status", err)
	}
	return out == "", nil
}

// RevParse resolves a ref to its commit SHA.
func (g *Git) RevParse(ref string) (string, error) {
	out, err := g.run("rev-parse", "--verify", ref)
	if err != nil {
		return "", wrapErr("rev-parse "+ref, err)
	}
	return out, nil
}

// BranchExists checks if a local branch exists.
func (g *Git) BranchExists(branch string) (bool, error) {
	_, err := g.run("show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
			return false, nil
		}
		return false, wrapErr("check branch "+branch, err)
	}
	return true, nil
}

// CreateBranch creates branch from base without checking it out.
func (g *Git) CreateBranch(branch, base string) error {
	_, err := g.run("branch", branch, base)
	return wrapErr("create branch "+branch, err)
}

// Checkout switches the working tree to branch.
func (g *Git) Checkout(branch string) error {
	_, err := g.run("checkout", branch)
	return wrapErr("checkout "+branch, err)
}

// CheckoutNew creates branch from base and checks it out.
func (g *Git) CheckoutNew(branch, base string) error {
	_, err := g.run("checkout", "-b", branch, base)
	return wrapErr("checkout -b "+branch, err)
}

// DeleteBranch deletes a local branch. force uses -D.
func (g *Git) DeleteBranch(branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.run("branch", flag, branch)
	return wrapErr("delete branch "+branch, err)
}

// Commit stages all changes and commits with the given message.
func (g *Git) Commit(message string) (string, error) {
	if _, err := g.run("add", "-A"); err != nil {
		return "", wrapErr("stage changes", err)
	}
	if _, err := g.run("commit", "-m", message); err != nil {
		return "", wrapErr("commit", err)
	}
	return g.RevParse("HEAD")
}

// Fetch fetches refs from the remote.
func (g *Git) Fetch(remote string) error {
	_, err := g.run("fetch", remote)
	return wrapErr("fetch "+remote, err)
}

// Push pushes branch to remote. Force pushing uses --force-with-lease
// and happens only when the caller explicitly requests it.
func (g *Git) Push(remote, branch string, setUpstream, force bool) error {
	args := []string{"push"}
	if force {
		args = append(args, "--force-with-lease")
	}
	if setUpstream {
		args = append(args, "-u")
	}
	args = append(args, remote, branch)
	_, err := g.run(args...)
	return wrapErr("push "+branch, err)
}

// MergeNoFastForward merges branch into the current branch with a merge
// commit (never a fast-forward). On conflict the returned GitError
// carries the unmerged paths and the merge is aborted, leaving the tree
// as it was.
func (g *Git) MergeNoFastForward(branch, message string) error {
	_, err := g.run("merge", "--no-ff", "-m", message, branch)
	if err == nil {
		return nil
	}
	return g.mergeFailure("merge --no-ff "+branch, err)
}

// MergeFastForwardOnly advances the current branch to branch without
// creating a merge commit. Fails if a fast-forward is not possible.
func (g *Git) MergeFastForwardOnly(branch string) error {
	_, err := g.run("merge", "--ff-only", branch)
	return wrapErr("merge --ff-only "+branch, err)
}

// Merge merges branch into the current branch, fast-forwarding when
// possible. Conflicts are aborted and reported with their paths.
func (g *Git) Merge(branch, message string) error {
	_, err := g.run("merge", "-m", message, branch)
	if err == nil {
		return nil
	}
	return g.mergeFailure("merge "+branch, err)
}

// mergeFailure inspects a failed merge. Unmerged paths in the index are
// authoritative for conflict detection; when present the in-progress
// merge is aborted so the workspace is left untouched.
func (g *Git) mergeFailure(op string, err error) error {
	files, listErr := g.ConflictedPaths()
	if listErr == nil && len(files) > 0 {
		if _, abortErr := g.run("merge", "--abort"); abortErr != nil {
			// The abort failing is worse than the conflict itself.
			return wrapErr(op+" (abort failed)", abortErr)
		}
		return &GitError{Kind: FailureMergeConflict, Op: op, Files: files, Cause: err}
	}
	return wrapErr(op, err)
}

// MergeResolvingDeletes merges branch into the current branch, resolving
// conflicts by deletion for exactly the given paths. Any conflict
// outside allowedDeletes aborts the whole merge and reports every
// conflicted path, leaving the tree as it was.
func (g *Git) MergeResolvingDeletes(branch, message string, allowedDeletes []string) error {
	_, err := g.run("merge", "--no-ff", "-m", message, branch)
	if err == nil {
		return nil
	}

	conflicted, listErr := g.ConflictedPaths()
	if listErr != nil || len(conflicted) == 0 {
		return wrapErr("merge "+branch, err)
	}

	allowed := make(map[string]bool, len(allowedDeletes))
	for _, p := range allowedDeletes {
		allowed[p] = true
	}
	for _, p := range conflicted {
		if !allowed[p] {
			if _, abortErr := g.run("merge", "--abort"); abortErr != nil {
				return wrapErr("merge "+branch+" (abort failed)", abortErr)
			}
			return &GitError{Kind: FailureMergeConflict, Op: "merge " + branch, Files: conflicted, Cause: err}
		}
	}

	for _, p := range conflicted {
		if rmErr := g.RemoveFromIndexAndTree(p); rmErr != nil {
			if _, abortErr := g.run("merge", "--abort"); abortErr != nil {
				return wrapErr("resolve "+p+" (abort failed)", abortErr)
			}
			return rmErr
		}
	}
	if _, commitErr := g.run("commit", "--no-edit", "-m", message); commitErr != nil {
		return wrapErr("conclude merge "+branch, commitErr)
	}
	return nil
}

// ConflictedPaths lists paths with unmerged index entries.
func (g *Git) ConflictedPaths() ([]string, error) {
	out, err := g.run("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, wrapErr("list conflicts", err)
	}
	return splitLines(out), nil
}

// IsAncestor reports whether ancestor is reachable from ref, i.e. the
// ancestor's history is fully contained in ref's.
func (g *Git) IsAncestor(ancestor, ref string) (bool, error) {
	_, err := g.run("merge-base", "--is-ancestor", ancestor, ref)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
			return false, nil
		}
		return false, wrapErr("merge-base --is-ancestor", err)
	}
	return true, nil
}

// MergeBase returns the best common ancestor of two refs.
func (g *Git) MergeBase(a, b string) (string, error) {
	out, err := g.run("merge-base", a, b)
	if err != nil {
		return "", wrapErr("merge-base", err)
	}
	return out, nil
}

// MergeBaseAheadCount returns how many commits branch is ahead of and
// behind base.
func (g *Git) MergeBaseAheadCount(branch, base string) (ahead, behind int, err error) {
	out, runErr := g.run("rev-list", "--left-right", "--count", base+"..."+branch)
	if runErr != nil {
		return 0, 0, wrapErr("rev-list --count", runErr)
	}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", out)
	}
	behind, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parse behind count: %w", err)
	}
	ahead, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parse ahead count: %w", err)
	}
	return ahead, behind, nil
}

// ChangeStatus is a single-letter git name-status code (A, M, D, R...).
type ChangeStatus string

// ChangedPaths returns path → status for commits in from..to.
func (g *Git) ChangedPaths(from, to string) (map[string]ChangeStatus, error) {
	out, err := g.run("diff", "--name-status", from+".."+to)
	if err != nil {
		return nil, wrapErr("diff --name-status", err)
	}
	changes := make(map[string]ChangeStatus)
	for _, line := range splitLines(out) {
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		status := ChangeStatus(fields[0][:1])
		// Renames/copies report old and new path; record the new one.
		path := fields[len(fields)-1]
		changes[path] = status
	}
	return changes, nil
}

// MergeTreeResult is the outcome of a dry-run merge.
type MergeTreeResult struct {
	Clean           bool
	ConflictedPaths []string
}

// MergeTreeDryRun performs an in-memory three-way merge of two refs
// without touching the working tree, returning the conflicted paths.
// Requires git >= 2.38 for merge-tree --write-tree.
func (g *Git) MergeTreeDryRun(branch, base string) (*MergeTreeResult, error) {
	out, err := g.run("merge-tree", "--write-tree", "--name-only", base, branch)
	if err == nil {
		return &MergeTreeResult{Clean: true}, nil
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.ExitCode != 1 {
		return nil, wrapErr("merge-tree", err)
	}

	// Exit 1 is "merge has conflicts": the first stdout line is the tree
	// OID, followed by conflicted file names until a blank line.
	lines := strings.Split(cmdErr.Stdout, "\n")
	if out != "" {
		lines = strings.Split(out, "\n")
	}
	var paths []string
	for i, line := range lines {
		if i == 0 {
			continue // tree OID
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break // informational section follows
		}
		paths = append(paths, line)
	}
	return &MergeTreeResult{Clean: false, ConflictedPaths: paths}, nil
}

// RemoveFromIndexAndTree removes a path from both the index and the
// working tree. Used to apply delete-resolutions during update.
func (g *Git) RemoveFromIndexAndTree(path string) error {
	_, err := g.run("rm", "--force", "--ignore-unmatch", "--", path)
	return wrapErr("rm "+path, err)
}

// AddWorktree attaches a new worktree at path on a new branch created
// from base. Used when the session's repo source is the local repository.
func (g *Git) AddWorktree(path, branch, base string) error {
	_, err := g.run("worktree", "add", "-b", branch, path, base)
	return wrapErr("worktree add "+path, err)
}

// RemoveWorktree detaches a worktree. force discards local changes.
func (g *Git) RemoveWorktree(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := g.run(args...)
	return wrapErr("worktree remove "+path, err)
}

// RemoteURL returns the URL of the named remote.
func (g *Git) RemoteURL(remote string) (string, error) {
	out, err := g.run("remote", "get-url", remote)
	if err != nil {
		return "", wrapErr("remote get-url "+remote, err)
	}
	return out, nil
}

// HasRemote reports whether the named remote is configured.
func (g *Git) HasRemote(remote string) bool {
	_, err := g.RemoteURL(remote)
	return err == nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
