// Package workflow implements the session lifecycle: start, update,
// the PR state machine (prepare, approve, merge), and delete.
//
// Every mutating operation takes the session lock first and releases it
// when done; a second operation on the same session fails fast with
// SESSION_BUSY. The session record in the store is only updated after
// the git side of an operation has fully succeeded, so a failed
// operation never leaves a half-transitioned record.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/randalmurphal/sesh/internal/conflict"
	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/git"
	"github.com/randalmurphal/sesh/internal/lock"
	"github.com/randalmurphal/sesh/internal/session"
	"github.com/randalmurphal/sesh/internal/store"
	"github.com/randalmurphal/sesh/internal/task"
	"github.com/randalmurphal/sesh/internal/taskhub"
)

// DefaultBaseBranch is the branch sessions integrate with unless
// configured otherwise.
const DefaultBaseBranch = "main"

// DefaultRemote is the push/fetch remote.
const DefaultRemote = "origin"

// Options configures an Engine.
type Options struct {
	MetaDir       string // metadata directory (.sesh)
	WorkspacesDir string // defaults to MetaDir/workspaces
	BaseBranch    string // defaults to DefaultBaseBranch
	Remote        string // defaults to DefaultRemote
	Tasks         *taskhub.Router
	Runner        git.CommandRunner
}

// Engine drives session operations against a store, workspaces, and the
// task router.
type Engine struct {
	store         store.Store
	tasks         *taskhub.Router
	locker        *lock.SessionLocker
	storeLock     *lock.StoreLock
	metaDir       string
	workspacesDir string
	baseBranch    string
	remote        string
	runner        git.CommandRunner
}

// New creates an Engine.
func New(st store.Store, opts Options) *Engine {
	workspaces := opts.WorkspacesDir
	if workspaces == "" {
		workspaces = filepath.Join(opts.MetaDir, "workspaces")
	}
	base := opts.BaseBranch
	if base == "" {
		base = DefaultBaseBranch
	}
	remote := opts.Remote
	if remote == "" {
		remote = DefaultRemote
	}
	runner := opts.Runner
	if runner == nil {
		runner = git.NewExecRunner()
	}
	return &Engine{
		store:         st,
		tasks:         opts.Tasks,
		locker:        lock.NewSessionLocker(filepath.Join(opts.MetaDir, "locks"), ""),
		storeLock:     lock.NewStoreLock(opts.MetaDir, ""),
		metaDir:       opts.MetaDir,
		workspacesDir: workspaces,
		baseBranch:    base,
		remote:        remote,
		runner:        runner,
	}
}

// WorkspacesDir returns the directory session workspaces live under.
func (e *Engine) WorkspacesDir() string { return e.workspacesDir }

// checkStoreUnlocked fails fast while a migration holds the store.
func (e *Engine) checkStoreUnlocked() error {
	if e.storeLock.IsHeld() {
		return sesherr.ErrStorage(
			"store is locked for migration; retry when it finishes", nil)
	}
	return nil
}

// gitFor binds a git operator to a session's workspace.
func (e *Engine) gitFor(rec *session.Record) *git.Git {
	return git.NewWithRunner(rec.WorkspacePath, e.runner)
}

// mapGitError converts classified git failures to the stable error codes.
func mapGitError(err error, branch string) error {
	var ge *git.GitError
	if !errors.As(err, &ge) {
		return err
	}
	switch ge.Kind {
	case git.FailureMergeConflict:
		return sesherr.ErrMergeConflict(ge.Files).WithCause(err)
	case git.FailureDirtyWorkspace:
		return sesherr.ErrDirtyWorkspace("").WithCause(err)
	case git.FailureNetwork:
		return sesherr.ErrTransient("git remote operation failed", err)
	case git.FailureAuth:
		return sesherr.ErrPushFailed(branch, err)
	default:
		return err
	}
}

// StartOptions configures session creation.
type StartOptions struct {
	Name       string
	RepoURI    string // remote URL, or path to a local repository
	TaskID     string // optional task to track
	BaseBranch string // overrides the engine default
}

// Start creates a session: a workspace with the repository, a session
// branch off the base branch, and a store record. When the repo URI
// points at a local repository, the workspace is attached as a worktree
// instead of cloning. A tracked task is moved to IN-PROGRESS.
func (e *Engine) Start(ctx context.Context, opts StartOptions) (*session.Record, error) {
	if err := e.checkStoreUnlocked(); err != nil {
		return nil, err
	}
	if err := session.ValidateName(opts.Name); err != nil {
		return nil, sesherr.ErrValidation("invalid session name", err.Error())
	}
	if opts.RepoURI == "" {
		return nil, sesherr.ErrValidation("repository URI is required", "")
	}
	if _, err := e.store.Get(ctx, opts.Name); err == nil {
		return nil, sesherr.ErrValidation(
			fmt.Sprintf("session %s already exists", opts.Name),
			"Session names are unique within a store")
	} else if !sesherr.IsCode(err, sesherr.CodeSessionNotFound) {
		return nil, err
	}

	// Resolve the task before any filesystem work so a bad id costs
	// nothing.
	backendPrefix := ""
	if opts.TaskID != "" {
		if e.tasks == nil {
			return nil, sesherr.ErrValidation("no task backends configured", "")
		}
		b, _, err := e.tasks.Resolve(opts.TaskID)
		if err != nil {
			return nil, err
		}
		if _, err := e.tasks.GetTask(ctx, opts.TaskID); err != nil {
			return nil, err
		}
		backendPrefix = b.Prefix()
	}

	base := opts.BaseBranch
	if base == "" {
		base = e.baseBranch
	}
	workspace := filepath.Join(e.workspacesDir, opts.Name)
	if _, err := os.Stat(workspace); err == nil {
		return nil, sesherr.ErrValidation(
			fmt.Sprintf("workspace %s already exists", workspace),
			"Run 'sesh store check' if this is a leftover from a deleted session")
	}
	if err := os.MkdirAll(e.workspacesDir, 0o755); err != nil {
		return nil, sesherr.ErrStorage("create workspaces directory", err)
	}

	isWorktree, err := e.provisionWorkspace(opts.RepoURI, workspace, opts.Name, base)
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		if isWorktree {
			_ = git.NewWithRunner(opts.RepoURI, e.runner).RemoveWorktree(workspace, true)
		}
		_ = os.RemoveAll(workspace)
	}

	rec := &session.Record{
		Name:          opts.Name,
		RepositoryURI: opts.RepoURI,
		WorkspacePath: workspace,
		BranchName:    opts.Name,
		TaskID:        opts.TaskID,
		BackendName:   backendPrefix,
		PRState:       session.PRStateNone,
	}
	rec.Touch()
	rec.CreatedAt = rec.UpdatedAt
	if err := e.store.Create(ctx, rec); err != nil {
		cleanup()
		return nil, err
	}

	if opts.TaskID != "" {
		if _, err := e.tasks.SetStatus(ctx, opts.TaskID, task.StatusInProgress, false); err != nil {
			// The session exists and is usable; the tracker just lags.
			slog.Warn("could not move task to IN-PROGRESS",
				"session", opts.Name, "task", opts.TaskID, "error", err)
		}
	}

	slog.Info("session started", "session", opts.Name, "branch", rec.BranchName,
		"workspace", workspace, "worktree", isWorktree)
	return rec, nil
}

// provisionWorkspace materializes the repository at workspace with the
// session branch checked out.
func (e *Engine) provisionWorkspace(repoURI, workspace, branch, base string) (isWorktree bool, err error) {
	// A local path holding a git repository gets a worktree; anything
	// else is cloned.
	if info, statErr := os.Stat(repoURI); statErr == nil && info.IsDir() {
		local := git.NewWithRunner(repoURI, e.runner)
		if local.IsRepository() {
			if err := local.AddWorktree(workspace, branch, base); err != nil {
				return false, mapGitError(err, branch)
			}
			return true, nil
		}
	}

	if err := git.Clone(e.runner, repoURI, workspace); err != nil {
		_ = os.RemoveAll(workspace)
		return false, mapGitError(err, branch)
	}
	g := git.NewWithRunner(workspace, e.runner)
	if err := g.CheckoutNew(branch, base); err != nil {
		_ = os.RemoveAll(workspace)
		return false, mapGitError(err, branch)
	}
	return false, nil
}

// UpdateOptions configures Update.
type UpdateOptions struct {
	// AutoResolveDeletes applies the prefer-delete resolution to
	// delete/modify conflicts. Content conflicts still abort.
	AutoResolveDeletes bool
}

// UpdateResult reports what Update did.
type UpdateResult struct {
	Report *conflict.Report
	Merged bool // a merge commit was created
}

// Update merges the base branch into the session branch. The conflict
// analysis runs first and never mutates the workspace: an already-merged
// base is a no-op, predicted content conflicts abort before any merge is
// attempted, and delete/modify conflicts are resolved in favor of the
// deletion only when opted in.
func (e *Engine) Update(ctx context.Context, name string, opts UpdateOptions) (*UpdateResult, error) {
	if err := e.checkStoreUnlocked(); err != nil {
		return nil, err
	}
	rec, err := e.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := e.locker.Acquire(rec.Name); err != nil {
		return nil, err
	}
	defer e.releaseLock(rec)

	g := e.gitFor(rec)
	if err := e.requireCleanOnBranch(g, rec); err != nil {
		return nil, err
	}

	base, err := e.syncBase(g)
	if err != nil {
		return nil, err
	}

	report, err := conflict.NewService(g).Analyze(rec.BranchName, base)
	if err != nil {
		return nil, sesherr.Wrap(err, "analyze merge").WithContext(rec.Name, "update")
	}

	result := &UpdateResult{Report: report}
	switch report.Verdict {
	case conflict.VerdictAlreadyMerged:
		// Nothing to pull in; deliberately not an error.
		return result, nil

	case conflict.VerdictClean:
		if err := g.MergeNoFastForward(base, e.mergeMessage(rec, base)); err != nil {
			return nil, mapGitError(err, rec.BranchName)
		}
		result.Merged = true
		return result, nil

	default: // conflicts
		if len(report.ContentEntries()) > 0 || !opts.AutoResolveDeletes {
			return nil, sesherr.ErrMergeConflict(report.Paths()).WithContext(rec.Name, "update")
		}
		var deletes []string
		for _, entry := range report.DeleteModifyEntries() {
			deletes = append(deletes, entry.Path)
		}
		if err := g.MergeResolvingDeletes(base, e.mergeMessage(rec, base), deletes); err != nil {
			return nil, mapGitError(err, rec.BranchName)
		}
		result.Merged = true
		return result, nil
	}
}

// PrepareOptions configures PreparePR.
type PrepareOptions struct {
	// SyncFirst runs Update before preparing, so the PR branch includes
	// the latest base. Off by default: preparing never implies syncing.
	SyncFirst bool
	// AutoResolveDeletes is passed through to the sync when SyncFirst is
	// set.
	AutoResolveDeletes bool
}

// PreparePR builds the PR branch pr/<sessionBranch>: created from the
// base branch, the session branch merged in with a real merge commit
// (never a fast-forward), and pushed. Re-running it with nothing new on
// either side keeps the existing merge commit; when the base or the
// session moved, the PR branch is rebuilt from the current tips. Safe
// at any time before merge. A tracked task moves to IN-REVIEW.
func (e *Engine) PreparePR(ctx context.Context, name string, opts PrepareOptions) (*session.Record, error) {
	if err := e.checkStoreUnlocked(); err != nil {
		return nil, err
	}
	rec, err := e.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec.PRState == session.PRStateMerged {
		return nil, sesherr.ErrAlreadyMerged(rec.BranchName, e.baseBranch)
	}
	if err := e.locker.Acquire(rec.Name); err != nil {
		return nil, err
	}
	defer e.releaseLock(rec)

	g := e.gitFor(rec)
	if err := e.requireCleanOnBranch(g, rec); err != nil {
		return nil, err
	}

	if opts.SyncFirst {
		// Inline sync: a nested Update would release our lock marker on
		// its way out.
		if err := e.syncSessionBranch(g, rec, opts.AutoResolveDeletes); err != nil {
			return nil, err
		}
	}

	base, err := e.syncBase(g)
	if err != nil {
		return nil, err
	}

	prBranch := rec.PRBranch()
	exists, err := g.BranchExists(prBranch)
	if err != nil {
		return nil, mapGitError(err, prBranch)
	}
	if exists {
		current, err := e.prBranchCurrent(g, prBranch, base, rec.BranchName)
		if err != nil {
			return nil, mapGitError(err, prBranch)
		}
		if current {
			// Neither side moved since the last prepare: the existing
			// merge commit stands, identity and all.
			if rec.PRState != session.PRStateNone {
				slog.Info("PR branch already current",
					"session", rec.Name, "pr_branch", prBranch)
				return rec, nil
			}
			// The branch outlived its record state (a crash between the
			// git work and the store write); repair the record only.
			updated, err := e.store.Update(ctx, rec.Name, session.Patch{
				PRBranchName: session.StrPtr(prBranch),
				PRState:      session.StatePtr(session.PRStatePrepared),
			})
			if err != nil {
				return nil, err
			}
			e.advanceTask(ctx, updated, task.StatusInReview)
			return updated, nil
		}
		// Stale: rebuilt from the current base below.
		if err := g.DeleteBranch(prBranch, true); err != nil {
			return nil, mapGitError(err, prBranch)
		}
	}

	if err := g.CheckoutNew(prBranch, base); err != nil {
		return nil, mapGitError(err, prBranch)
	}
	// Whatever happens past this point, end back on the session branch.
	defer func() {
		if checkoutErr := g.Checkout(rec.BranchName); checkoutErr != nil {
			slog.Warn("could not return to session branch",
				"session", rec.Name, "branch", rec.BranchName, "error", checkoutErr)
		}
	}()

	msg := fmt.Sprintf("Merge session %s for review", rec.Name)
	if err := g.MergeNoFastForward(rec.BranchName, msg); err != nil {
		return nil, mapGitError(err, rec.BranchName)
	}

	if g.HasRemote(e.remote) {
		// A rebuilt PR branch rewrites history, so the push must move
		// the remote ref even when it already exists.
		if err := g.Push(e.remote, prBranch, true, exists); err != nil {
			return nil, sesherr.ErrPushFailed(prBranch, err).WithContext(rec.Name, "prepare")
		}
	}

	updated, err := e.store.Update(ctx, rec.Name, session.Patch{
		PRBranchName: session.StrPtr(prBranch),
		PRState:      session.StatePtr(session.PRStatePrepared),
	})
	if err != nil {
		return nil, err
	}

	e.advanceTask(ctx, updated, task.StatusInReview)
	slog.Info("PR branch prepared", "session", rec.Name, "pr_branch", prBranch)
	return updated, nil
}

// Approve marks a prepared session as approved. Pure record state; no
// git happens here.
func (e *Engine) Approve(ctx context.Context, name string) (*session.Record, error) {
	if err := e.checkStoreUnlocked(); err != nil {
		return nil, err
	}
	rec, err := e.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	switch rec.PRState {
	case session.PRStatePrepared:
		// the one legal predecessor
	case session.PRStateApproved:
		return rec, nil // idempotent
	case session.PRStateMerged:
		return nil, sesherr.ErrAlreadyMerged(rec.BranchName, e.baseBranch)
	default:
		return nil, sesherr.ErrState(rec.Name, string(rec.PRState), string(session.PRStatePrepared))
	}

	return e.store.Update(ctx, rec.Name, session.Patch{
		PRState: session.StatePtr(session.PRStateApproved),
	})
}

// MergeOptions configures Merge.
type MergeOptions struct {
	// DeletePRBranch removes the PR branch locally and on the remote
	// after a successful merge.
	DeletePRBranch bool
}

// Merge fast-forwards the base branch to the approved PR branch and
// pushes it. Only approved sessions merge; a base branch that moved
// since prepare refuses the fast-forward and asks for a re-prepare. A
// tracked task moves to DONE.
func (e *Engine) Merge(ctx context.Context, name string, opts MergeOptions) (*session.Record, error) {
	if err := e.checkStoreUnlocked(); err != nil {
		return nil, err
	}
	rec, err := e.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	switch rec.PRState {
	case session.PRStateApproved:
	case session.PRStateMerged:
		return nil, sesherr.ErrAlreadyMerged(rec.BranchName, e.baseBranch)
	default:
		return nil, sesherr.ErrState(rec.Name, string(rec.PRState), string(session.PRStateApproved))
	}

	if err := e.locker.Acquire(rec.Name); err != nil {
		return nil, err
	}
	defer e.releaseLock(rec)

	g := e.gitFor(rec)
	clean, err := g.IsClean()
	if err != nil {
		return nil, mapGitError(err, rec.BranchName)
	}
	if !clean {
		return nil, sesherr.ErrDirtyWorkspace(rec.WorkspacePath)
	}

	baseRef, err := e.syncBase(g)
	if err != nil {
		return nil, err
	}

	if err := g.Checkout(e.baseBranch); err != nil {
		return nil, mapGitError(err, e.baseBranch)
	}
	defer func() {
		if checkoutErr := g.Checkout(rec.BranchName); checkoutErr != nil {
			slog.Warn("could not return to session branch",
				"session", rec.Name, "branch", rec.BranchName, "error", checkoutErr)
		}
	}()

	// The local base catches up to the remote tip first; a diverged local
	// base is something a human has to untangle.
	if baseRef != e.baseBranch {
		if err := g.MergeFastForwardOnly(baseRef); err != nil {
			return nil, sesherr.ErrState(rec.Name,
				"local "+e.baseBranch+" diverged from "+baseRef,
				e.baseBranch+" at the remote tip").WithCause(err)
		}
	}

	if err := g.MergeFastForwardOnly(rec.PRBranchName); err != nil {
		// The base moved since prepare; the PR branch no longer contains
		// its tip.
		return nil, sesherr.ErrState(rec.Name,
			"pr branch behind "+e.baseBranch,
			"fast-forwardable pr branch; run 'sesh prepare' again").WithCause(err)
	}

	if g.HasRemote(e.remote) {
		if err := g.Push(e.remote, e.baseBranch, false, false); err != nil {
			return nil, sesherr.ErrPushFailed(e.baseBranch, err).WithContext(rec.Name, "merge")
		}
	}

	updated, err := e.store.Update(ctx, rec.Name, session.Patch{
		PRState: session.StatePtr(session.PRStateMerged),
	})
	if err != nil {
		return nil, err
	}

	if opts.DeletePRBranch {
		if err := g.DeleteBranch(rec.PRBranchName, true); err != nil {
			slog.Warn("could not delete local PR branch",
				"session", rec.Name, "branch", rec.PRBranchName, "error", err)
		}
		if g.HasRemote(e.remote) {
			if err := g.Push(e.remote, ":"+rec.PRBranchName, false, false); err != nil {
				slog.Warn("could not delete remote PR branch",
					"session", rec.Name, "branch", rec.PRBranchName, "error", err)
			}
		}
	}

	e.advanceTask(ctx, updated, task.StatusDone)
	slog.Info("session merged", "session", rec.Name, "base", e.baseBranch)
	return updated, nil
}

// DeleteOptions configures Delete.
type DeleteOptions struct {
	// Force deletes even when the workspace has uncommitted changes or
	// the session was never merged.
	Force bool
	// KeepWorkspace removes only the record, leaving the directory.
	KeepWorkspace bool
}

// Delete removes a session's record and workspace. Without force it
// refuses to destroy uncommitted work.
func (e *Engine) Delete(ctx context.Context, name string, opts DeleteOptions) error {
	if err := e.checkStoreUnlocked(); err != nil {
		return err
	}
	rec, err := e.store.Get(ctx, name)
	if err != nil {
		return err
	}

	workspaceExists := true
	if _, statErr := os.Stat(rec.WorkspacePath); os.IsNotExist(statErr) {
		workspaceExists = false
	}

	if workspaceExists {
		if err := e.locker.Acquire(rec.Name); err != nil {
			return err
		}
		defer e.releaseLock(rec)

		if !opts.Force {
			g := e.gitFor(rec)
			clean, cleanErr := g.IsClean()
			if cleanErr == nil && !clean {
				return sesherr.ErrDirtyWorkspace(rec.WorkspacePath)
			}
		}
	}

	if err := e.store.Delete(ctx, rec.Name); err != nil {
		return err
	}

	if workspaceExists && !opts.KeepWorkspace {
		// Worktree-attached workspaces must be detached from their parent
		// repository, not just removed from disk.
		if info, statErr := os.Stat(rec.RepositoryURI); statErr == nil && info.IsDir() {
			parent := git.NewWithRunner(rec.RepositoryURI, e.runner)
			if parent.IsRepository() {
				if err := parent.RemoveWorktree(rec.WorkspacePath, true); err != nil {
					slog.Warn("could not detach worktree",
						"session", rec.Name, "workspace", rec.WorkspacePath, "error", err)
				}
			}
		}
		if err := os.RemoveAll(rec.WorkspacePath); err != nil {
			return sesherr.ErrStorage("remove workspace "+rec.WorkspacePath, err)
		}
	}

	slog.Info("session deleted", "session", rec.Name, "kept_workspace", opts.KeepWorkspace)
	return nil
}

// List returns all session records.
func (e *Engine) List(ctx context.Context) ([]*session.Record, error) {
	return e.store.List(ctx)
}

// Show resolves one session by name or task id.
func (e *Engine) Show(ctx context.Context, nameOrTaskID string) (*session.Record, error) {
	return e.store.Get(ctx, nameOrTaskID)
}

// Analyze runs the read-only conflict analysis for a session without
// taking the lock or touching anything.
func (e *Engine) Analyze(ctx context.Context, name string) (*conflict.Report, error) {
	rec, err := e.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	g := e.gitFor(rec)
	base, err := e.syncBase(g)
	if err != nil {
		return nil, err
	}
	return conflict.NewService(g).Analyze(rec.BranchName, base)
}

// --- helpers ---

func (e *Engine) releaseLock(rec *session.Record) {
	if err := e.locker.Release(rec.Name); err != nil {
		slog.Warn("release session lock", "session", rec.Name, "error", err)
	}
}

// requireCleanOnBranch enforces the preconditions shared by update and
// prepare: a clean tree, checked out on the session branch.
func (e *Engine) requireCleanOnBranch(g *git.Git, rec *session.Record) error {
	clean, err := g.IsClean()
	if err != nil {
		return mapGitError(err, rec.BranchName)
	}
	if !clean {
		return sesherr.ErrDirtyWorkspace(rec.WorkspacePath)
	}
	current, err := g.CurrentBranch()
	if err != nil {
		return mapGitError(err, rec.BranchName)
	}
	if current != rec.BranchName {
		return sesherr.ErrState(rec.Name,
			"on branch "+current, "on branch "+rec.BranchName)
	}
	return nil
}

// prBranchCurrent reports whether prBranch is already the merge of the
// current base tip and session tip, in which case rebuilding it would
// only mint a new commit for the same content.
func (e *Engine) prBranchCurrent(g *git.Git, prBranch, base, sessionBranch string) (bool, error) {
	baseTip, err := g.RevParse(base)
	if err != nil {
		return false, err
	}
	sessionTip, err := g.RevParse(sessionBranch)
	if err != nil {
		return false, err
	}
	first, err := g.RevParse(prBranch + "^1")
	if err != nil {
		return false, nil // not a merge commit; rebuild
	}
	second, err := g.RevParse(prBranch + "^2")
	if err != nil {
		return false, nil
	}
	return first == baseTip && second == sessionTip, nil
}

// syncBase fetches the remote (when there is one) and returns the ref
// to treat as the base branch tip.
func (e *Engine) syncBase(g *git.Git) (string, error) {
	if !g.HasRemote(e.remote) {
		return e.baseBranch, nil
	}
	if err := g.Fetch(e.remote); err != nil {
		return "", mapGitError(err, e.baseBranch)
	}
	return e.remote + "/" + e.baseBranch, nil
}

// syncSessionBranch is the lock-free core of Update, used by PreparePR
// when SyncFirst is set.
func (e *Engine) syncSessionBranch(g *git.Git, rec *session.Record, autoResolveDeletes bool) error {
	base, err := e.syncBase(g)
	if err != nil {
		return err
	}
	report, err := conflict.NewService(g).Analyze(rec.BranchName, base)
	if err != nil {
		return sesherr.Wrap(err, "analyze merge").WithContext(rec.Name, "prepare")
	}
	switch report.Verdict {
	case conflict.VerdictAlreadyMerged:
		return nil
	case conflict.VerdictClean:
		return mapGitError(g.MergeNoFastForward(base, e.mergeMessage(rec, base)), rec.BranchName)
	default:
		if len(report.ContentEntries()) > 0 || !autoResolveDeletes {
			return sesherr.ErrMergeConflict(report.Paths()).WithContext(rec.Name, "prepare")
		}
		var deletes []string
		for _, entry := range report.DeleteModifyEntries() {
			deletes = append(deletes, entry.Path)
		}
		return mapGitError(
			g.MergeResolvingDeletes(base, e.mergeMessage(rec, base), deletes), rec.BranchName)
	}
}

func (e *Engine) mergeMessage(rec *session.Record, base string) string {
	return fmt.Sprintf("Merge %s into session %s", base, rec.Name)
}

// advanceTask moves a tracked task forward, logging instead of failing:
// by the time it runs the git work is already pushed.
func (e *Engine) advanceTask(ctx context.Context, rec *session.Record, status task.Status) {
	if e.tasks == nil || rec.TaskID == "" {
		return
	}
	if _, err := e.tasks.SetStatus(ctx, rec.TaskID, status, false); err != nil {
		slog.Warn("could not advance tracked task",
			"session", rec.Name, "task", rec.TaskID, "status", status, "error", err)
	}
}
