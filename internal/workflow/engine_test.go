package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/git"
	"github.com/randalmurphal/sesh/internal/lock"
	"github.com/randalmurphal/sesh/internal/session"
	"github.com/randalmurphal/sesh/internal/store"
	"github.com/randalmurphal/sesh/internal/task"
	"github.com/randalmurphal/sesh/internal/taskhub"
	"github.com/randalmurphal/sesh/internal/taskhub/jsonstore"
)

// harness wires an engine against a local bare origin so the full
// clone/fetch/push cycle runs without any network.
type harness struct {
	engine  *Engine
	store   store.Store
	tasks   *taskhub.Router
	origin  string // bare repository acting as the remote
	base    string // working clone used to move the base branch
	metaDir string
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := git.NewExecRunner().Run(dir, args...)
	require.NoError(t, err, "git %v in %s", args, dir)
	return out
}

func setIdentity(t *testing.T, dir string) {
	t.Helper()
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test User")
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func commitFile(t *testing.T, dir, name, content, message string) {
	t.Helper()
	writeFile(t, dir, name, content)
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-m", message)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()

	seed := filepath.Join(root, "seed")
	require.NoError(t, os.MkdirAll(seed, 0o755))
	runGit(t, seed, "init", "-b", "main")
	setIdentity(t, seed)
	commitFile(t, seed, "README.md", "hello\n", "initial commit")
	commitFile(t, seed, "doomed.txt", "short-lived\n", "add doomed")

	origin := filepath.Join(root, "origin.git")
	runGit(t, root, "clone", "--bare", seed, origin)

	base := filepath.Join(root, "base")
	runGit(t, root, "clone", origin, base)
	setIdentity(t, base)

	metaDir := filepath.Join(root, ".sesh")
	require.NoError(t, os.MkdirAll(metaDir, 0o755))
	st, err := store.Open(context.Background(), metaDir, store.DefaultConfig(metaDir))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	backend, err := jsonstore.New(taskhub.Config{Path: filepath.Join(metaDir, "tasks.json")})
	require.NoError(t, err)
	router := taskhub.NewRouter()
	require.NoError(t, router.Register(backend))

	return &harness{
		engine:  New(st, Options{MetaDir: metaDir, Tasks: router}),
		store:   st,
		tasks:   router,
		origin:  origin,
		base:    base,
		metaDir: metaDir,
	}
}

// start creates a session from the bare origin and gives its workspace a
// commit identity.
func (h *harness) start(t *testing.T, name, taskID string) *session.Record {
	t.Helper()
	rec, err := h.engine.Start(context.Background(), StartOptions{
		Name:    name,
		RepoURI: h.origin,
		TaskID:  taskID,
	})
	require.NoError(t, err)
	setIdentity(t, rec.WorkspacePath)
	return rec
}

// moveBase commits to main in the base clone and pushes it to origin.
func (h *harness) moveBase(t *testing.T, name, content, message string) {
	t.Helper()
	commitFile(t, h.base, name, content, message)
	runGit(t, h.base, "push", "origin", "main")
}

func (h *harness) taskStatus(t *testing.T, id string) task.Status {
	t.Helper()
	rec, err := h.tasks.GetTask(context.Background(), id)
	require.NoError(t, err)
	return rec.Status
}

func TestStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.start(t, "billing", "")
	assert.Equal(t, "billing", rec.BranchName)
	assert.Equal(t, session.PRStateNone, rec.PRState)
	assert.DirExists(t, rec.WorkspacePath)

	g := git.New(rec.WorkspacePath)
	branch, err := g.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "billing", branch)

	t.Run("duplicate name rejected", func(t *testing.T) {
		_, err := h.engine.Start(ctx, StartOptions{Name: "billing", RepoURI: h.origin})
		assert.True(t, sesherr.IsCode(err, sesherr.CodeValidation))
	})

	t.Run("invalid name rejected", func(t *testing.T) {
		_, err := h.engine.Start(ctx, StartOptions{Name: "pr/nope", RepoURI: h.origin})
		assert.True(t, sesherr.IsCode(err, sesherr.CodeValidation))
	})

	t.Run("unknown task leaves no session behind", func(t *testing.T) {
		_, err := h.engine.Start(ctx, StartOptions{
			Name: "ghost", RepoURI: h.origin, TaskID: "json#99",
		})
		assert.True(t, sesherr.IsCode(err, sesherr.CodeTaskNotFound))
		_, err = h.store.Get(ctx, "ghost")
		assert.True(t, sesherr.IsCode(err, sesherr.CodeSessionNotFound))
		assert.NoDirExists(t, filepath.Join(h.engine.WorkspacesDir(), "ghost"))
	})
}

func TestStart_TrackedTaskMovesToInProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.tasks.CreateTask(ctx, "json", task.Spec{Title: "wire the importer"})
	require.NoError(t, err)

	rec := h.start(t, "importer", created.ID)
	assert.Equal(t, created.ID, rec.TaskID)
	assert.Equal(t, task.StatusInProgress, h.taskStatus(t, created.ID))

	// Sessions resolve by task id too.
	byTask, err := h.engine.Show(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "importer", byTask.Name)
}

func TestStart_LocalRepositoryUsesWorktree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	parent := filepath.Join(t.TempDir(), "parent")
	require.NoError(t, os.MkdirAll(parent, 0o755))
	runGit(t, parent, "init", "-b", "main")
	setIdentity(t, parent)
	commitFile(t, parent, "README.md", "local\n", "initial commit")

	rec, err := h.engine.Start(ctx, StartOptions{Name: "local-work", RepoURI: parent})
	require.NoError(t, err)

	// Worktrees have a .git file pointing at the parent, not a directory.
	info, err := os.Stat(filepath.Join(rec.WorkspacePath, ".git"))
	require.NoError(t, err)
	assert.False(t, info.IsDir())

	require.NoError(t, h.engine.Delete(ctx, "local-work", DeleteOptions{}))
	assert.NoDirExists(t, rec.WorkspacePath)
	out := runGit(t, parent, "worktree", "list")
	assert.NotContains(t, out, rec.WorkspacePath)
}

func TestUpdate_CleanMerge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.start(t, "clean-sync", "")
	commitFile(t, rec.WorkspacePath, "feature.txt", "work\n", "session work")
	h.moveBase(t, "base.txt", "base moved\n", "base commit")

	res, err := h.engine.Update(ctx, "clean-sync", UpdateOptions{})
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.FileExists(t, filepath.Join(rec.WorkspacePath, "base.txt"))

	clean, err := git.New(rec.WorkspacePath).IsClean()
	require.NoError(t, err)
	assert.True(t, clean)
}

func TestUpdate_AlreadyMergedIsNoOp(t *testing.T) {
	h := newHarness(t)

	rec := h.start(t, "fresh", "")
	res, err := h.engine.Update(context.Background(), "fresh", UpdateOptions{})
	require.NoError(t, err)
	assert.False(t, res.Merged)

	head, err := git.New(rec.WorkspacePath).RevParse("HEAD")
	require.NoError(t, err)
	headAfter, err := git.New(rec.WorkspacePath).RevParse("HEAD")
	require.NoError(t, err)
	assert.Equal(t, head, headAfter)
}

func TestUpdate_ContentConflictAborts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.start(t, "conflicted", "")
	commitFile(t, rec.WorkspacePath, "README.md", "session side\n", "session edit")
	h.moveBase(t, "README.md", "base side\n", "base edit")

	g := git.New(rec.WorkspacePath)
	headBefore, err := g.RevParse("HEAD")
	require.NoError(t, err)

	_, err = h.engine.Update(ctx, "conflicted", UpdateOptions{})
	require.Error(t, err)
	assert.True(t, sesherr.IsCode(err, sesherr.CodeMergeConflict))
	se := sesherr.AsSeshError(err)
	require.NotNil(t, se)
	assert.Contains(t, se.Paths, "README.md")

	// The workspace must be exactly as it was: no merge in progress, no
	// moved HEAD, no dirty files.
	headAfter, err := g.RevParse("HEAD")
	require.NoError(t, err)
	assert.Equal(t, headBefore, headAfter)
	clean, err := g.IsClean()
	require.NoError(t, err)
	assert.True(t, clean)
}

func TestUpdate_DeleteModifyAutoResolve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.start(t, "pruner", "")
	runGit(t, rec.WorkspacePath, "rm", "-q", "doomed.txt")
	runGit(t, rec.WorkspacePath, "commit", "-m", "delete doomed")
	h.moveBase(t, "doomed.txt", "still edited\n", "base edits doomed")

	// Without the opt-in the conflict is reported, not resolved.
	_, err := h.engine.Update(ctx, "pruner", UpdateOptions{})
	require.Error(t, err)
	assert.True(t, sesherr.IsCode(err, sesherr.CodeMergeConflict))

	res, err := h.engine.Update(ctx, "pruner", UpdateOptions{AutoResolveDeletes: true})
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.NoFileExists(t, filepath.Join(rec.WorkspacePath, "doomed.txt"))

	clean, err := git.New(rec.WorkspacePath).IsClean()
	require.NoError(t, err)
	assert.True(t, clean)
}

func TestUpdate_LockingLeavesWorkspaceClean(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.start(t, "quiet", "")
	commitFile(t, rec.WorkspacePath, "feature.txt", "work\n", "session work")
	h.moveBase(t, "base.txt", "base moved\n", "base commit")

	// The lock taken for the operation must not show up as an untracked
	// file, or every locked session would refuse with DIRTY_WORKSPACE.
	_, err := h.engine.Update(ctx, "quiet", UpdateOptions{})
	require.NoError(t, err)

	status := runGit(t, rec.WorkspacePath, "status", "--porcelain")
	assert.Empty(t, status)
	entries, err := os.ReadDir(rec.WorkspacePath)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), "lock")
	}
}

func TestUpdate_DirtyWorkspaceRefused(t *testing.T) {
	h := newHarness(t)

	rec := h.start(t, "dirty", "")
	writeFile(t, rec.WorkspacePath, "uncommitted.txt", "wip\n")

	_, err := h.engine.Update(context.Background(), "dirty", UpdateOptions{})
	assert.True(t, sesherr.IsCode(err, sesherr.CodeDirtyWorkspace))

	_, err = h.engine.PreparePR(context.Background(), "dirty", PrepareOptions{})
	assert.True(t, sesherr.IsCode(err, sesherr.CodeDirtyWorkspace))
}

func TestPRLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.tasks.CreateTask(ctx, "json", task.Spec{Title: "ship billing"})
	require.NoError(t, err)

	rec := h.start(t, "billing", created.ID)
	commitFile(t, rec.WorkspacePath, "billing.go", "package billing\n", "session work")

	t.Run("approve before prepare is a state error", func(t *testing.T) {
		_, err := h.engine.Approve(ctx, "billing")
		assert.True(t, sesherr.IsCode(err, sesherr.CodeStateError))
	})

	t.Run("merge before approve is a state error", func(t *testing.T) {
		_, err := h.engine.Merge(ctx, "billing", MergeOptions{})
		assert.True(t, sesherr.IsCode(err, sesherr.CodeStateError))
	})

	prepared, err := h.engine.PreparePR(ctx, "billing", PrepareOptions{})
	require.NoError(t, err)
	assert.Equal(t, session.PRStatePrepared, prepared.PRState)
	assert.Equal(t, "pr/billing", prepared.PRBranchName)
	assert.Equal(t, task.StatusInReview, h.taskStatus(t, created.ID))

	// The PR branch reached the remote, and the workspace is back on the
	// session branch.
	originGit := git.New(h.origin)
	exists, err := originGit.BranchExists("pr/billing")
	require.NoError(t, err)
	assert.True(t, exists)
	branch, err := git.New(rec.WorkspacePath).CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "billing", branch)

	t.Run("prepare refreshes the PR branch", func(t *testing.T) {
		firstTip, err := originGit.RevParse("pr/billing")
		require.NoError(t, err)

		commitFile(t, rec.WorkspacePath, "billing.go", "package billing // v2\n", "more work")
		again, err := h.engine.PreparePR(ctx, "billing", PrepareOptions{})
		require.NoError(t, err)
		assert.Equal(t, session.PRStatePrepared, again.PRState)

		secondTip, err := originGit.RevParse("pr/billing")
		require.NoError(t, err)
		assert.NotEqual(t, firstTip, secondTip)
	})

	approved, err := h.engine.Approve(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, session.PRStateApproved, approved.PRState)

	t.Run("approve is idempotent", func(t *testing.T) {
		again, err := h.engine.Approve(ctx, "billing")
		require.NoError(t, err)
		assert.Equal(t, session.PRStateApproved, again.PRState)
	})

	merged, err := h.engine.Merge(ctx, "billing", MergeOptions{DeletePRBranch: true})
	require.NoError(t, err)
	assert.Equal(t, session.PRStateMerged, merged.PRState)
	assert.Equal(t, task.StatusDone, h.taskStatus(t, created.ID))

	// The session's work landed on the remote base branch and the PR
	// branch is gone.
	runGit(t, h.base, "pull", "origin", "main")
	assert.FileExists(t, filepath.Join(h.base, "billing.go"))
	exists, err = originGit.BranchExists("pr/billing")
	require.NoError(t, err)
	assert.False(t, exists)

	t.Run("merge twice reports already merged", func(t *testing.T) {
		_, err := h.engine.Merge(ctx, "billing", MergeOptions{})
		assert.True(t, sesherr.IsCode(err, sesherr.CodeAlreadyMerged))
	})

	t.Run("prepare after merge reports already merged", func(t *testing.T) {
		_, err := h.engine.PreparePR(ctx, "billing", PrepareOptions{})
		assert.True(t, sesherr.IsCode(err, sesherr.CodeAlreadyMerged))
	})
}

func TestPreparePR_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.start(t, "stable", "")
	commitFile(t, rec.WorkspacePath, "stable.go", "package stable\n", "session work")

	first, err := h.engine.PreparePR(ctx, "stable", PrepareOptions{})
	require.NoError(t, err)
	assert.Equal(t, session.PRStatePrepared, first.PRState)

	g := git.New(rec.WorkspacePath)
	tipAfterFirst, err := g.RevParse("pr/stable")
	require.NoError(t, err)

	// Nothing changed on either side: the merge commit identity must
	// survive a second prepare.
	again, err := h.engine.PreparePR(ctx, "stable", PrepareOptions{})
	require.NoError(t, err)
	assert.Equal(t, session.PRStatePrepared, again.PRState)

	tipAfterSecond, err := g.RevParse("pr/stable")
	require.NoError(t, err)
	assert.Equal(t, tipAfterFirst, tipAfterSecond)

	// New session work invalidates the old merge commit.
	commitFile(t, rec.WorkspacePath, "stable.go", "package stable // v2\n", "more work")
	_, err = h.engine.PreparePR(ctx, "stable", PrepareOptions{})
	require.NoError(t, err)
	tipAfterThird, err := g.RevParse("pr/stable")
	require.NoError(t, err)
	assert.NotEqual(t, tipAfterFirst, tipAfterThird)
}

func TestPreparePR_SyncFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.start(t, "synced", "")
	commitFile(t, rec.WorkspacePath, "work.txt", "work\n", "session work")
	h.moveBase(t, "base.txt", "base moved\n", "base commit")

	prepared, err := h.engine.PreparePR(ctx, "synced", PrepareOptions{SyncFirst: true})
	require.NoError(t, err)
	assert.Equal(t, session.PRStatePrepared, prepared.PRState)

	// The sync ran on the session branch itself, not just the PR branch.
	assert.FileExists(t, filepath.Join(rec.WorkspacePath, "base.txt"))
}

func TestMerge_SequentialSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alpha := h.start(t, "alpha", "")
	commitFile(t, alpha.WorkspacePath, "alpha.txt", "first\n", "alpha work")
	beta := h.start(t, "beta", "")
	commitFile(t, beta.WorkspacePath, "beta.txt", "second\n", "beta work")

	// Both sessions prepared and approved against the same base.
	_, err := h.engine.PreparePR(ctx, "alpha", PrepareOptions{})
	require.NoError(t, err)
	_, err = h.engine.PreparePR(ctx, "beta", PrepareOptions{})
	require.NoError(t, err)
	_, err = h.engine.Approve(ctx, "alpha")
	require.NoError(t, err)
	_, err = h.engine.Approve(ctx, "beta")
	require.NoError(t, err)

	_, err = h.engine.Merge(ctx, "alpha", MergeOptions{})
	require.NoError(t, err)

	// Alpha's merge moved the base, so beta's PR branch no longer
	// descends from it: the fast-forward-only merge must refuse instead
	// of minting an untested merge.
	_, err = h.engine.Merge(ctx, "beta", MergeOptions{})
	require.Error(t, err)
	assert.True(t, sesherr.IsCode(err, sesherr.CodeStateError))
	rec, err := h.store.Get(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, session.PRStateApproved, rec.PRState)

	// Re-preparing rebuilds the PR branch on the new base; the session
	// then goes back through approval.
	reprepared, err := h.engine.PreparePR(ctx, "beta", PrepareOptions{})
	require.NoError(t, err)
	assert.Equal(t, session.PRStatePrepared, reprepared.PRState)
	_, err = h.engine.Approve(ctx, "beta")
	require.NoError(t, err)
	_, err = h.engine.Merge(ctx, "beta", MergeOptions{})
	require.NoError(t, err)

	// Both sessions' work landed on the remote base branch.
	runGit(t, h.base, "pull", "origin", "main")
	assert.FileExists(t, filepath.Join(h.base, "alpha.txt"))
	assert.FileExists(t, filepath.Join(h.base, "beta.txt"))
}

func TestMerge_BusySessionFailsFast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.start(t, "contended", "")

	// A live foreign holder: PID 1 never dies while the tests run.
	marker := lock.Marker{Owner: "someone@elsewhere", TTL: "10m", PID: 1}
	data, err := yaml.Marshal(&marker)
	require.NoError(t, err)
	locksDir := filepath.Join(h.metaDir, "locks")
	require.NoError(t, os.MkdirAll(locksDir, 0o755))
	markerPath := filepath.Join(locksDir, "contended.yaml")
	require.NoError(t, os.WriteFile(markerPath, data, 0o644))

	_, err = h.engine.Update(ctx, "contended", UpdateOptions{})
	assert.True(t, sesherr.IsCode(err, sesherr.CodeSessionBusy))

	require.NoError(t, os.Remove(markerPath))
	_, err = h.engine.Update(ctx, "contended", UpdateOptions{})
	assert.NoError(t, err)
}

func TestEngine_RefusesLockedStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.start(t, "stalled", "")

	migration := lock.NewStoreLock(h.metaDir, "migrator@host")
	require.NoError(t, migration.Acquire())
	defer migration.Release()

	_, err := h.engine.Update(ctx, "stalled", UpdateOptions{})
	assert.True(t, sesherr.IsCode(err, sesherr.CodeStorageError))
	_, err = h.engine.Start(ctx, StartOptions{Name: "another", RepoURI: h.origin})
	assert.True(t, sesherr.IsCode(err, sesherr.CodeStorageError))

	require.NoError(t, migration.Release())
	_, err = h.engine.Update(ctx, "stalled", UpdateOptions{})
	assert.NoError(t, err)
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("clean session is removed", func(t *testing.T) {
		rec := h.start(t, "done-with", "")
		require.NoError(t, h.engine.Delete(ctx, "done-with", DeleteOptions{}))
		assert.NoDirExists(t, rec.WorkspacePath)
		_, err := h.store.Get(ctx, "done-with")
		assert.True(t, sesherr.IsCode(err, sesherr.CodeSessionNotFound))
	})

	t.Run("dirty session needs force", func(t *testing.T) {
		rec := h.start(t, "messy", "")
		writeFile(t, rec.WorkspacePath, "wip.txt", "uncommitted\n")

		err := h.engine.Delete(ctx, "messy", DeleteOptions{})
		assert.True(t, sesherr.IsCode(err, sesherr.CodeDirtyWorkspace))

		require.NoError(t, h.engine.Delete(ctx, "messy", DeleteOptions{Force: true}))
		assert.NoDirExists(t, rec.WorkspacePath)
	})

	t.Run("keep workspace leaves the directory", func(t *testing.T) {
		rec := h.start(t, "keeper", "")
		require.NoError(t, h.engine.Delete(ctx, "keeper", DeleteOptions{KeepWorkspace: true}))
		assert.DirExists(t, rec.WorkspacePath)
		_, err := h.store.Get(ctx, "keeper")
		assert.True(t, sesherr.IsCode(err, sesherr.CodeSessionNotFound))
	})

	t.Run("missing workspace still deletes the record", func(t *testing.T) {
		rec := h.start(t, "vanished", "")
		require.NoError(t, os.RemoveAll(rec.WorkspacePath))
		require.NoError(t, h.engine.Delete(ctx, "vanished", DeleteOptions{}))
	})
}

func TestAnalyze_IsReadOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.start(t, "observer", "")
	commitFile(t, rec.WorkspacePath, "README.md", "session side\n", "session edit")
	h.moveBase(t, "README.md", "base side\n", "base edit")

	g := git.New(rec.WorkspacePath)
	headBefore, err := g.RevParse("HEAD")
	require.NoError(t, err)

	report, err := h.engine.Analyze(ctx, "observer")
	require.NoError(t, err)
	assert.Len(t, report.Entries, 1)

	headAfter, err := g.RevParse("HEAD")
	require.NoError(t, err)
	assert.Equal(t, headBefore, headAfter)
}

func TestList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.start(t, "alpha", "")
	h.start(t, "beta", "")

	recs, err := h.engine.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "alpha", recs[0].Name)
	assert.Equal(t, "beta", recs[1].Name)
}
