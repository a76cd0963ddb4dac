package conflict

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sesh/internal/git"
)

func initRepo(t *testing.T) *git.Git {
	t.Helper()
	dir := t.TempDir()
	g := git.New(dir)
	runner := git.NewExecRunner()

	mustRun := func(args ...string) {
		t.Helper()
		_, err := runner.Run(dir, args...)
		require.NoError(t, err, "git %v", args)
	}
	mustRun("init", "-b", "main")
	mustRun("config", "user.email", "test@example.com")
	mustRun("config", "user.name", "Test User")

	writeFile(t, dir, "shared.txt", "line1\nline2\nline3\n")
	writeFile(t, dir, "doomed.txt", "to be deleted\n")
	_, err := g.Commit("initial commit")
	require.NoError(t, err)
	return g
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func commit(t *testing.T, g *git.Git, msg string) {
	t.Helper()
	_, err := g.Commit(msg)
	require.NoError(t, err)
}

func TestAnalyze_AlreadyMerged(t *testing.T) {
	g := initRepo(t)
	svc := NewService(g)

	// Branch with no commits of its own is contained in main.
	require.NoError(t, g.CreateBranch("session", "main"))

	report, err := svc.Analyze("session", "main")
	require.NoError(t, err)
	assert.Equal(t, VerdictAlreadyMerged, report.Verdict)
	assert.Empty(t, report.Entries)
	assert.Equal(t, 0, report.Ahead)
}

func TestAnalyze_Clean(t *testing.T) {
	g := initRepo(t)
	svc := NewService(g)

	require.NoError(t, g.CheckoutNew("session", "main"))
	writeFile(t, g.WorkDir(), "feature.txt", "new work\n")
	commit(t, g, "session work")
	require.NoError(t, g.Checkout("main"))

	report, err := svc.Analyze("session", "main")
	require.NoError(t, err)
	assert.Equal(t, VerdictClean, report.Verdict)
	assert.Equal(t, 1, report.Ahead)
	assert.Empty(t, report.Entries)
}

func TestAnalyze_ContentConflict(t *testing.T) {
	g := initRepo(t)
	svc := NewService(g)

	require.NoError(t, g.CheckoutNew("session", "main"))
	writeFile(t, g.WorkDir(), "shared.txt", "session line1\nline2\nline3\n")
	commit(t, g, "session edit")

	require.NoError(t, g.Checkout("main"))
	writeFile(t, g.WorkDir(), "shared.txt", "main line1\nline2\nline3\n")
	commit(t, g, "main edit")

	report, err := svc.Analyze("session", "main")
	require.NoError(t, err)
	assert.Equal(t, VerdictConflicts, report.Verdict)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, "shared.txt", report.Entries[0].Path)
	assert.Equal(t, KindContent, report.Entries[0].Kind)
	assert.Equal(t, ResolutionNone, report.Entries[0].Resolution)
}

func TestAnalyze_DeleteModifyConflict(t *testing.T) {
	g := initRepo(t)
	svc := NewService(g)

	// Session deletes the file, main modifies it.
	require.NoError(t, g.CheckoutNew("session", "main"))
	require.NoError(t, os.Remove(filepath.Join(g.WorkDir(), "doomed.txt")))
	commit(t, g, "session deletes doomed.txt")

	require.NoError(t, g.Checkout("main"))
	writeFile(t, g.WorkDir(), "doomed.txt", "modified on main\n")
	commit(t, g, "main modifies doomed.txt")

	report, err := svc.Analyze("session", "main")
	require.NoError(t, err)
	assert.Equal(t, VerdictConflicts, report.Verdict)
	require.Len(t, report.Entries, 1)

	entry := report.Entries[0]
	assert.Equal(t, "doomed.txt", entry.Path)
	assert.Equal(t, KindDeleteModify, entry.Kind)
	assert.Equal(t, ResolutionPreferDelete, entry.Resolution)
	assert.Equal(t, "session", entry.DeletedBy)
}

func TestAnalyze_MixedConflicts(t *testing.T) {
	g := initRepo(t)
	svc := NewService(g)

	require.NoError(t, g.CheckoutNew("session", "main"))
	writeFile(t, g.WorkDir(), "shared.txt", "session version\n")
	require.NoError(t, os.Remove(filepath.Join(g.WorkDir(), "doomed.txt")))
	commit(t, g, "session edits and deletes")

	require.NoError(t, g.Checkout("main"))
	writeFile(t, g.WorkDir(), "shared.txt", "main version\n")
	writeFile(t, g.WorkDir(), "doomed.txt", "main keeps it\n")
	commit(t, g, "main edits both")

	report, err := svc.Analyze("session", "main")
	require.NoError(t, err)
	assert.Equal(t, VerdictConflicts, report.Verdict)
	require.Len(t, report.Entries, 2)

	assert.Len(t, report.ContentEntries(), 1)
	assert.Len(t, report.DeleteModifyEntries(), 1)
	assert.ElementsMatch(t, []string{"shared.txt", "doomed.txt"}, report.Paths())
}

func TestAnalyze_NeverMutatesWorkspace(t *testing.T) {
	g := initRepo(t)
	svc := NewService(g)

	require.NoError(t, g.CheckoutNew("session", "main"))
	writeFile(t, g.WorkDir(), "shared.txt", "session version\n")
	commit(t, g, "session edit")
	require.NoError(t, g.Checkout("main"))
	writeFile(t, g.WorkDir(), "shared.txt", "main version\n")
	commit(t, g, "main edit")

	headBefore, err := g.RevParse("HEAD")
	require.NoError(t, err)

	_, err = svc.Analyze("session", "main")
	require.NoError(t, err)

	headAfter, err := g.RevParse("HEAD")
	require.NoError(t, err)
	assert.Equal(t, headBefore, headAfter)

	clean, err := g.IsClean()
	require.NoError(t, err)
	assert.True(t, clean)
}
