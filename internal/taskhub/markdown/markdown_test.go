package markdown

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/task"
	"github.com/randalmurphal/sesh/internal/taskhub"
)

func newTestBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	dir := t.TempDir()
	b, err := New(taskhub.Config{Dir: dir})
	require.NoError(t, err)
	return b, dir
}

func writeChecklist(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanChecklists(t *testing.T) {
	b, dir := newTestBackend(t)
	ctx := context.Background()

	writeChecklist(t, dir, "TASKS.md", strings.Join([]string{
		"# Tasks",
		"",
		"- [ ] Write the parser <!-- task:1 -->",
		"- [~] Wire up logging <!-- task:2 spec:docs/logging.md -->",
		"- [x] Set up CI <!-- task:3 -->",
		"- [ ] Untracked item without a tag",
		"",
	}, "\n"))
	// Nested files are discovered too.
	writeChecklist(t, dir, "plans/backlog.md", "- [!] Flaky test on arm64 <!-- task:4 -->\n")

	all, err := b.ListTasks(ctx, task.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4, "untagged lines are not tasks")

	rec, err := b.GetTask(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "Wire up logging", rec.Title)
	assert.Equal(t, task.StatusInProgress, rec.Status)
	assert.Equal(t, "docs/logging.md", rec.SpecReference)

	blocked, err := b.GetTask(ctx, "4")
	require.NoError(t, err)
	assert.Equal(t, task.StatusBlocked, blocked.Status)
}

func TestGetTaskNotFound(t *testing.T) {
	b, _ := newTestBackend(t)
	_, err := b.GetTask(context.Background(), "99")
	assert.True(t, sesherr.IsCode(err, sesherr.CodeTaskNotFound))
}

func TestCreateTaskAllocatesNextID(t *testing.T) {
	b, dir := newTestBackend(t)
	ctx := context.Background()

	writeChecklist(t, dir, "old.md", "- [x] Done long ago <!-- task:7 -->\n")

	rec, err := b.CreateTask(ctx, task.Spec{Title: "Fresh work", Status: task.StatusTodo})
	require.NoError(t, err)
	assert.Equal(t, "8", rec.ID, "ids continue past the highest across all files")

	data, err := os.ReadFile(filepath.Join(dir, "TASKS.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "- [ ] Fresh work <!-- task:8 -->")
}

func TestSetStatusRewritesGlyph(t *testing.T) {
	b, dir := newTestBackend(t)
	ctx := context.Background()

	writeChecklist(t, dir, "TASKS.md", strings.Join([]string{
		"# Sprint",
		"  - [ ] Indented entry <!-- task:1 spec:docs/a.md -->",
		"- [ ] Other entry <!-- task:2 -->",
	}, "\n"))

	rec, err := b.SetStatus(ctx, "1", task.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, rec.Status)

	data, err := os.ReadFile(filepath.Join(dir, "TASKS.md"))
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	assert.Equal(t, "  - [x] Indented entry <!-- task:1 spec:docs/a.md -->", lines[1],
		"indent and spec tag survive the rewrite")
	assert.Equal(t, "- [ ] Other entry <!-- task:2 -->", lines[2], "other lines untouched")
}

func TestDeleteTaskRemovesLine(t *testing.T) {
	b, dir := newTestBackend(t)
	ctx := context.Background()

	writeChecklist(t, dir, "TASKS.md", strings.Join([]string{
		"- [ ] Keep me <!-- task:1 -->",
		"- [ ] Delete me <!-- task:2 -->",
	}, "\n"))

	require.NoError(t, b.DeleteTask(ctx, "2"))

	data, err := os.ReadFile(filepath.Join(dir, "TASKS.md"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Delete me")
	assert.Contains(t, string(data), "Keep me")
}

func TestCustomGlobLimitsDiscovery(t *testing.T) {
	dir := t.TempDir()
	b, err := New(taskhub.Config{Dir: dir, Glob: "plans/*.md"})
	require.NoError(t, err)

	writeChecklist(t, dir, "TASKS.md", "- [ ] Out of scope <!-- task:1 -->\n")
	writeChecklist(t, dir, "plans/sprint.md", "- [ ] In scope <!-- task:2 -->\n")

	all, err := b.ListTasks(context.Background(), task.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "In scope", all[0].Title)
}
