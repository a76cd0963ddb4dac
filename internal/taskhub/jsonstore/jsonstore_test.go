package jsonstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/task"
	"github.com/randalmurphal/sesh/internal/taskhub"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(taskhub.Config{Path: filepath.Join(t.TempDir(), "tasks.json")})
	require.NoError(t, err)
	return b
}

func TestCreateAndGet(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	rec, err := b.CreateTask(ctx, task.Spec{
		Title:         "Implement retries",
		Status:        task.StatusTodo,
		SpecReference: "docs/retries.md",
	})
	require.NoError(t, err)
	assert.Equal(t, "1", rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := b.GetTask(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Implement retries", got.Title)
	assert.Equal(t, "docs/retries.md", got.SpecReference)
}

func TestIDsNeverReused(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	first, err := b.CreateTask(ctx, task.Spec{Title: "one", Status: task.StatusTodo})
	require.NoError(t, err)
	require.NoError(t, b.DeleteTask(ctx, first.ID))

	second, err := b.CreateTask(ctx, task.Spec{Title: "two", Status: task.StatusTodo})
	require.NoError(t, err)
	assert.Equal(t, "2", second.ID, "deleting a task must not recycle its id")
}

func TestSetStatusPersists(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	rec, err := b.CreateTask(ctx, task.Spec{Title: "work", Status: task.StatusTodo})
	require.NoError(t, err)

	updated, err := b.SetStatus(ctx, rec.ID, task.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, updated.Status)

	// Reopen the file through a fresh backend instance.
	reopened, err := New(taskhub.Config{Path: b.path})
	require.NoError(t, err)
	got, err := reopened.GetTask(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, got.Status)
}

func TestListFiltersByStatus(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.CreateTask(ctx, task.Spec{Title: "a", Status: task.StatusTodo})
	require.NoError(t, err)
	_, err = b.CreateTask(ctx, task.Spec{Title: "b", Status: task.StatusDone})
	require.NoError(t, err)

	done, err := b.ListTasks(ctx, task.Filter{Status: task.StatusDone})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "b", done[0].Title)
}

func TestNotFoundErrors(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.GetTask(ctx, "42")
	assert.True(t, sesherr.IsCode(err, sesherr.CodeTaskNotFound))
	_, err = b.SetStatus(ctx, "42", task.StatusDone)
	assert.True(t, sesherr.IsCode(err, sesherr.CodeTaskNotFound))
	err = b.DeleteTask(ctx, "42")
	assert.True(t, sesherr.IsCode(err, sesherr.CodeTaskNotFound))
}
