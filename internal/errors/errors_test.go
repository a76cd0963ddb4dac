package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeshError_Error(t *testing.T) {
	err := &SeshError{
		Code: CodeStorageError,
		What: "write failed",
		Why:  "disk full",
	}
	assert.Equal(t, "write failed: disk full", err.Error())

	withCause := err.WithCause(fmt.Errorf("ENOSPC"))
	assert.Equal(t, "write failed: disk full: ENOSPC", withCause.Error())
}

func TestSeshError_Is(t *testing.T) {
	a := ErrSessionNotFound("foo")
	b := ErrSessionNotFound("bar")
	assert.ErrorIs(t, a, b, "errors with the same code should match")

	c := ErrValidation("bad name", "empty")
	assert.NotErrorIs(t, a, c)
}

func TestSeshError_WrappedCodeMatching(t *testing.T) {
	inner := ErrTransient("connect refused", fmt.Errorf("dial tcp: refused"))
	wrapped := fmt.Errorf("save session: %w", inner)

	assert.True(t, IsTransient(wrapped))
	assert.Equal(t, CodeTransient, CodeOf(wrapped))

	se := AsSeshError(wrapped)
	require.NotNil(t, se)
	assert.Equal(t, CodeTransient, se.Code)
}

func TestSeshError_WithContext(t *testing.T) {
	err := ErrDirtyWorkspace("/tmp/ws").WithContext("foo", "prepare-pr")
	assert.Equal(t, CodeDirtyWorkspace, err.Code)
	assert.Contains(t, err.What, "session foo")
	assert.Contains(t, err.What, "prepare-pr")
}

func TestMergeConflict_CarriesPaths(t *testing.T) {
	err := ErrMergeConflict([]string{"a.go", "b.go"})
	assert.Equal(t, []string{"a.go", "b.go"}, err.Paths)
	assert.Contains(t, err.UserMessage(), "a.go")
}

func TestIsTransient_NeverForValidation(t *testing.T) {
	assert.False(t, IsTransient(ErrValidation("x", "y")))
	assert.False(t, IsTransient(ErrMergeConflict([]string{"a"})))
	assert.False(t, IsTransient(nil))
}
