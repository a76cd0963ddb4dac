package git

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		stderr   string
		exitCode int
		want     FailureKind
	}{
		{
			name:     "not a repository",
			stderr:   "fatal: not a git repository (or any of the parent directories): .git",
			exitCode: 128,
			want:     FailureNotARepository,
		},
		{
			name:     "dns failure",
			stderr:   "fatal: unable to access 'https://example.com/repo.git/': Could not resolve host: example.com",
			exitCode: 128,
			want:     FailureNetwork,
		},
		{
			name:     "connection refused",
			stderr:   "ssh: connect to host github.com port 22: Connection refused\nfatal: Could not read from remote repository.",
			exitCode: 128,
			want:     FailureNetwork,
		},
		{
			name:     "ssh auth",
			stderr:   "git@github.com: Permission denied (publickey).\nfatal: Could not read from remote repository.",
			exitCode: 128,
			want:     FailureAuth,
		},
		{
			name:     "https auth",
			stderr:   "remote: Support for password authentication was removed on August 13, 2021.\nfatal: Authentication failed for 'https://github.com/acme/app.git/'",
			exitCode: 128,
			want:     FailureAuth,
		},
		{
			name:     "dirty checkout",
			stderr:   "error: Your local changes to the following files would be overwritten by checkout:\n\tREADME.md\nPlease commit your changes or stash them before you switch branches.",
			exitCode: 1,
			want:     FailureDirtyWorkspace,
		},
		{
			name:     "merge conflict on stderr",
			stderr:   "Automatic merge failed; fix conflicts and then commit the result.",
			exitCode: 1,
			want:     FailureMergeConflict,
		},
		{
			name:     "unknown",
			stderr:   "fatal: something completely unexpected",
			exitCode: 1,
			want:     FailureUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind := classify(&CommandError{
				Args:     []string{"merge"},
				Stderr:   tt.stderr,
				ExitCode: tt.exitCode,
				Err:      fmt.Errorf("exit status %d", tt.exitCode),
			})
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestWrapErr(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, wrapErr("op", nil))
	})

	t.Run("wraps command error with classification", func(t *testing.T) {
		cmdErr := &CommandError{
			Args:     []string{"push", "origin", "main"},
			Stderr:   "fatal: unable to access 'https://x/': Connection timed out",
			ExitCode: 128,
		}
		err := wrapErr("push main", cmdErr)
		assert.Equal(t, FailureNetwork, KindOf(err))

		var ge *GitError
		assert.ErrorAs(t, err, &ge)
		assert.Equal(t, "push main", ge.Op)
	})

	t.Run("non-command error is unknown", func(t *testing.T) {
		err := wrapErr("op", fmt.Errorf("plain error"))
		assert.Equal(t, FailureUnknown, KindOf(err))
	})
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, FailureUnknown, KindOf(fmt.Errorf("nope")))
}
