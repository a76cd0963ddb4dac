package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
)

func writeTestMarker(t *testing.T, dir, name string, m *Marker) {
	t.Helper()
	data, err := yaml.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0o644))
}

func TestSessionLocker_AcquireRelease(t *testing.T) {
	dir := t.TempDir()
	locker := NewSessionLocker(dir, "alice@laptop")

	require.NoError(t, locker.Acquire("fix-login"))

	holder, err := locker.Holder("fix-login")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "alice@laptop", holder.Owner)
	assert.Equal(t, os.Getpid(), holder.PID)

	require.NoError(t, locker.Release("fix-login"))

	holder, err = locker.Holder("fix-login")
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestSessionLocker_MarkersStayOutOfWorkspaces(t *testing.T) {
	root := t.TempDir()
	locksDir := filepath.Join(root, "locks")
	workspace := filepath.Join(root, "workspaces", "fix-login")
	require.NoError(t, os.MkdirAll(workspace, 0o755))

	locker := NewSessionLocker(locksDir, "alice@laptop")
	require.NoError(t, locker.Acquire("fix-login"))

	// The workspace tree must be untouched by locking.
	entries, err := os.ReadDir(workspace)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.FileExists(t, filepath.Join(locksDir, "fix-login.yaml"))
}

func TestSessionLocker_SecondAcquireFailsFast(t *testing.T) {
	dir := t.TempDir()
	alice := NewSessionLocker(dir, "alice@laptop")

	require.NoError(t, alice.Acquire("fix-login"))

	// Same PID is treated as re-entrant, so simulate another holder with
	// a dead-but-recent PID: honored until the TTL runs out.
	writeTestMarker(t, dir, "fix-login", &Marker{
		Owner:    "bob@desktop",
		Acquired: time.Now().UTC(),
		TTL:      time.Hour.String(),
		PID:      0,
	})

	err := alice.Acquire("fix-login")
	require.Error(t, err)
	assert.True(t, sesherr.IsCode(err, sesherr.CodeSessionBusy))
}

func TestSessionLocker_ClaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	locker := NewSessionLocker(dir, "alice@laptop")

	// Dead PID and an expired TTL makes the lock claimable.
	writeTestMarker(t, dir, "fix-login", &Marker{
		Owner:    "ghost@gone",
		Acquired: time.Now().UTC().Add(-2 * time.Hour),
		TTL:      time.Minute.String(),
		PID:      0,
	})

	require.NoError(t, locker.Acquire("fix-login"))

	holder, err := locker.Holder("fix-login")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "alice@laptop", holder.Owner)
}

func TestMarker_IsStale(t *testing.T) {
	// Live PID is never stale regardless of age.
	live := &Marker{PID: os.Getpid(), Acquired: time.Now().Add(-24 * time.Hour), TTL: "1m"}
	assert.False(t, live.IsStale())

	// Dead PID within TTL is still honored.
	fresh := &Marker{PID: 0, Acquired: time.Now(), TTL: "1h"}
	assert.False(t, fresh.IsStale())

	// Dead PID past TTL is stale.
	old := &Marker{PID: 0, Acquired: time.Now().Add(-2 * time.Hour), TTL: "1m"}
	assert.True(t, old.IsStale())
}

func TestStoreLock_Exclusive(t *testing.T) {
	dir := t.TempDir()

	first := NewStoreLock(dir, "alice@laptop")
	require.NoError(t, first.Acquire())
	assert.True(t, first.IsHeld())

	second := NewStoreLock(dir, "bob@desktop")
	err := second.Acquire()
	require.Error(t, err)
	assert.True(t, sesherr.IsCode(err, sesherr.CodeStorageError))

	require.NoError(t, first.Release())
	require.NoError(t, second.Acquire())
	require.NoError(t, second.Release())
}

func TestStoreLock_ReleaseWithoutAcquireIsNoop(t *testing.T) {
	dir := t.TempDir()
	l := NewStoreLock(dir, "alice@laptop")
	assert.NoError(t, l.Release())
}
