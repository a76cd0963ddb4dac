// Package lock provides advisory file locks for sessions and stores.
//
// Session locks are single-shot: an operation acquires the lock marker at
// its start and releases it when done. A second operation targeting the
// same session fails fast instead of blocking. Store locks serialize
// whole-store work (migration) against every session mutation.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
)

// DefaultTTL bounds how long a lock from a dead or wedged process is
// honored when PID liveness cannot be determined.
const DefaultTTL = 10 * time.Minute

// Marker is the on-disk lock state.
type Marker struct {
	Owner    string    `yaml:"owner"` // user@machine identifier
	Acquired time.Time `yaml:"acquired"`
	TTL      string    `yaml:"ttl"`
	PID      int       `yaml:"pid"`
}

// TTLDuration parses the TTL string, falling back to DefaultTTL.
func (m *Marker) TTLDuration() time.Duration {
	d, err := time.ParseDuration(m.TTL)
	if err != nil {
		return DefaultTTL
	}
	return d
}

// IsStale reports whether the lock can be claimed. A live holder process
// always keeps the lock fresh; when the PID is dead or unknown the TTL
// decides.
func (m *Marker) IsStale() bool {
	if IsPIDAlive(m.PID) {
		return false
	}
	return time.Since(m.Acquired) > m.TTLDuration()
}

// IsPIDAlive checks if a process with the given PID exists.
// On Unix-like systems, this sends signal 0 to check existence.
func IsPIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// DefaultOwner returns the user@host identifier used for lock ownership.
func DefaultOwner() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return user + "@" + host
}

// SessionLocker manages per-session advisory locks. Markers live in
// their own directory, never inside a workspace: anything written into
// a workspace would show up in git status and make every locked
// session look dirty.
type SessionLocker struct {
	dir   string
	owner string
	mu    sync.Mutex
}

// NewSessionLocker creates a SessionLocker keeping its markers under
// dir, for the given owner identity.
func NewSessionLocker(dir, owner string) *SessionLocker {
	if owner == "" {
		owner = DefaultOwner()
	}
	return &SessionLocker{dir: dir, owner: owner}
}

func (l *SessionLocker) markerPath(name string) string {
	return filepath.Join(l.dir, name+".yaml")
}

// Acquire takes the lock for a session or fails fast with SESSION_BUSY.
// A stale marker (dead holder past TTL) is claimed silently.
func (l *SessionLocker) Acquire(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	path := l.markerPath(name)
	existing, err := readMarker(path)
	if err == nil {
		if !existing.IsStale() && existing.PID != os.Getpid() {
			return sesherr.ErrSessionBusy(name, existing.Owner)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read lock marker: %w", err)
	}

	m := &Marker{
		Owner:    l.owner,
		Acquired: time.Now().UTC(),
		TTL:      DefaultTTL.String(),
		PID:      os.Getpid(),
	}
	if err := writeMarker(path, m); err != nil {
		return fmt.Errorf("write lock marker: %w", err)
	}
	return nil
}

// Release removes the session lock. Releasing a lock that is absent or
// owned by someone else is an error for the latter only.
func (l *SessionLocker) Release(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.markerPath(name)
	existing, err := readMarker(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock marker: %w", err)
	}
	if existing.Owner != l.owner && !existing.IsStale() {
		return fmt.Errorf("session %s: lock owned by %s", name, existing.Owner)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock marker: %w", err)
	}
	return nil
}

// Holder returns the current lock marker for a session, or nil when the
// session is unlocked (no marker or stale marker).
func (l *SessionLocker) Holder(name string) (*Marker, error) {
	m, err := readMarker(l.markerPath(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if m.IsStale() {
		return nil, nil
	}
	return m, nil
}

func readMarker(path string) (*Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Marker
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse lock marker: %w", err)
	}
	return &m, nil
}

func writeMarker(path string, m *Marker) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal lock marker: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write lock marker: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename lock marker: %w", err)
	}
	return nil
}

// StoreLock is the exclusive whole-store lock held for the duration of a
// migration. Session mutations check it before proceeding.
type StoreLock struct {
	path  string
	owner string
	held  bool
	mu    sync.Mutex
}

// NewStoreLock creates a StoreLock rooted at the store's directory.
func NewStoreLock(dir, owner string) *StoreLock {
	if owner == "" {
		owner = DefaultOwner()
	}
	return &StoreLock{
		path:  filepath.Join(dir, "migrate.lock"),
		owner: owner,
	}
}

// Acquire takes the exclusive store lock, failing fast when another
// migration holds it.
func (s *StoreLock) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := readMarker(s.path)
	if err == nil && !existing.IsStale() {
		return sesherr.ErrStorage(
			fmt.Sprintf("store is locked for migration by %s", existing.Owner), nil)
	}
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read store lock: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	m := &Marker{
		Owner:    s.owner,
		Acquired: time.Now().UTC(),
		TTL:      DefaultTTL.String(),
		PID:      os.Getpid(),
	}
	if err := writeMarker(s.path, m); err != nil {
		return err
	}
	s.held = true
	return nil
}

// Release drops the store lock.
func (s *StoreLock) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.held {
		return nil
	}
	s.held = false
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove store lock: %w", err)
	}
	return nil
}

// IsHeld reports whether any live migration lock exists at the store.
func (s *StoreLock) IsHeld() bool {
	existing, err := readMarker(s.path)
	if err != nil {
		return false
	}
	return !existing.IsStale()
}
