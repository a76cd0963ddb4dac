package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/session"
	"github.com/randalmurphal/sesh/internal/util"
)

// fileFormatVersion is bumped when the document layout changes.
const fileFormatVersion = 1

// fileDocument is the on-disk shape of the flat-file backend: one JSON
// document holding every session.
type fileDocument struct {
	Version  int               `json:"version"`
	Sessions []*session.Record `json:"sessions"`
}

// FileStore persists sessions in a single JSON file. Every mutation is
// a read-modify-write of the whole document under an advisory lock
// file, written back atomically via temp-file-and-rename.
type FileStore struct {
	path string
	mu   sync.Mutex // serializes writers within this process
}

// NewFileStore opens (or initializes) a flat-file store at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(&fileDocument{Version: fileFormatVersion}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Kind reports the backend kind.
func (s *FileStore) Kind() Kind { return KindFile }

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

// Path returns the document path. Migration uses it for snapshots.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) load() (*fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileDocument{Version: fileFormatVersion}, nil
		}
		return nil, sesherr.ErrStorage("read session file", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, sesherr.ErrStorage(
			fmt.Sprintf("session file %s is not valid JSON", s.path), err)
	}
	if doc.Version > fileFormatVersion {
		return nil, sesherr.ErrStorage(
			fmt.Sprintf("session file version %d is newer than supported version %d",
				doc.Version, fileFormatVersion), nil)
	}
	return &doc, nil
}

func (s *FileStore) save(doc *fileDocument) error {
	doc.Version = fileFormatVersion
	sortRecords(doc.Sessions)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return sesherr.ErrStorage("encode session file", err)
	}
	data = append(data, '\n')
	if err := util.AtomicWriteFile(s.path, data, 0o644); err != nil {
		return sesherr.ErrStorage("write session file", err)
	}
	return nil
}

// lockPath is the advisory lock guarding cross-process read-modify-write.
func (s *FileStore) lockPath() string {
	return s.path + ".lock"
}

// acquireFileLock takes the cross-process advisory lock with a bounded
// wait. Stale locks older than a minute are broken: a crashed writer
// never finishes a mutation in that window.
func (s *FileStore) acquireFileLock() (release func(), err error) {
	lockFile := s.lockPath()
	deadline := time.Now().Add(5 * time.Second)
	for {
		f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(lockFile) }, nil
		}
		if !os.IsExist(err) {
			return nil, sesherr.ErrStorage("create session file lock", err)
		}
		if info, statErr := os.Stat(lockFile); statErr == nil &&
			time.Since(info.ModTime()) > time.Minute {
			_ = os.Remove(lockFile)
			continue
		}
		if time.Now().After(deadline) {
			return nil, sesherr.ErrStorage(
				fmt.Sprintf("session file is locked by another process (%s)", lockFile), nil)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// mutate runs fn against the current document and writes the result
// back, all under both locks. fn mutating and then failing leaves the
// file untouched.
func (s *FileStore) mutate(fn func(doc *fileDocument) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := s.acquireFileLock()
	if err != nil {
		return err
	}
	defer release()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(doc)
}

// List returns all records ordered by name.
func (s *FileStore) List(ctx context.Context) ([]*session.Record, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	sortRecords(doc.Sessions)
	out := make([]*session.Record, len(doc.Sessions))
	for i, rec := range doc.Sessions {
		out[i] = rec.Clone()
	}
	return out, nil
}

// Get resolves a session by name, then by task ID.
func (s *FileStore) Get(ctx context.Context, nameOrTaskID string) (*session.Record, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	if rec := resolveByNameOrTask(doc.Sessions, nameOrTaskID); rec != nil {
		return rec.Clone(), nil
	}
	return nil, sesherr.ErrSessionNotFound(nameOrTaskID)
}

// Create inserts a new validated record.
func (s *FileStore) Create(ctx context.Context, rec *session.Record) error {
	if err := rec.Validate(); err != nil {
		return sesherr.ErrValidation("invalid session record", err.Error())
	}
	return s.mutate(func(doc *fileDocument) error {
		for _, existing := range doc.Sessions {
			if existing.Name == rec.Name {
				return sesherr.ErrValidation(
					fmt.Sprintf("session %s already exists", rec.Name),
					"Session names are unique within a store")
			}
		}
		doc.Sessions = append(doc.Sessions, rec.Clone())
		return nil
	})
}

// Update applies a patch to an existing record.
func (s *FileStore) Update(ctx context.Context, name string, patch session.Patch) (*session.Record, error) {
	var updated *session.Record
	err := s.mutate(func(doc *fileDocument) error {
		for _, rec := range doc.Sessions {
			if rec.Name == name {
				patch.Apply(rec)
				if err := rec.Validate(); err != nil {
					return sesherr.ErrValidation("patch produces invalid record", err.Error())
				}
				updated = rec.Clone()
				return nil
			}
		}
		return sesherr.ErrSessionNotFound(name)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a record by name.
func (s *FileStore) Delete(ctx context.Context, name string) error {
	return s.mutate(func(doc *fileDocument) error {
		for i, rec := range doc.Sessions {
			if rec.Name == name {
				doc.Sessions = append(doc.Sessions[:i], doc.Sessions[i+1:]...)
				return nil
			}
		}
		return sesherr.ErrSessionNotFound(name)
	})
}

// ReplaceAll swaps the full record set in one atomic document write.
func (s *FileStore) ReplaceAll(ctx context.Context, recs []*session.Record) error {
	return s.mutate(func(doc *fileDocument) error {
		doc.Sessions = make([]*session.Record, len(recs))
		for i, rec := range recs {
			doc.Sessions[i] = rec.Clone()
		}
		return nil
	})
}

// RawDocument returns the raw bytes of the on-disk document, used by
// migration for lenient salvage of damaged files.
func (s *FileStore) RawDocument() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, sesherr.ErrStorage("read session file", err)
	}
	return data, nil
}

// Dir returns the directory holding the session file.
func (s *FileStore) Dir() string {
	return filepath.Dir(s.path)
}
