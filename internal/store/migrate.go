package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/lock"
	"github.com/randalmurphal/sesh/internal/session"
)

// QuarantinedRecord is a source record excluded from migration, kept
// verbatim so nothing is silently lost.
type QuarantinedRecord struct {
	File   string `json:"file"`   // quarantine file holding the raw record
	Reason string `json:"reason"` // why it was excluded
	Name   string `json:"name"`   // best-effort session name, may be empty
}

// MigrationResult summarizes a completed migration.
type MigrationResult struct {
	Source      Kind
	Destination Kind
	Migrated    int
	Quarantined []QuarantinedRecord
	Checksum    string
	Snapshot    string // path of the pre-migration snapshot, if taken
}

// MigrateOptions configures a migration run.
type MigrateOptions struct {
	// Backup snapshots the source's on-disk artifact before the
	// destination is written. Postgres sources have nothing local to
	// snapshot and skip it regardless.
	Backup bool
}

// Migrator moves the full record set between backends. The whole-store
// lock is held for the duration, so no session mutation can interleave.
type Migrator struct {
	dir    string // metadata directory (.sesh)
	locker *lock.StoreLock
}

// NewMigrator creates a migrator rooted at the metadata directory.
func NewMigrator(dir string) *Migrator {
	return &Migrator{
		dir:    dir,
		locker: lock.NewStoreLock(dir, ""),
	}
}

// Migrate copies every valid record from src to dst, quarantining
// records that fail validation. The destination is written in a single
// atomic replacement and verified by count and checksum afterwards.
// The source is never modified.
func (m *Migrator) Migrate(ctx context.Context, src, dst Store, opts MigrateOptions) (*MigrationResult, error) {
	if src.Kind() == dst.Kind() {
		return nil, sesherr.ErrValidation(
			fmt.Sprintf("source and destination are both %s", src.Kind()),
			"Migration moves records between different backends")
	}

	if err := m.locker.Acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err := m.locker.Release(); err != nil {
			slog.Warn("release migration lock", "error", err)
		}
	}()

	result := &MigrationResult{Source: src.Kind(), Destination: dst.Kind()}

	recs, quarantined, err := m.loadSource(ctx, src)
	if err != nil {
		return nil, err
	}
	result.Quarantined = quarantined

	if opts.Backup {
		snapshot, err := m.snapshotSource(src)
		if err != nil {
			return nil, err
		}
		result.Snapshot = snapshot
	}

	if err := dst.ReplaceAll(ctx, recs); err != nil {
		return nil, sesherr.ErrStorage("write destination store", err)
	}

	// Verify: the destination must hold exactly the source's logical
	// content before we report success.
	wantSum, err := Checksum(recs)
	if err != nil {
		return nil, sesherr.ErrStorage("checksum source records", err)
	}
	got, err := dst.List(ctx)
	if err != nil {
		return nil, sesherr.ErrStorage("read back destination store", err)
	}
	if len(got) != len(recs) {
		return nil, sesherr.ErrStorage(fmt.Sprintf(
			"migration verification failed: wrote %d records, destination holds %d",
			len(recs), len(got)), nil)
	}
	gotSum, err := Checksum(got)
	if err != nil {
		return nil, sesherr.ErrStorage("checksum destination records", err)
	}
	if gotSum != wantSum {
		return nil, sesherr.ErrStorage(
			"migration verification failed: destination checksum mismatch", nil)
	}

	result.Migrated = len(recs)
	result.Checksum = wantSum

	slog.Info("store migration complete",
		"source", result.Source, "destination", result.Destination,
		"migrated", result.Migrated, "quarantined", len(result.Quarantined))
	return result, nil
}

// loadSource reads all records from the source, quarantining those that
// fail validation. When the source is a flat file too damaged to parse
// strictly, readable records are salvaged leniently rather than failing
// the whole migration.
func (m *Migrator) loadSource(ctx context.Context, src Store) ([]*session.Record, []QuarantinedRecord, error) {
	recs, err := src.List(ctx)
	if err != nil {
		fs, ok := src.(*FileStore)
		if !ok || !sesherr.IsCode(err, sesherr.CodeStorageError) {
			return nil, nil, err
		}
		return m.salvageFile(fs)
	}

	var valid []*session.Record
	var quarantined []QuarantinedRecord
	for _, rec := range recs {
		if verr := rec.Validate(); verr != nil {
			q, qerr := m.quarantine(rec, verr.Error())
			if qerr != nil {
				return nil, nil, qerr
			}
			quarantined = append(quarantined, q)
			continue
		}
		valid = append(valid, rec)
	}
	return valid, quarantined, nil
}

// salvageFile recovers what it can from a flat file whose document no
// longer parses as a whole. Individual array elements that are valid
// records are kept; everything else is quarantined raw.
func (m *Migrator) salvageFile(fs *FileStore) ([]*session.Record, []QuarantinedRecord, error) {
	data, err := fs.RawDocument()
	if err != nil {
		return nil, nil, err
	}

	sessions := gjson.GetBytes(data, "sessions")
	if !sessions.Exists() || !sessions.IsArray() {
		return nil, nil, sesherr.ErrStorage(
			fmt.Sprintf("session file %s has no recoverable sessions array", fs.Path()), nil)
	}

	var valid []*session.Record
	var quarantined []QuarantinedRecord
	var salvageErr error
	sessions.ForEach(func(_, elem gjson.Result) bool {
		var rec session.Record
		if err := json.Unmarshal([]byte(elem.Raw), &rec); err != nil {
			q, qerr := m.quarantineRaw([]byte(elem.Raw), elem.Get("name").String(),
				"record does not parse: "+err.Error())
			if qerr != nil {
				salvageErr = qerr
				return false
			}
			quarantined = append(quarantined, q)
			return true
		}
		if err := rec.Validate(); err != nil {
			q, qerr := m.quarantine(&rec, err.Error())
			if qerr != nil {
				salvageErr = qerr
				return false
			}
			quarantined = append(quarantined, q)
			return true
		}
		valid = append(valid, &rec)
		return true
	})
	if salvageErr != nil {
		return nil, nil, salvageErr
	}

	slog.Warn("salvaged damaged session file",
		"path", fs.Path(), "recovered", len(valid), "quarantined", len(quarantined))
	return valid, quarantined, nil
}

func (m *Migrator) quarantine(rec *session.Record, reason string) (QuarantinedRecord, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return QuarantinedRecord{}, sesherr.ErrStorage("encode quarantined record", err)
	}
	return m.quarantineRaw(data, rec.Name, reason)
}

func (m *Migrator) quarantineRaw(data []byte, name, reason string) (QuarantinedRecord, error) {
	qdir := filepath.Join(m.dir, "quarantine")
	if err := os.MkdirAll(qdir, 0o755); err != nil {
		return QuarantinedRecord{}, sesherr.ErrStorage("create quarantine dir", err)
	}
	file := filepath.Join(qdir, uuid.NewString()+".json")
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return QuarantinedRecord{}, sesherr.ErrStorage("write quarantined record", err)
	}
	slog.Warn("quarantined session record", "name", name, "reason", reason, "file", file)
	return QuarantinedRecord{File: file, Reason: reason, Name: name}, nil
}

// snapshotSource copies the source's on-disk artifact into a timestamped
// snapshot directory before the destination is written. Postgres sources
// have no local artifact to snapshot.
func (m *Migrator) snapshotSource(src Store) (string, error) {
	var artifact string
	switch s := src.(type) {
	case *FileStore:
		artifact = s.Path()
	case *DatabaseStore:
		if s.Kind() != KindSQLite {
			return "", nil
		}
		// The sqlite DSN is the db path.
		artifact = s.DSN()
		if _, err := os.Stat(artifact); err != nil {
			return "", nil
		}
	default:
		return "", nil
	}

	sdir := filepath.Join(m.dir, "snapshots", time.Now().UTC().Format("20060102-150405"))
	if err := os.MkdirAll(sdir, 0o755); err != nil {
		return "", sesherr.ErrStorage("create snapshot dir", err)
	}
	dst := filepath.Join(sdir, filepath.Base(artifact))
	if err := copyFile(artifact, dst); err != nil {
		return "", sesherr.ErrStorage("snapshot source store", err)
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
