package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/retry"
	"github.com/randalmurphal/sesh/internal/session"
	"github.com/randalmurphal/sesh/internal/store/driver"
)

// sessionsDDL is dialect-neutral: TEXT columns and an RFC 3339 timestamp
// encoding keep SQLite and PostgreSQL byte-identical at the record level.
const sessionsDDL = `
CREATE TABLE IF NOT EXISTS sessions (
	name           TEXT PRIMARY KEY,
	repository_uri TEXT NOT NULL,
	workspace_path TEXT NOT NULL,
	branch_name    TEXT NOT NULL,
	task_id        TEXT NOT NULL DEFAULT '',
	backend_name   TEXT NOT NULL DEFAULT '',
	pr_branch_name TEXT NOT NULL DEFAULT '',
	pr_state       TEXT NOT NULL DEFAULT 'none',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_task_id ON sessions(task_id);
`

const sessionColumns = "name, repository_uri, workspace_path, branch_name, task_id, backend_name, pr_branch_name, pr_state, created_at, updated_at"

// DatabaseStore persists sessions in SQLite or PostgreSQL through the
// driver abstraction. Every mutation runs inside its own transaction;
// networked calls are wrapped in the retry policy.
type DatabaseStore struct {
	drv   driver.Driver
	kind  Kind
	dsn   string
	retry retry.Policy
}

// NewDatabaseStore opens a database-backed store and ensures the schema.
func NewDatabaseStore(ctx context.Context, kind Kind, dsn string, policy retry.Policy) (*DatabaseStore, error) {
	var dialect driver.Dialect
	switch kind {
	case KindSQLite:
		dialect = driver.DialectSQLite
		// SQLite is local; retrying connectivity errors buys nothing.
		policy = retry.NoRetry()
	case KindPostgres:
		dialect = driver.DialectPostgres
		if policy.MaxAttempts == 0 {
			policy = retry.DefaultPolicy()
		}
	default:
		return nil, sesherr.ErrValidation(
			fmt.Sprintf("backend %q is not database-backed", kind), "")
	}

	drv, err := driver.New(dialect)
	if err != nil {
		return nil, sesherr.ErrStorage("create database driver", err)
	}
	if err := drv.Open(dsn); err != nil {
		return nil, wrapDBError("open session database", err)
	}
	if err := drv.EnsureSchema(ctx, sessionsDDL); err != nil {
		_ = drv.Close()
		return nil, wrapDBError("ensure session schema", err)
	}
	return &DatabaseStore{drv: drv, kind: kind, dsn: dsn, retry: policy}, nil
}

// DSN returns the connection string (the db path for SQLite).
func (s *DatabaseStore) DSN() string { return s.dsn }

// Kind reports the backend kind.
func (s *DatabaseStore) Kind() Kind { return s.kind }

// Close closes the underlying connection.
func (s *DatabaseStore) Close() error { return s.drv.Close() }

// wrapDBError maps driver failures onto stable error codes: transient
// connectivity problems become TRANSIENT_ERROR so the retry policy can
// see them, everything else is STORAGE_ERROR.
func wrapDBError(what string, err error) error {
	if err == nil {
		return nil
	}
	if driver.IsTransient(err) {
		return sesherr.ErrTransient(what, err)
	}
	return sesherr.ErrStorage(what, err)
}

// placeholders builds "($1, $2, ...)" or "(?, ?, ...)" for n values.
func (s *DatabaseStore) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.drv.Placeholder(i + 1)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func recordArgs(rec *session.Record) []any {
	return []any{
		rec.Name,
		rec.RepositoryURI,
		rec.WorkspacePath,
		rec.BranchName,
		rec.TaskID,
		rec.BackendName,
		rec.PRBranchName,
		string(rec.PRState),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func scanRecord(scan func(dest ...any) error) (*session.Record, error) {
	var rec session.Record
	var prState, createdAt, updatedAt string
	if err := scan(
		&rec.Name, &rec.RepositoryURI, &rec.WorkspacePath, &rec.BranchName,
		&rec.TaskID, &rec.BackendName, &rec.PRBranchName, &prState,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	rec.PRState = session.PRState(prState)
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", rec.Name, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", rec.Name, err)
	}
	return &rec, nil
}

// List returns all records ordered by name.
func (s *DatabaseStore) List(ctx context.Context) ([]*session.Record, error) {
	var recs []*session.Record
	err := s.retry.Do(ctx, "store.list", func() error {
		rows, err := s.drv.Query(ctx,
			"SELECT "+sessionColumns+" FROM sessions ORDER BY name")
		if err != nil {
			return wrapDBError("list sessions", err)
		}
		defer rows.Close()

		recs = nil
		for rows.Next() {
			rec, err := scanRecord(rows.Scan)
			if err != nil {
				return sesherr.ErrStorage("scan session row", err)
			}
			recs = append(recs, rec)
		}
		if err := rows.Err(); err != nil {
			return wrapDBError("iterate session rows", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Get resolves a session by name first, then by task ID.
func (s *DatabaseStore) Get(ctx context.Context, nameOrTaskID string) (*session.Record, error) {
	var rec *session.Record
	err := s.retry.Do(ctx, "store.get", func() error {
		row := s.drv.QueryRow(ctx,
			"SELECT "+sessionColumns+" FROM sessions WHERE name = "+s.drv.Placeholder(1),
			nameOrTaskID)
		found, err := scanRecord(row.Scan)
		if err == nil {
			rec = found
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return wrapDBError("get session", err)
		}

		// Name lookup missed; fall back to task ID. Multiple sessions may
		// track the same task, so take the first by name for determinism.
		row = s.drv.QueryRow(ctx,
			"SELECT "+sessionColumns+" FROM sessions WHERE task_id = "+s.drv.Placeholder(1)+
				" AND task_id != '' ORDER BY name LIMIT 1",
			nameOrTaskID)
		found, err = scanRecord(row.Scan)
		if err == nil {
			rec = found
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return sesherr.ErrSessionNotFound(nameOrTaskID)
		}
		return wrapDBError("get session by task", err)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Create inserts a new validated record inside its own transaction.
func (s *DatabaseStore) Create(ctx context.Context, rec *session.Record) error {
	if err := rec.Validate(); err != nil {
		return sesherr.ErrValidation("invalid session record", err.Error())
	}
	return s.retry.Do(ctx, "store.create", func() error {
		tx, err := s.drv.BeginTx(ctx, nil)
		if err != nil {
			return wrapDBError("begin create transaction", err)
		}
		defer tx.Rollback()

		_, err = tx.Exec(ctx,
			"INSERT INTO sessions ("+sessionColumns+") VALUES "+s.placeholders(10),
			recordArgs(rec)...)
		if err != nil {
			if driver.IsUniqueViolation(err) {
				return sesherr.ErrValidation(
					fmt.Sprintf("session %s already exists", rec.Name),
					"Session names are unique within a store")
			}
			return wrapDBError("insert session", err)
		}
		if err := tx.Commit(); err != nil {
			return wrapDBError("commit create", err)
		}
		return nil
	})
}

// Update applies a patch in a read-patch-write transaction.
func (s *DatabaseStore) Update(ctx context.Context, name string, patch session.Patch) (*session.Record, error) {
	var updated *session.Record
	err := s.retry.Do(ctx, "store.update", func() error {
		tx, err := s.drv.BeginTx(ctx, nil)
		if err != nil {
			return wrapDBError("begin update transaction", err)
		}
		defer tx.Rollback()

		row := tx.QueryRow(ctx,
			"SELECT "+sessionColumns+" FROM sessions WHERE name = "+s.drv.Placeholder(1),
			name)
		rec, err := scanRecord(row.Scan)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sesherr.ErrSessionNotFound(name)
			}
			return wrapDBError("load session for update", err)
		}

		patch.Apply(rec)
		if err := rec.Validate(); err != nil {
			return sesherr.ErrValidation("patch produces invalid record", err.Error())
		}

		_, err = tx.Exec(ctx,
			"UPDATE sessions SET task_id = "+s.drv.Placeholder(1)+
				", pr_branch_name = "+s.drv.Placeholder(2)+
				", pr_state = "+s.drv.Placeholder(3)+
				", updated_at = "+s.drv.Placeholder(4)+
				" WHERE name = "+s.drv.Placeholder(5),
			rec.TaskID, rec.PRBranchName, string(rec.PRState),
			rec.UpdatedAt.UTC().Format(time.RFC3339Nano), name)
		if err != nil {
			return wrapDBError("update session", err)
		}
		if err := tx.Commit(); err != nil {
			return wrapDBError("commit update", err)
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a record by name.
func (s *DatabaseStore) Delete(ctx context.Context, name string) error {
	return s.retry.Do(ctx, "store.delete", func() error {
		res, err := s.drv.Exec(ctx,
			"DELETE FROM sessions WHERE name = "+s.drv.Placeholder(1), name)
		if err != nil {
			return wrapDBError("delete session", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return wrapDBError("delete session", err)
		}
		if affected == 0 {
			return sesherr.ErrSessionNotFound(name)
		}
		return nil
	})
}

// ReplaceAll swaps the full record set in a single transaction, so a
// reader never observes a partially migrated store.
func (s *DatabaseStore) ReplaceAll(ctx context.Context, recs []*session.Record) error {
	return s.retry.Do(ctx, "store.replace_all", func() error {
		tx, err := s.drv.BeginTx(ctx, nil)
		if err != nil {
			return wrapDBError("begin replace transaction", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec(ctx, "DELETE FROM sessions"); err != nil {
			return wrapDBError("clear sessions", err)
		}
		for _, rec := range recs {
			_, err := tx.Exec(ctx,
				"INSERT INTO sessions ("+sessionColumns+") VALUES "+s.placeholders(10),
				recordArgs(rec)...)
			if err != nil {
				if driver.IsUniqueViolation(err) {
					return sesherr.ErrValidation(
						fmt.Sprintf("duplicate session name %s in replacement set", rec.Name), "")
				}
				return wrapDBError("insert session", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return wrapDBError("commit replace", err)
		}
		return nil
	})
}
