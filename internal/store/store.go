// Package store persists session records across three interchangeable
// backends: a flat JSON file, an embedded SQLite database, and a
// networked PostgreSQL database. All backends present the same
// interface and the same observable behavior, so callers never branch
// on the backend kind.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/retry"
	"github.com/randalmurphal/sesh/internal/session"
)

// Kind identifies a storage backend.
type Kind string

const (
	KindFile     Kind = "file"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

// ValidKinds returns all supported backend kinds.
func ValidKinds() []Kind {
	return []Kind{KindFile, KindSQLite, KindPostgres}
}

// IsValidKind returns true if k names a supported backend.
func IsValidKind(k Kind) bool {
	switch k {
	case KindFile, KindSQLite, KindPostgres:
		return true
	default:
		return false
	}
}

// ParseKind parses a backend kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !IsValidKind(k) {
		return "", sesherr.ErrValidation(
			fmt.Sprintf("unknown store backend %q", s),
			"Supported backends: file, sqlite, postgres")
	}
	return k, nil
}

// Config selects and parameterizes a backend.
type Config struct {
	Kind  Kind         `yaml:"kind"`
	Path  string       `yaml:"path,omitempty"` // file path or sqlite db path
	DSN   string       `yaml:"dsn,omitempty"`  // postgres connection string
	Retry retry.Policy `yaml:"-"`
}

// Store is the backend-agnostic session persistence interface.
// Lookups accept either a session name or a task ID; names win when a
// value could be both. Mutations are atomic per call: a failed call
// leaves the store exactly as it was.
type Store interface {
	// List returns all session records ordered by name.
	List(ctx context.Context) ([]*session.Record, error)

	// Get resolves a session by name first, then by task ID.
	// Returns SESSION_NOT_FOUND if neither matches.
	Get(ctx context.Context, nameOrTaskID string) (*session.Record, error)

	// Create inserts a new record. A duplicate name is a
	// VALIDATION_ERROR, as is a record that fails schema validation.
	Create(ctx context.Context, rec *session.Record) error

	// Update applies a patch to an existing record.
	Update(ctx context.Context, name string, patch session.Patch) (*session.Record, error)

	// Delete removes a record. Missing records are SESSION_NOT_FOUND.
	Delete(ctx context.Context, name string) error

	// ReplaceAll swaps the full record set in a single atomic write.
	// Used by migration; not exposed on the CLI.
	ReplaceAll(ctx context.Context, recs []*session.Record) error

	// Kind reports which backend this store is.
	Kind() Kind

	// Close releases backend resources.
	Close() error
}

// sortRecords orders records by name so every backend lists
// deterministically.
func sortRecords(recs []*session.Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
}

// Checksum computes a content hash over a record set that is stable
// across backends and record order. Migration uses it to verify that
// the destination holds exactly the source's logical content.
func Checksum(recs []*session.Record) (string, error) {
	sorted := make([]*session.Record, len(recs))
	copy(sorted, recs)
	sortRecords(sorted)

	h := sha256.New()
	for _, rec := range sorted {
		// Canonical JSON: struct field order is fixed, so encoding the
		// record directly is deterministic.
		data, err := json.Marshal(rec)
		if err != nil {
			return "", fmt.Errorf("marshal record %s: %w", rec.Name, err)
		}
		h.Write(data)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// resolveByNameOrTask implements the shared lookup precedence over an
// already-loaded record set.
func resolveByNameOrTask(recs []*session.Record, nameOrTaskID string) *session.Record {
	for _, rec := range recs {
		if rec.Name == nameOrTaskID {
			return rec
		}
	}
	for _, rec := range recs {
		if rec.TaskID != "" && rec.TaskID == nameOrTaskID {
			return rec
		}
	}
	return nil
}
