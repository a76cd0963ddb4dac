package store

import (
	"context"
	"path/filepath"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
)

// Default locations inside the metadata directory.
const (
	DefaultFileName   = "sessions.json"
	DefaultSQLiteName = "sesh.db"
)

// DefaultConfig returns the flat-file backend rooted at dir, the
// out-of-the-box setup.
func DefaultConfig(dir string) Config {
	return Config{
		Kind: KindFile,
		Path: filepath.Join(dir, DefaultFileName),
	}
}

// Open creates a store for the given config. Missing paths get their
// conventional defaults relative to dir.
func Open(ctx context.Context, dir string, cfg Config) (Store, error) {
	switch cfg.Kind {
	case KindFile:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(dir, DefaultFileName)
		}
		return NewFileStore(path)
	case KindSQLite:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(dir, DefaultSQLiteName)
		}
		return NewDatabaseStore(ctx, KindSQLite, path, cfg.Retry)
	case KindPostgres:
		if cfg.DSN == "" {
			return nil, sesherr.ErrValidation(
				"postgres backend requires a DSN",
				"Set store.dsn in the config or SESH_STORE_DSN in the environment")
		}
		return NewDatabaseStore(ctx, KindPostgres, cfg.DSN, cfg.Retry)
	default:
		return nil, sesherr.ErrValidation(
			string("unknown store backend "+cfg.Kind),
			"Supported backends: file, sqlite, postgres")
	}
}
