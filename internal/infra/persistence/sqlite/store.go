// Package sqlite opens the SQL event store over a single SQLite file.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"tracecore/internal/infra/persistence/sqlstore"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "tracecore.db"

// Open creates (if needed) and opens the SQLite database at path and applies
// the bootstrap schema.
func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY during seed.
	db.SetMaxOpenConns(1)
	store := sqlstore.New(db, sqlstore.SQLite)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
