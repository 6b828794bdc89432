package core

import (
	"context"
	"fmt"
	"io"
	"strings"

	"tracecore/internal/infra/persistence/fixture"
	"tracecore/internal/infra/persistence/memory"
	"tracecore/internal/infra/persistence/postgres"
	"tracecore/internal/infra/persistence/sqlite"
	"tracecore/pkg/domain"
)

// StorageDriver identifies a concrete event store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory, optionally loaded from a YAML fixture
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// EventStore is what the engine, the reconciliation job and the CLI need from
// a backend.
type EventStore interface {
	domain.EventReader
	domain.LotLister
	domain.StockCacheWriter
	io.Closer
}

// StorageConfig selects and parameterises a backend. It mirrors the storage.*
// configuration keys:
//
//	storage.driver: memory|sqlite|postgres (default sqlite)
//	storage.sqlite_path: path to the sqlite file (default ./tracecore.db)
//	storage.postgres_dsn: DSN when driver=postgres
//	storage.fixture_path: YAML fixture loaded when driver=memory
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
	FixturePath string
}

// OpenEventStore opens the configured backend. Defaults to sqlite when unset.
func OpenEventStore(ctx context.Context, cfg StorageConfig) (EventStore, error) {
	driver := StorageDriver(strings.ToLower(strings.TrimSpace(string(cfg.Driver))))
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		if cfg.FixturePath == "" {
			return memory.NewStore(), nil
		}
		ds, err := fixture.LoadFile(cfg.FixturePath)
		if err != nil {
			return nil, err
		}
		store, err := memory.NewStoreFromDataset(ds)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StorageSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
