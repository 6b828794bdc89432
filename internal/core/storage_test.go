package core

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"tracecore/pkg/domain"
	"tracecore/testutil"
)

func TestOpenEventStoreMemoryFixture(t *testing.T) {
	ctx := context.Background()
	store, err := OpenEventStore(ctx, StorageConfig{
		Driver:      "Memory",
		FixturePath: "../infra/persistence/fixture/testdata/simple_chain.yaml",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	stock, err := NewService(store).ComputeStock(ctx, "LOT-A")
	if err != nil {
		t.Fatalf("compute stock: %v", err)
	}
	if !stock.CurrentStock.Equal(qty(600)) {
		t.Fatalf("expected 600 from fixture, got %s", stock.CurrentStock)
	}
}

func TestOpenEventStoreDrivers(t *testing.T) {
	ctx := context.Background()
	empty, err := OpenEventStore(ctx, StorageConfig{Driver: StorageMemory})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, err := empty.GetLot(ctx, "LOT-A"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected empty memory store, got %v", err)
	}

	sqlStore, err := OpenEventStore(ctx, StorageConfig{SQLitePath: filepath.Join(t.TempDir(), "trace.db")})
	if err != nil {
		t.Fatalf("open default sqlite: %v", err)
	}
	if err := sqlStore.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := OpenEventStore(ctx, StorageConfig{Driver: "mongo"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := OpenEventStore(ctx, StorageConfig{Driver: StorageMemory, FixturePath: "missing.yaml"}); err == nil {
		t.Fatalf("expected missing fixture error")
	}
}

func TestEngineDoesNotImportBackendClients(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.BackendImportForbidden,
		"the engine reads through domain.EventReader; backend clients live under internal/infra")
}
