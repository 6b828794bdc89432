package blob

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "blobs")
	fsStore, err := Open(ctx, Config{Root: root})
	if err != nil {
		t.Fatalf("open default: %v", err)
	}
	if fsStore.Driver() != DriverFilesystem {
		t.Fatalf("expected fs default, got %s", fsStore.Driver())
	}

	mem, err := Open(ctx, Config{Driver: " Memory "})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("open memory: %v", err)
	}
	if _, err := mem.Put(ctx, "k", bytes.NewReader([]byte("x")), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := mem.Put(ctx, "k", bytes.NewReader([]byte("x")), PutOptions{}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	s3Store, err := Open(ctx, Config{Driver: "s3", Bucket: "archives", Endpoint: "http://localhost:9000", AccessKeyID: "minio", SecretAccessKey: "minio123"})
	if err != nil || s3Store.Driver() != DriverS3 {
		t.Fatalf("open s3: %v", err)
	}
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Config{Driver: "gcs"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, Config{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
