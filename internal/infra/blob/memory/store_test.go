package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"tracecore/internal/blob/core"
)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	meta := map[string]string{"seed": "LOT-A"}
	info, err := s.Put(ctx, "archives/LOT-A/a.json", strings.NewReader(`{"ok":true}`), core.PutOptions{ContentType: "application/json", Metadata: meta})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["seed"] = "mutated"
	if info.Size != 11 || info.Metadata["seed"] != "LOT-A" || s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "archives/LOT-A/a.json", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := s.Put(ctx, " ", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
	if _, err := s.Put(ctx, "archives/LOT-B/b.csv", strings.NewReader("a,b"), core.PutOptions{}); err != nil {
		t.Fatalf("put b: %v", err)
	}

	got, rc, err := s.Get(ctx, "archives/LOT-A/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"ok":true}` || got.ContentType != "application/json" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}

	list, err := s.List(ctx, "archives/LOT-A/")
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %+v, %v", list, err)
	}
	if all, _ := s.List(ctx, ""); len(all) != 2 || all[0].Key != "archives/LOT-A/a.json" {
		t.Fatalf("expected sorted full listing, got %+v", all)
	}

	if u, err := s.PresignURL(ctx, "archives/LOT-A/a.json", core.SignedURLOptions{}); err != nil || u != "memory://blob/archives/LOT-A/a.json" {
		t.Fatalf("presign = %q, %v", u, err)
	}
	if _, err := s.PresignURL(ctx, "archives/LOT-A/a.json", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}

	if ok, _ := s.Delete(ctx, "archives/LOT-A/a.json"); !ok {
		t.Fatalf("expected delete to report existing blob")
	}
	if ok, _ := s.Delete(ctx, "archives/LOT-A/a.json"); ok {
		t.Fatalf("expected second delete to report missing blob")
	}
	if _, err := s.Head(ctx, "archives/LOT-A/a.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Put(ctx, "k", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
