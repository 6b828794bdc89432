package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, _ ...any) { r.msg = format }

func TestDirectImportViolationsFindsForbiddenImports(t *testing.T) {
	dir := t.TempDir()
	src := "package x\n\nimport (\n\t\"fmt\"\n\t\"github.com/redis/go-redis/v9\"\n)\n\nvar _ = fmt.Sprint\nvar _ = redis.Nil\n"
	if err := os.WriteFile(filepath.Join(dir, "x.go"), []byte(src), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "x_test.go"), []byte("package x\n\nimport \"database/sql\"\n\nvar _ sql.DB\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	viols, err := directImportViolations(dir, BackendImportForbidden)
	if err != nil {
		t.Fatalf("directImportViolations: %v", err)
	}
	if len(viols) != 1 || !strings.HasPrefix(viols[0], "github.com/redis/go-redis/v9") {
		t.Fatalf("expected only the non-test redis import, got %v", viols)
	}

	rec := &recordingFatal{}
	failIfDirectViolations(rec, "reason", viols)
	if rec.msg == "" {
		t.Fatalf("expected violations to fail")
	}
}

func TestPredicates(t *testing.T) {
	if !InternalImportForbidden("tracecore/internal/core") {
		t.Fatalf("expected internal path to be forbidden")
	}
	if InternalImportForbidden("tracecore/pkg/domain") {
		t.Fatalf("expected pkg path to be allowed")
	}
	if BackendImportForbidden("github.com/shopspring/decimal") {
		t.Fatalf("decimal is not a backend client")
	}
}
