package domain

import (
	"testing"

	"tracecore/testutil"
)

// TestDomainDoesNotImportInternal keeps the record types usable by presentation
// and reporting consumers without pulling in engine or backend packages.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "pkg/domain is a public contract")
	testutil.AssertNoDirectImports(t, ".", testutil.BackendImportForbidden, "pkg/domain stays storage agnostic")
}
