// Package sqldocs exposes the event store DDL bundles directly from the docs
// tree. Both scripts are idempotent.
package sqldocs

import _ "embed"

// SQLite contains the SQLite DDL bundle.
//
//go:embed sqlite.sql
var SQLite string

// Postgres contains the Postgres DDL bundle.
//
//go:embed postgres.sql
var Postgres string
