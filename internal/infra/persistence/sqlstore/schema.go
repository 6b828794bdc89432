package sqlstore

import (
	"context"
	"fmt"
	"strings"

	sqldocs "tracecore/docs/schema/sql"
)

// Schema returns the bootstrap DDL for the dialect.
func Schema(d Dialect) string {
	if d == Postgres {
		return sqldocs.Postgres
	}
	return sqldocs.SQLite
}

// SplitStatements splits a DDL script on statement terminators, dropping
// "--" line comments.
func SplitStatements(script string) []string {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EnsureSchema applies the bootstrap DDL. Every statement is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range SplitStatements(Schema(s.dialect)) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}
