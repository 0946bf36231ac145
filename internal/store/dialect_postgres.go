package store

import (
	"fmt"
	"strings"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
// The search projection is a table with a generated tsvector column.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) NowExpr() string { return "NOW()" }

func (d *PostgresDialect) SchemaSQL() string {
	return pgSchemaSQL
}

func (d *PostgresDialect) InExpr(field string, pb ParamBuilder, values []any) string {
	if len(values) == 0 {
		return "1=0" // always false
	}
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(phs, ", "))
}

func (d *PostgresDialect) SearchPredicate(pb ParamBuilder, tokens []string) (string, string) {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = tok + ":*"
	}
	query := strings.Join(parts, " | ")
	cond := fmt.Sprintf("files_search.tsv @@ to_tsquery('simple', %s)", pb.Add(query))
	orderBy := fmt.Sprintf("ts_rank(files_search.tsv, to_tsquery('simple', %s)) DESC", pb.Add(query))
	return cond, orderBy
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	// With pgx/stdlib, the underlying error message includes the PG code
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "unique constraint") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

const pgSchemaSQL = `
CREATE TABLE IF NOT EXISTS files_sources (
    id           SERIAL PRIMARY KEY,
    slug         TEXT NOT NULL UNIQUE,
    storage_type TEXT NOT NULL,
    config       TEXT NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS files (
    id           TEXT PRIMARY KEY,
    source_id    INTEGER NOT NULL REFERENCES files_sources(id),
    path         TEXT NOT NULL,
    filename     TEXT NOT NULL,
    content_type TEXT,
    content_hash TEXT,
    size         BIGINT,
    width        INTEGER,
    height       INTEGER,
    uploaded_by  TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    metadata     TEXT NOT NULL DEFAULT '{}',
    search_text  TEXT NOT NULL DEFAULT '',
    UNIQUE(source_id, path)
);

CREATE INDEX IF NOT EXISTS idx_files_created_at ON files (created_at);

CREATE TABLE IF NOT EXISTS files_search (
    file_id      TEXT PRIMARY KEY,
    filename     TEXT NOT NULL DEFAULT '',
    content_type TEXT NOT NULL DEFAULT '',
    search_text  TEXT NOT NULL DEFAULT '',
    tsv          tsvector GENERATED ALWAYS AS (
        to_tsvector('simple', filename || ' ' || content_type || ' ' || search_text)
    ) STORED
);

CREATE INDEX IF NOT EXISTS idx_files_search_tsv ON files_search USING GIN (tsv);
`
