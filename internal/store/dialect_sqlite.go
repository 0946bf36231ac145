package store

import (
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
// The search projection is an FTS5 virtual table.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) NowExpr() string { return "datetime('now')" }

func (d *SQLiteDialect) SchemaSQL() string {
	return sqliteSchemaSQL
}

func (d *SQLiteDialect) InExpr(field string, pb ParamBuilder, values []any) string {
	if len(values) == 0 {
		return "1=0" // always false
	}
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(phs, ", "))
}

func (d *SQLiteDialect) SearchPredicate(pb ParamBuilder, tokens []string) (string, string) {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		// Quote each token so FTS5 treats it literally, then mark it
		// as a prefix query.
		parts[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"*`
	}
	match := strings.Join(parts, " OR ")
	cond := fmt.Sprintf("files_search MATCH %s", pb.Add(match))
	// FTS5 rank is a negated bm25 score: smaller is more relevant.
	return cond, "files_search.rank"
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS files_sources (
    id           INTEGER PRIMARY KEY,
    slug         TEXT NOT NULL UNIQUE,
    storage_type TEXT NOT NULL,
    config       TEXT NOT NULL DEFAULT '{}',
    created_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS files (
    id           TEXT PRIMARY KEY,
    source_id    INTEGER NOT NULL REFERENCES files_sources(id),
    path         TEXT NOT NULL,
    filename     TEXT NOT NULL,
    content_type TEXT,
    content_hash TEXT,
    size         INTEGER,
    width        INTEGER,
    height       INTEGER,
    uploaded_by  TEXT,
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    metadata     TEXT NOT NULL DEFAULT '{}',
    search_text  TEXT NOT NULL DEFAULT '',
    UNIQUE(source_id, path)
);

CREATE INDEX IF NOT EXISTS idx_files_created_at ON files (created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS files_search USING fts5(
    file_id UNINDEXED,
    filename,
    content_type,
    search_text
);
`
